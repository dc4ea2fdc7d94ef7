// Package apiserver implements the HTTP(S) surface: /serverinfo,
// /pair, /applist, /launch, /resume, /cancel, /appasset, mTLS with
// per-request client-cert authorization, and the unix-socket
// management API.
package apiserver

import (
	"encoding/xml"
	"net/http"
	"strconv"
)

// statusCode values used across every XML response. Success is the
// literal 200 Moonlight clients check the status_code attribute for.
const (
	StatusOK           = 200
	StatusUnauthorized = 401
	StatusBusy         = 503
)

// root is the XML envelope every response wraps its payload in:
// a single element named "root" with a status_code attribute.
type root struct {
	XMLName    xml.Name `xml:"root"`
	StatusCode int      `xml:"status_code,attr"`
	Inner      any
}

// writeXML renders status and inner (whose fields become root's
// children) as the standard `<root status_code="N">...</root>`
// envelope and writes it with the application/xml content type.
func writeXML(w http.ResponseWriter, status int, inner any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))

	enc := xml.NewEncoder(w)
	start := xml.StartElement{
		Name: xml.Name{Local: "root"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "status_code"}, Value: strconv.Itoa(status)}},
	}
	enc.EncodeElement(inner, start)
	enc.Flush()
}
