package apiserver

import (
	"io"
	"net/http"
	"os"
)

type appXML struct {
	ID             string `xml:"ID"`
	AppTitle       string `xml:"AppTitle"`
	IsHdrSupported int    `xml:"IsHdrSupported"`
}

type appListXML struct {
	Apps []appXML `xml:"App"`
}

// AppListHandler serves GET /applist: the app catalog as repeated App
// elements under the root envelope.
func (s *Server) AppListHandler(w http.ResponseWriter, r *http.Request) {
	apps := s.catalog.All()
	out := appListXML{Apps: make([]appXML, 0, len(apps))}
	for _, a := range apps {
		hdr := 0
		if a.HDR {
			hdr = 1
		}
		out.Apps = append(out.Apps, appXML{ID: a.ID, AppTitle: a.Title, IsHdrSupported: hdr})
	}
	writeXML(w, StatusOK, out)
}

// AppAssetHandler serves GET /appasset: the requested app's icon PNG,
// streamed with its native content type, or a 404 envelope when the
// app has no icon configured.
func (s *Server) AppAssetHandler(w http.ResponseWriter, r *http.Request) {
	appID := r.URL.Query().Get("appid")
	app, ok := s.catalog.Lookup(appID)
	if !ok || app.IconPath == "" {
		writeXML(w, 404, struct{}{})
		return
	}

	f, err := os.Open(app.IconPath)
	if err != nil {
		writeXML(w, 404, struct{}{})
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}
