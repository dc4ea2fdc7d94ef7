// Package rtsp implements the RTSP negotiator: a TCP listener
// that accepts one request per connection (Moonlight opens a fresh
// connection per command) and dispatches OPTIONS/DESCRIBE/SETUP/
// ANNOUNCE/PLAY, finalizing a StreamSession's negotiated parameters.
package rtsp

import (
	"bufio"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/gowolf/streamhost/eventbus"
	"github.com/gowolf/streamhost/session"
)

const sessionIDHex = "DEADBEEFCAFE"

// Server is the RTSP negotiator. One Server per host process, shared
// across every StreamSession.
type Server struct {
	listener    net.Listener
	registry    *session.Registry
	bus         *eventbus.Bus
	supportHEVC bool
}

// NewServer wraps ln, resolving sessions from registry by the
// connecting client's IP and publishing negotiation events on bus.
func NewServer(ln net.Listener, registry *session.Registry, bus *eventbus.Bus, supportHEVC bool) *Server {
	return &Server{listener: ln, registry: registry, bus: bus, supportHEVC: supportHEVC}
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	req, err := ReadRequest(r)
	if err != nil {
		log.Debug().Err(err).Msg("rtsp: read request")
		return
	}

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	clientIP := net.ParseIP(host)

	sess, _ := s.registry.LookupByIP(clientIP)
	resp := s.dispatch(req, sess)
	conn.Write([]byte(resp))
}

func (s *Server) dispatch(req Request, sess *session.StreamSession) string {
	switch req.Method {
	case "OPTIONS":
		return statusLine(200, "OK", req.CSeq, "")
	case "DESCRIBE":
		if sess == nil {
			return statusLine(404, "NOT FOUND", req.CSeq, "")
		}
		body := BuildDescribeBody(sess, s.supportHEVC)
		return statusLine(200, "OK", req.CSeq, body)
	case "SETUP":
		return s.handleSetup(req, sess)
	case "ANNOUNCE":
		return s.handleAnnounce(req, sess)
	case "PLAY":
		if sess != nil && s.bus != nil {
			s.bus.Publish(eventbus.Event{Kind: eventbus.StreamStart, SessionID: sess.ID})
		}
		return statusLine(200, "OK", req.CSeq, "")
	default:
		return statusLine(404, "NOT FOUND", req.CSeq, "")
	}
}

func (s *Server) handleSetup(req Request, sess *session.StreamSession) string {
	if sess == nil {
		return statusLine(404, "NOT FOUND", req.CSeq, "")
	}
	streamID, _ := targetParam(req.Target, "streamid")
	var port int
	switch {
	case len(streamID) >= 5 && streamID[:5] == "audio":
		port = sess.Ports.Audio
	case len(streamID) >= 7 && streamID[:7] == "control":
		port = sess.Ports.Control
	default:
		port = sess.Ports.Video
	}
	extra := fmt.Sprintf("Session: %s;timeout=90\r\nTransport: server_port=%s\r\n", sessionIDHex, formatInt(port))
	return statusLineWithHeaders(200, "OK", req.CSeq, extra, "")
}

func (s *Server) handleAnnounce(req Request, sess *session.StreamSession) string {
	if sess == nil {
		return statusLine(404, "NOT FOUND", req.CSeq, "")
	}
	params, err := ParseAnnounceBody(req.Body)
	if err != nil {
		log.Debug().Err(err).Msg("rtsp: parse ANNOUNCE body")
		return statusLine(404, "NOT FOUND", req.CSeq, "")
	}

	sess.Display.Width = params.VideoWidth
	sess.Display.Height = params.VideoHeight
	sess.Display.RefreshRate = params.RefreshRate
	if params.AudioChannels > 0 {
		sess.Audio.Channels = params.AudioChannels
	}
	if params.AudioStreams > 0 {
		sess.Audio.Streams = params.AudioStreams
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Kind: eventbus.ControlSessionOpening, SessionID: sess.ID, Payload: params})
	}
	return statusLine(200, "OK", req.CSeq, "")
}

func statusLine(code int, reason, cseq, body string) string {
	return statusLineWithHeaders(code, reason, cseq, "", body)
}

func statusLineWithHeaders(code int, reason, cseq, extraHeaders, body string) string {
	return fmt.Sprintf("RTSP/1.0 %d %s\r\nCSeq: %s\r\n%sContent-Length: %d\r\n\r\n%s",
		code, reason, cseq, extraHeaders, len(body), body)
}
