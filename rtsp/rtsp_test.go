package rtsp

import (
	"bufio"
	"strings"
	"testing"

	"github.com/gowolf/streamhost/catalog"
	"github.com/gowolf/streamhost/session"
)

func TestReadRequestOptions(t *testing.T) {
	raw := "OPTIONS rtsp://host/ RTSP/1.0\r\nCSeq: 1\r\n\r\n"
	req, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if req.Method != "OPTIONS" || req.CSeq != "1" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestReadRequestAnnounceWithBody(t *testing.T) {
	body := "a=x-nv-video[0].clientViewportWd:1920\r\na=x-nv-video[0].clientViewportHt:1080\r\n"
	raw := "ANNOUNCE rtsp://host/ RTSP/1.0\r\nCSeq: 2\r\nContent-Length: " +
		formatInt(len(body)) + "\r\n\r\n" + body
	req, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if req.Method != "ANNOUNCE" || req.Body != body {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestParseAnnounceBody(t *testing.T) {
	body := "a=x-nv-video[0].clientViewportWd:1920\r\n" +
		"a=x-nv-video[0].clientViewportHt:1080\r\n" +
		"a=x-nv-video[0].maxFPS:60\r\n" +
		"a=x-nv-vqos[0].fec.percentage:20\r\n" +
		"a=x-nv-general.useReliableUdp:1\r\n"
	params, err := ParseAnnounceBody(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if params.VideoWidth != 1920 || params.VideoHeight != 1080 || params.RefreshRate != 60 {
		t.Fatalf("unexpected params: %+v", params)
	}
	if params.FECPercentage != 20 || params.UseReliableUDP != 1 {
		t.Fatalf("unexpected params: %+v", params)
	}
}

func TestBuildDescribeBodyIncludesHEVCMarker(t *testing.T) {
	sess := &session.StreamSession{App: catalog.App{ID: "steam"}}
	sess.Audio = session.AudioMode{Channels: 2, Streams: 1, CoupledStreams: 1, SpeakerMap: []int{0, 1}}

	body := BuildDescribeBody(sess, true)
	if !strings.Contains(body, "sprop-parameter-sets=AAAAAU") {
		t.Fatalf("expected HEVC marker in body: %s", body)
	}
	if !strings.Contains(body, "a=fmtp:97 surround-params=2110") {
		t.Fatalf("expected surround-params line, got: %s", body)
	}
}

func TestDispatchSetupReturnsRequestedPort(t *testing.T) {
	s := &Server{supportHEVC: false}
	sess := &session.StreamSession{}
	sess.Ports = session.Ports{Video: 9000, Control: 9001, Audio: 9002}

	resp := s.dispatch(Request{Method: "SETUP", Target: "rtsp://host/streamid=audio/0", CSeq: "3"}, sess)
	if !strings.Contains(resp, "server_port=9002") {
		t.Fatalf("expected audio port in response: %s", resp)
	}
	if !strings.Contains(resp, "DEADBEEFCAFE") {
		t.Fatalf("expected session id in response: %s", resp)
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	s := &Server{}
	resp := s.dispatch(Request{Method: "TEARDOWN", CSeq: "4"}, nil)
	if !strings.Contains(resp, "404") {
		t.Fatalf("expected 404, got: %s", resp)
	}
}
