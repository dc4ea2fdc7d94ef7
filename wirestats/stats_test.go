package wirestats

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gowolf/streamhost/eventbus"
)

func TestCountersFollowBusEvents(t *testing.T) {
	bus := &eventbus.Bus{}
	s := New()
	defer s.Attach(bus)()

	bus.Publish(eventbus.Event{Kind: eventbus.LossStats, SessionID: 1})
	bus.Publish(eventbus.Event{Kind: eventbus.LossStats, SessionID: 1})
	bus.Publish(eventbus.Event{Kind: eventbus.FrameStats, SessionID: 1})
	bus.Publish(eventbus.Event{Kind: eventbus.InputReceived, SessionID: 1})
	bus.Publish(eventbus.Event{Kind: eventbus.StreamStop, SessionID: 1})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()

	for _, want := range []string{
		"streamhost_loss_stats_reports_total 2",
		"streamhost_frame_stats_reports_total 1",
		"streamhost_input_events_total 1",
		"streamhost_stream_stops_total 1",
		"streamhost_session_fatal_total 0",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestDetachedStatsIgnoreEvents(t *testing.T) {
	bus := &eventbus.Bus{}
	s := New()
	unsubscribe := s.Attach(bus)
	unsubscribe()

	bus.Publish(eventbus.Event{Kind: eventbus.LossStats})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "streamhost_loss_stats_reports_total 0") {
		t.Fatal("detached stats must not count events")
	}
}
