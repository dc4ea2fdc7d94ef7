// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package wirestats collects the observability counters the control
// channel feeds with LOSS_STATS and FRAME_STATS reports: their
// content is tallied, never acted on. Counters are exposed as
// Prometheus metrics on the management listener and, optionally,
// flushed periodically to the process log on a ticker.
package wirestats

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/gowolf/streamhost/eventbus"
)

// Stats owns the counter set for one host process.
type Stats struct {
	registry *prometheus.Registry

	lossReports  prometheus.Counter
	frameReports prometheus.Counter
	inputEvents  prometheus.Counter
	sessionFatal prometheus.Counter
	streamStops  prometheus.Counter
}

// New builds the counter set on a fresh Prometheus registry.
func New() *Stats {
	s := &Stats{
		registry: prometheus.NewRegistry(),
		lossReports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamhost_loss_stats_reports_total",
			Help: "LOSS_STATS control packets received across all sessions.",
		}),
		frameReports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamhost_frame_stats_reports_total",
			Help: "FRAME_STATS control packets received across all sessions.",
		}),
		inputEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamhost_input_events_total",
			Help: "Decoded INPUT_DATA packets received across all sessions.",
		}),
		sessionFatal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamhost_session_fatal_total",
			Help: "Sessions terminated by a fatal protocol condition.",
		}),
		streamStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamhost_stream_stops_total",
			Help: "StopStream events published.",
		}),
	}
	s.registry.MustRegister(s.lossReports, s.frameReports, s.inputEvents, s.sessionFatal, s.streamStops)
	return s
}

// Attach subscribes the counters to bus. Returns the unsubscribe
// function.
func (s *Stats) Attach(bus *eventbus.Bus) func() {
	return bus.Subscribe(func(ev eventbus.Event) {
		switch ev.Kind {
		case eventbus.LossStats:
			s.lossReports.Inc()
		case eventbus.FrameStats:
			s.frameReports.Inc()
		case eventbus.InputReceived:
			s.inputEvents.Inc()
		case eventbus.SessionFatal:
			s.sessionFatal.Inc()
		case eventbus.StreamStop:
			s.streamStops.Inc()
		}
	})
}

// Handler exposes the counters in Prometheus text format, mounted on
// the management mux.
func (s *Stats) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// LogLoop flushes a snapshot of every counter to the log each
// interval, until stop is closed. interval <= 0 disables it.
func (s *Stats) LogLoop(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			mfs, err := s.registry.Gather()
			if err != nil {
				log.Debug().Err(err).Msg("wirestats: gather")
				continue
			}
			ev := log.Info()
			for _, mf := range mfs {
				if len(mf.Metric) > 0 && mf.Metric[0].Counter != nil {
					ev = ev.Float64(mf.GetName(), mf.Metric[0].Counter.GetValue())
				}
			}
			ev.Msg("wirestats: counters")
		}
	}
}
