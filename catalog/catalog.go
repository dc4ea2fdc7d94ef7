// Package catalog holds the App entries a host advertises through
// /applist and launches through /launch, including the polymorphic
// command/container/child-session runner variant.
package catalog

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/gowolf/streamhost/config"
)

// RunnerKind tags which variant of Runner is populated.
type RunnerKind int

const (
	RunnerCommand RunnerKind = iota
	RunnerContainer
	RunnerChildSession
)

// Runner is the polymorphic launch target for an App: exactly one of
// Command, Container or ChildApp is meaningful, selected by Kind.
// Actually starting the process/container/child session is an
// external collaborator's job; this struct only
// carries the data shape and the contract each variant must satisfy.
type Runner struct {
	Kind      RunnerKind
	Command   string
	Container string
	ChildApp  string
}

// Run is the single contract every runner variant exposes. The actual
// process/container orchestration lives outside this module; Run here
// only validates the variant is well-formed and reports what would run,
// for callers (currently only tests) that need a
// description without a live launcher wired in.
func (r Runner) Run(sessionID uint32) (string, error) {
	switch r.Kind {
	case RunnerCommand:
		if r.Command == "" {
			return "", errors.New("catalog: command runner missing command")
		}
		return r.Command, nil
	case RunnerContainer:
		if r.Container == "" {
			return "", errors.New("catalog: container runner missing image/spec")
		}
		return r.Container, nil
	case RunnerChildSession:
		if r.ChildApp == "" {
			return "", errors.New("catalog: child-session runner missing target app id")
		}
		return r.ChildApp, nil
	default:
		return "", errors.Errorf("catalog: unknown runner kind %d", r.Kind)
	}
}

// App is a catalog entry.
type App struct {
	ID       string
	Title    string
	HDR      bool
	IconPath string
	Runner   Runner

	VideoPipeline string
	AudioPipeline string
}

// FromConfig builds the in-memory App set from the persisted config
// shape.
func FromConfig(entries []config.AppConfig, gst config.GstreamerPipeline) []App {
	apps := make([]App, 0, len(entries))
	for _, e := range entries {
		var runner Runner
		switch e.RunnerKind {
		case "container":
			runner = Runner{Kind: RunnerContainer, Container: e.Container}
		case "child_session":
			runner = Runner{Kind: RunnerChildSession, ChildApp: e.ChildApp}
		default:
			runner = Runner{Kind: RunnerCommand, Command: e.Command}
		}
		apps = append(apps, App{
			ID:            e.ID,
			Title:         e.Title,
			HDR:           e.HDR,
			IconPath:      e.IconPath,
			Runner:        runner,
			VideoPipeline: gst.Video,
			AudioPipeline: gst.Audio,
		})
	}
	return apps
}

// Catalog is a copy-on-write snapshot of the app set, the same
// discipline the other shared collections use.
type Catalog struct {
	snapshot atomic.Pointer[[]App]
}

// New builds a Catalog from an initial app list.
func New(apps []App) *Catalog {
	c := &Catalog{}
	initial := append([]App(nil), apps...)
	c.snapshot.Store(&initial)
	return c
}

// All returns the current snapshot of apps.
func (c *Catalog) All() []App {
	p := c.snapshot.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Lookup finds an app by id.
func (c *Catalog) Lookup(id string) (App, bool) {
	for _, a := range c.All() {
		if a.ID == id {
			return a, true
		}
	}
	return App{}, false
}

// Replace atomically swaps in a new app list, e.g. on config reload.
func (c *Catalog) Replace(apps []App) {
	next := append([]App(nil), apps...)
	c.snapshot.Store(&next)
}
