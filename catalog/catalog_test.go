package catalog

import (
	"testing"

	"github.com/gowolf/streamhost/config"
)

func TestFromConfigSelectsRunnerVariant(t *testing.T) {
	apps := FromConfig([]config.AppConfig{
		{ID: "1", Title: "Desktop", RunnerKind: "command", Command: "sway"},
		{ID: "2", Title: "Steam", RunnerKind: "container", Container: "steam:latest"},
		{ID: "3", Title: "Child", RunnerKind: "child_session", ChildApp: "1"},
	}, config.GstreamerPipeline{Video: "v-pipe", Audio: "a-pipe"})

	if len(apps) != 3 {
		t.Fatalf("want 3 apps, got %d", len(apps))
	}
	kinds := []RunnerKind{RunnerCommand, RunnerContainer, RunnerChildSession}
	for i, want := range kinds {
		if apps[i].Runner.Kind != want {
			t.Fatalf("app %d: want runner kind %d got %d", i, want, apps[i].Runner.Kind)
		}
	}
	if apps[0].VideoPipeline != "v-pipe" || apps[0].AudioPipeline != "a-pipe" {
		t.Fatalf("pipeline descriptors not carried: %+v", apps[0])
	}
}

func TestRunnerRunValidatesVariant(t *testing.T) {
	cases := []struct {
		name   string
		runner Runner
		want   string
		ok     bool
	}{
		{"command", Runner{Kind: RunnerCommand, Command: "sway"}, "sway", true},
		{"command empty", Runner{Kind: RunnerCommand}, "", false},
		{"container", Runner{Kind: RunnerContainer, Container: "steam:latest"}, "steam:latest", true},
		{"child", Runner{Kind: RunnerChildSession, ChildApp: "1"}, "1", true},
		{"unknown kind", Runner{Kind: RunnerKind(42)}, "", false},
	}
	for _, tc := range cases {
		got, err := tc.runner.Run(7)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("%s: want %q, got %q err %v", tc.name, tc.want, got, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: want error", tc.name)
		}
	}
}

func TestCatalogLookupAndReplace(t *testing.T) {
	c := New([]App{{ID: "1", Title: "Desktop"}})

	if _, ok := c.Lookup("1"); !ok {
		t.Fatal("lookup of existing app failed")
	}
	if _, ok := c.Lookup("nope"); ok {
		t.Fatal("lookup of missing app succeeded")
	}

	c.Replace([]App{{ID: "2", Title: "Steam"}})
	if _, ok := c.Lookup("1"); ok {
		t.Fatal("replaced app still visible")
	}
	if _, ok := c.Lookup("2"); !ok {
		t.Fatal("new app not visible after replace")
	}
}
