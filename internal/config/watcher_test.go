package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/inthespace/tunneller/internal/router"
)

func TestWatchFileReloadsRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tunneler-config.json")

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	store := NewStore(cfg)
	changed := make(chan struct{}, 8)
	store.SetRoutesChangedListener(func() { changed <- struct{}{} })

	stop, err := WatchFile(path, store)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	t.Cleanup(stop)

	cfg.Routes = append(cfg.Routes, router.Rule{
		PathPattern: "/hot/*", TargetHost: "h9", TargetPort: 9999, Priority: 5,
	})
	if err := Save(path, cfg); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatalf("reload never fired")
	}

	found := false
	for _, r := range store.Rules() {
		if r.PathPattern == "/hot/*" {
			found = true
		}
	}
	if !found {
		t.Fatalf("hot rule not applied: %+v", store.Rules())
	}
}

func TestWatchFileIgnoresInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tunneler-config.json")

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	store := NewStore(cfg)

	stop, err := WatchFile(path, store)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	t.Cleanup(stop)

	before := len(store.Rules())
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	time.Sleep(700 * time.Millisecond)
	if len(store.Rules()) != before {
		t.Fatalf("invalid config replaced rules")
	}
}
