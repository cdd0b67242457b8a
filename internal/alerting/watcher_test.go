package alerting

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const watchedRules = `
rules:
  - name: first
    rule_type: crowd
    priority: 4
`

const watchedRulesUpdated = `
rules:
  - name: first
    rule_type: crowd
    priority: 4
  - name: second
    rule_type: loitering
    priority: 6
`

func TestFileWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(watchedRules), 0o644); err != nil {
		t.Fatal(err)
	}

	rs := NewRuleSet(nil)
	w, err := NewFileWatcher(path, rs, nil)
	if err != nil {
		t.Fatalf("NewFileWatcher() error = %v", err)
	}
	w.debounce = 10 * time.Millisecond
	if err := w.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rs.Len() != 1 {
		t.Fatalf("expected 1 rule, got %d", rs.Len())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(path, []byte(watchedRulesUpdated), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for rs.Len() != 2 {
		select {
		case <-w.Reloaded():
		case <-deadline:
			t.Fatalf("rules not reloaded, have %d", rs.Len())
		}
	}

	snap := rs.Snapshot()
	if snap[0].Rule.Name != "second" {
		t.Errorf("expected higher priority rule first, got %s", snap[0].Rule.Name)
	}
}

func TestFileWatcherKeepsRulesOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(watchedRules), 0o644); err != nil {
		t.Fatal(err)
	}

	rs := NewRuleSet(nil)
	w, err := NewFileWatcher(path, rs, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 10 * time.Millisecond
	if err := w.Load(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(path, []byte("rules: ["), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-w.Reloaded():
	case <-time.After(5 * time.Second):
		t.Fatal("no reload attempt observed")
	}
	if rs.Len() != 1 {
		t.Errorf("expected previous rule to be kept, got %d rules", rs.Len())
	}
}
