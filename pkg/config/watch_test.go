package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func startWatch(t *testing.T, paths []string) <-chan struct{} {
	t.Helper()

	changes := make(chan struct{}, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	w := NewWatcher(zerolog.Nop()).WithDebounce(50 * time.Millisecond)
	go func() {
		done <- w.Watch(ctx, paths, func() { changes <- struct{}{} })
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Watch() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Watch() did not return after cancel")
		}
	})

	// Give the watcher time to register before the first write.
	time.Sleep(100 * time.Millisecond)
	return changes
}

func waitChange(t *testing.T, changes <-chan struct{}) {
	t.Helper()
	select {
	case <-changes:
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestWatcher_FileWrite(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "mail.yaml")
	if err := os.WriteFile(doc, []byte("endpoints: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	changes := startWatch(t, []string{doc})

	// A burst of writes is reported once.
	for i := range 3 {
		content := []byte("endpoints: {}\n# " + string(rune('a'+i)) + "\n")
		if err := os.WriteFile(doc, content, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	waitChange(t, changes)

	select {
	case <-changes:
		t.Error("burst reported more than once")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "mail.yaml")
	if err := os.WriteFile(doc, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	changes := startWatch(t, []string{doc})

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changes:
		t.Error("change to unrelated file was reported")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_Directory(t *testing.T) {
	dir := t.TempDir()
	changes := startWatch(t, []string{dir})

	if err := os.WriteFile(filepath.Join(dir, "new.rego"), []byte("package x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitChange(t, changes)
}

func TestWatcher_MissingPath(t *testing.T) {
	var called atomic.Bool
	err := NewWatcher(zerolog.Nop()).Watch(context.Background(),
		[]string{filepath.Join(t.TempDir(), "missing.yaml")},
		func() { called.Store(true) })
	if err == nil {
		t.Fatal("expected error for missing path")
	}
	if called.Load() {
		t.Error("onChange called")
	}
}
