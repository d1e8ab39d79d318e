package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ProjectFileName)
	writeFile(t, path, "[pio]\npath = \"before\"\n")

	c := New(path)
	if err := c.Load(); err != nil {
		t.Fatal(err)
	}

	changed := make(chan struct{}, 4)
	c.OnChange(func() { changed <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Watch(ctx, nil); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	writeFile(t, path, "[pio]\npath = \"after\"\n")

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if got := c.PIO().Path; got != "after" {
		t.Errorf("PIO().Path = %q, want after", got)
	}
}
