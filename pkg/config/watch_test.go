package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatch(t *testing.T) {
	path := writeManifest(t, "platform.yaml", "name: first\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	names := make(chan string, 10)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(m *Manifest, err error) {
			if err != nil {
				names <- "error"
				return
			}
			names <- m.Name
		})
	}()

	waitFor := func(want string) {
		t.Helper()
		select {
		case got := <-names:
			if got != want {
				t.Fatalf("expected manifest %s, got %s", want, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for manifest %s", want)
		}
	}

	waitFor("first")

	if err := os.WriteFile(path, []byte("name: second\n"), 0o600); err != nil {
		t.Fatalf("failed to rewrite manifest: %v", err)
	}
	waitFor("second")

	if err := os.WriteFile(path, []byte("name: [\n"), 0o600); err != nil {
		t.Fatalf("failed to rewrite manifest: %v", err)
	}
	waitFor("error")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop after cancel")
	}
}
