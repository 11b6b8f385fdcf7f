package store

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	logx "postpilot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", "NONE"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) returned a store, want nil", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("Open(etcd) succeeded, want error")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Put(ctx, "queue.items", []byte(`{"items":[]}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := st.Get(ctx, "queue.items")
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v), want (true, nil)", ok, err)
	}
	if !bytes.Equal(got, []byte(`{"items":[]}`)) {
		t.Fatalf("Get returned %q", got)
	}

	if _, ok, err := st.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Put(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	got, ok, err := st2.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v1" {
		t.Fatalf("Get after reopen = (%q, %v, %v), want (v1, true, nil)", got, ok, err)
	}
}

func TestFileStoreDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	_ = st.Put(ctx, "k", []byte("v"))
	if err := st.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := st.Get(ctx, "k"); ok {
		t.Fatal("key still present after Delete")
	}
	// Deleting a missing key is a no-op.
	if err := st.Delete(ctx, "k"); err != nil {
		t.Fatalf("repeat Delete: %v", err)
	}
}
