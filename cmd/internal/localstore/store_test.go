package localstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name string `json:"name"`
	N    int    `json:"n"`
}

func TestPutGetSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Put(KeyUser, sample{Name: "alex", N: 1}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	var got sample
	if err := again.Get(KeyUser, &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != (sample{Name: "alex", N: 1}) {
		t.Fatalf("got=%+v", got)
	}
}

func TestGetMissingKey(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "state.json"))
	var v sample
	if err := s.Get(KeyDebates, &v); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestDeleteFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, _ := Open(path)
	_ = s.Put(KeyUser, sample{Name: "x"})
	_ = s.Put(KeyDebates, []int{1, 2})

	if err := s.Delete(KeyUser); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("never-set"); err != nil {
		t.Fatalf("Delete(missing): %v", err)
	}

	again, _ := Open(path)
	var v sample
	if err := again.Get(KeyUser, &v); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted key still present: %v", err)
	}
	var ns []int
	if err := again.Get(KeyDebates, &ns); err != nil || len(ns) != 2 {
		t.Fatalf("other key lost: %v %v", ns, err)
	}
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("corrupt file accepted")
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "state.json"))
	for i := 0; i < 5; i++ {
		_ = s.Put(KeyDebates, i)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("dir has %d entries want 1", len(entries))
	}
}
