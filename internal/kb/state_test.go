package kb

import (
	"errors"
	"testing"
	"time"
)

func TestInfoRoundTrip(t *testing.T) {
	dir := t.TempDir()
	info := teardownInfo()
	info.CreatedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := SaveInfo(dir, info); err != nil {
		t.Fatalf("SaveInfo() error = %v", err)
	}
	loaded, err := LoadInfo(dir, "docs")
	if err != nil {
		t.Fatalf("LoadInfo() error = %v", err)
	}
	if *loaded != *info {
		t.Errorf("LoadInfo() = %+v, want %+v", loaded, info)
	}
}

func TestLoadInfoMissing(t *testing.T) {
	_, err := LoadInfo(t.TempDir(), "nope")
	if !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("LoadInfo() error = %v, want ErrStateNotFound", err)
	}
}

func TestRemoveInfoIdempotent(t *testing.T) {
	dir := t.TempDir()
	if err := SaveInfo(dir, teardownInfo()); err != nil {
		t.Fatal(err)
	}
	if err := RemoveInfo(dir, "docs"); err != nil {
		t.Fatalf("RemoveInfo() error = %v", err)
	}
	if err := RemoveInfo(dir, "docs"); err != nil {
		t.Fatalf("RemoveInfo() second call error = %v", err)
	}
	if _, err := LoadInfo(dir, "docs"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("LoadInfo() after remove error = %v, want ErrStateNotFound", err)
	}
}

func TestListInfo(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"alpha", "beta"} {
		info := teardownInfo()
		info.Name = name
		if err := SaveInfo(dir, info); err != nil {
			t.Fatal(err)
		}
	}
	names, err := ListInfo(dir)
	if err != nil {
		t.Fatalf("ListInfo() error = %v", err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("ListInfo() = %v, want [alpha beta]", names)
	}
}

func TestListInfoMissingDir(t *testing.T) {
	names, err := ListInfo(t.TempDir() + "/does-not-exist")
	if err != nil {
		t.Fatalf("ListInfo() error = %v", err)
	}
	if names != nil {
		t.Errorf("ListInfo() = %v, want nil", names)
	}
}
