package fieldlock

import (
	"testing"

	"github.com/mediaforge/mediaforge/internal/models"
)

func newItem() *models.MediaItem {
	item := &models.MediaItem{Plot: "User text", Locks: models.NewFieldLocks()}
	item.Locks.Fields["plot"] = true
	return item
}

func TestApplyField_SkipsWhenLocked(t *testing.T) {
	item := newItem()
	a := New(nil)
	applied := a.ApplyField(item, "plot", func() { item.Plot = "Provider text" })
	if applied {
		t.Fatal("expected write to be skipped")
	}
	if item.Plot != "User text" {
		t.Fatalf("plot changed despite lock: %q", item.Plot)
	}
}

func TestApplyField_AppliesWhenUnlocked(t *testing.T) {
	item := &models.MediaItem{Locks: models.NewFieldLocks()}
	a := New(nil)
	applied := a.ApplyField(item, "plot", func() { item.Plot = "Provider text" })
	if !applied || item.Plot != "Provider text" {
		t.Fatalf("expected write to apply, got applied=%v plot=%q", applied, item.Plot)
	}
}

func TestUserSetField_LocksAfterWrite(t *testing.T) {
	item := &models.MediaItem{Locks: models.NewFieldLocks()}
	a := New(nil)
	a.UserSetField(item, "plot", func() { item.Plot = "User text" })
	if !item.FieldLocked("plot") {
		t.Fatal("expected field to be locked after user edit")
	}
	if item.Plot != "User text" {
		t.Fatalf("plot = %q", item.Plot)
	}
}

func TestUnlockField_RestoresAutomation(t *testing.T) {
	item := newItem()
	a := New(nil)
	a.UnlockField(item, "plot")
	if item.FieldLocked("plot") {
		t.Fatal("expected field to be unlocked")
	}
	applied := a.ApplyField(item, "plot", func() { item.Plot = "Provider text" })
	if !applied || item.Plot != "Provider text" {
		t.Fatalf("expected automated write after unlock, applied=%v plot=%q", applied, item.Plot)
	}
}
