package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOffsetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "telegram_gateway_state.json")

	if got := LoadOffset(path); got.Offset != 0 || got.Processed != 0 {
		t.Errorf("missing file offset = %+v", got)
	}

	if err := SaveOffset(path, 42, 7); err != nil {
		t.Fatal(err)
	}
	got := LoadOffset(path)
	if got.Offset != 42 || got.Processed != 7 {
		t.Errorf("offset = %+v", got)
	}
	if got.UpdatedAt == "" {
		t.Error("updated_at not stamped")
	}
}

func TestOffsetCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte("][,"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := LoadOffset(path); got.Offset != 0 || got.Processed != 0 {
		t.Errorf("corrupt file offset = %+v", got)
	}

	if err := os.WriteFile(path, []byte(`{"offset": -5, "processed": -2}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := LoadOffset(path); got.Offset != 0 || got.Processed != 0 {
		t.Errorf("negative values not clamped: %+v", got)
	}
}
