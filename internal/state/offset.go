package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aoe-sh/gateway/internal/clock"
)

// Offset is the long-poll cursor persisted between gateway runs.
type Offset struct {
	Offset    int64  `json:"offset"`
	Processed int64  `json:"processed"`
	UpdatedAt string `json:"updated_at"`
}

// LoadOffset reads the cursor file, returning a zero cursor when the file is
// missing or unreadable.
func LoadOffset(path string) Offset {
	data, err := os.ReadFile(path)
	if err != nil {
		return Offset{}
	}
	var out Offset
	if err := json.Unmarshal(data, &out); err != nil {
		return Offset{}
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	if out.Processed < 0 {
		out.Processed = 0
	}
	return out
}

// SaveOffset writes the cursor atomically, stamping updated_at.
func SaveOffset(path string, offset, processed int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	payload, err := json.MarshalIndent(Offset{
		Offset:    offset,
		Processed: processed,
		UpdatedAt: clock.NowISO(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode offset state: %w", err)
	}
	payload = append(payload, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write offset state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace offset state: %w", err)
	}
	return nil
}
