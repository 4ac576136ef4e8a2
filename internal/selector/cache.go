package selector

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/MikeSquared-Agency/tgcollector/internal/transport"
)

// LoadCache reads a cached selection. ok is false when no cache exists.
func LoadCache(path string) (ids []transport.ChannelID, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cache: %w", err)
	}
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, false, fmt.Errorf("parse cache %s: must be a JSON array of ids: %w", path, err)
	}
	return ids, true, nil
}

// SaveCache writes ids as a JSON array, replacing any previous cache.
func SaveCache(path string, ids []transport.ChannelID) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
	}
	if ids == nil {
		ids = []transport.ChannelID{}
	}
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
