package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cowrieproc/ingestcore/internal/model"
)

// l3Cache is the disk-backed tier: one JSON file per cache entry, sharded
// two levels deep by the first two hex characters of the key hash so no
// single directory accumulates an unbounded number of entries (spec.md
// §4.F "<root>/<service>/<key_hash[:2]>/<key_hash>.json").
type l3Cache struct {
	root string
}

func newL3Cache(root string) *l3Cache {
	return &l3Cache{root: root}
}

func (l *l3Cache) path(service, keyHash string) string {
	shard := keyHash
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(l.root, service, shard, keyHash+".json")
}

func (l *l3Cache) get(service, keyHash string) (*model.CacheEntry, bool, error) {
	raw, err := os.ReadFile(l.path(service, keyHash))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read l3 cache file: %w", err)
	}
	var entry model.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("unmarshal l3 cache file: %w", err)
	}
	return &entry, true, nil
}

// put writes via a temp file in the same shard directory followed by a
// rename, so a crash mid-write never leaves a corrupt entry visible to
// readers (spec.md §4.F, §6 "atomic temp+rename writes" — the same pattern
// internal/status uses for progress documents).
func (l *l3Cache) put(entry model.CacheEntry) error {
	dst := l.path(entry.Service, entry.KeyHash)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create l3 cache shard dir: %w", err)
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal l3 cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create l3 cache temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write l3 cache temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close l3 cache temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename l3 cache temp file into place: %w", err)
	}
	return nil
}
