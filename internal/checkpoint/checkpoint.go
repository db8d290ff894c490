// Package checkpoint implements self-describing JSON export/import of the
// memory store (C9): snapshot creation, optional gzip, and id-remapping
// import that preserves memory/link semantics without requiring ids to
// survive the round trip.
package checkpoint

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	amerrors "github.com/succ-project/succ/internal/errors"
	"github.com/succ-project/succ/internal/store"
)

// SchemaVersion is bumped whenever the Snapshot shape changes incompatibly.
const SchemaVersion = 1

// EngineVersion identifies the checkpoint format's producing engine, not the
// binary release version.
const EngineVersion = "succ-checkpoint/1"

// Snapshot is the self-describing export document.
type Snapshot struct {
	Version       int           `json:"version"`
	CreatedAt     time.Time     `json:"created_at"`
	ProjectName   string        `json:"project_name"`
	EngineVersion string        `json:"engine_version"`
	Data          SnapshotData  `json:"data"`
	Stats         SnapshotStats `json:"stats"`
}

// SnapshotData holds the exported rows.
type SnapshotData struct {
	Memories []*store.Memory     `json:"memories"`
	Links    []*store.MemoryLink `json:"links"`
}

// SnapshotStats is informational summary metadata, not load-bearing on import.
type SnapshotStats struct {
	MemoryCount int `json:"memory_count"`
	LinkCount   int `json:"link_count"`
}

// Export builds a Snapshot from the current contents of db.
func Export(ctx context.Context, db store.MemoryStore, projectName string) (*Snapshot, error) {
	ids, err := db.AllMemoryIDs(ctx)
	if err != nil {
		return nil, err
	}
	memories := make([]*store.Memory, 0, len(ids))
	for _, id := range ids {
		m, err := db.GetMemory(ctx, id)
		if err != nil {
			return nil, err
		}
		if m != nil {
			memories = append(memories, m)
		}
	}

	links, err := db.AllLinks(ctx)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Version:       SchemaVersion,
		CreatedAt:     time.Now().UTC(),
		ProjectName:   projectName,
		EngineVersion: EngineVersion,
		Data:          SnapshotData{Memories: memories, Links: links},
		Stats:         SnapshotStats{MemoryCount: len(memories), LinkCount: len(links)},
	}, nil
}

// Write serializes snapshot to w, gzip-compressed when gzipped is true.
func Write(w io.Writer, snapshot *Snapshot, gzipped bool) error {
	var dest io.Writer = w
	var gz *gzip.Writer
	if gzipped {
		gz = gzip.NewWriter(w)
		dest = gz
	}
	enc := json.NewEncoder(dest)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot); err != nil {
		return err
	}
	if gz != nil {
		return gz.Close()
	}
	return nil
}

// Read parses a Snapshot from r, auto-detecting gzip by magic bytes.
func Read(r io.Reader) (*Snapshot, error) {
	buffered := make([]byte, 2)
	n, err := io.ReadFull(r, buffered)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	reassembled := io.MultiReader(newBytesReader(buffered[:n]), r)

	var dest io.Reader = reassembled
	if n == 2 && buffered[0] == 0x1f && buffered[1] == 0x8b {
		gz, err := gzip.NewReader(reassembled)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: open gzip stream: %w", err)
		}
		defer gz.Close()
		dest = gz
	}

	var snapshot Snapshot
	if err := json.NewDecoder(dest).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("checkpoint: decode snapshot: %w", err)
	}
	if snapshot.Version > SchemaVersion {
		return nil, amerrors.ConfigError(fmt.Sprintf("checkpoint schema version %d is newer than this build supports (%d)", snapshot.Version, SchemaVersion), nil)
	}
	return &snapshot, nil
}

type bytesReader struct {
	b   []byte
	pos int
}

func newBytesReader(b []byte) *bytesReader { return &bytesReader{b: b} }

func (r *bytesReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

// ImportOptions controls Import's behavior.
type ImportOptions struct {
	// Overwrite, when true, deletes all existing memories/links before
	// importing (destructive). When false, import is additive: ids are
	// remapped to avoid collisions with existing data.
	Overwrite bool
}

// ImportResult reports what Import did.
type ImportResult struct {
	MemoriesImported int
	LinksImported    int
	IDRemap          map[string]string // old snapshot id -> new stored id
}

// Import restores a Snapshot into db. Ids are not required to survive the
// round trip: on an additive import, every memory gets a freshly generated
// id and links are re-pointed through IDRemap; pinned-memory semantics are
// preserved by the memories' own is_invariant/correction_count fields.
func Import(ctx context.Context, db store.MemoryStore, snapshot *Snapshot, opts ImportOptions) (*ImportResult, error) {
	if snapshot.Version > SchemaVersion {
		return nil, amerrors.ConfigError(fmt.Sprintf("checkpoint schema version %d is newer than this build supports (%d)", snapshot.Version, SchemaVersion), nil)
	}

	if opts.Overwrite {
		ids, err := db.AllMemoryIDs(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			m, err := db.GetMemory(ctx, id)
			if err != nil {
				return nil, err
			}
			if m == nil {
				continue
			}
			// Clear pin state before delete: a restore-from-backup into an
			// empty project must not be blocked by stale invariants.
			m.IsInvariant = false
			m.CorrectionCount = 0
			if err := db.SaveMemory(ctx, m); err != nil {
				return nil, err
			}
			if err := db.DeleteLinksForMemory(ctx, id); err != nil {
				return nil, err
			}
			if err := db.DeleteMemory(ctx, id); err != nil {
				return nil, err
			}
		}
	}

	remap := make(map[string]string, len(snapshot.Data.Memories))
	for _, m := range snapshot.Data.Memories {
		newID := m.ID
		if !opts.Overwrite {
			newID = remapID(m.ID, snapshot.CreatedAt)
		}
		remap[m.ID] = newID

		restored := *m
		restored.ID = newID
		restored.InvalidatedBy = "" // resolved below once all ids are known
		if err := db.SaveMemory(ctx, &restored); err != nil {
			return nil, err
		}
	}

	// Second pass: re-point invalidated_by now that every id is remapped.
	for _, m := range snapshot.Data.Memories {
		if m.InvalidatedBy == "" {
			continue
		}
		newID, ok := remap[m.ID]
		if !ok {
			continue
		}
		supersededBy, ok := remap[m.InvalidatedBy]
		if !ok {
			continue
		}
		if err := db.InvalidateMemory(ctx, newID, supersededBy); err != nil {
			return nil, err
		}
	}

	linksImported := 0
	for _, l := range snapshot.Data.Links {
		fromID, ok := remap[l.FromID]
		if !ok {
			continue
		}
		toID, ok := remap[l.ToID]
		if !ok {
			continue
		}
		restored := *l
		restored.ID = remapID(l.ID, snapshot.CreatedAt)
		restored.FromID = fromID
		restored.ToID = toID
		if err := db.SaveLink(ctx, &restored); err != nil {
			return nil, err
		}
		linksImported++
	}

	return &ImportResult{
		MemoriesImported: len(snapshot.Data.Memories),
		LinksImported:    linksImported,
		IDRemap:          remap,
	}, nil
}

func remapID(oldID string, salt time.Time) string {
	return fmt.Sprintf("%s-%d", oldID, salt.UnixNano())
}
