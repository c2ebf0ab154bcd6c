// Package querylog persists research query records as flat per-query JSON
// files. Every ingested event triggers a full rewrite of the query's file;
// the last successful rewrite wins. There is no pruning.
package querylog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quillback/research-relay/internal/domain"
)

const dateLayout = "2006-01-02"

// Store writes query records under a single output directory.
type Store struct {
	dir string
}

// NewStore creates the output directory if needed and returns a store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save rewrites the record's file. The filename is derived from user,
// creation date, and interaction id, so successive saves of the same query
// overwrite one another. Records without an interaction id yet are skipped:
// there is nothing stable to key the file on, and the first durable event of
// any real interaction is the start event that assigns the id.
func (s *Store) Save(rec *domain.QueryRecord) error {
	if rec.InteractionID == "" {
		return nil
	}

	name := fmt.Sprintf("%s - %s - %s.json",
		rec.User, rec.CreatedTime().UTC().Format(dateLayout), rec.InteractionID)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal query record: %w", err)
	}

	return s.writeAtomic(name, data)
}

// SaveReload writes the separately named file produced by the
// reload-from-upstream fallback.
func (s *Store) SaveReload(interactionID string, events []domain.Event) error {
	name := fmt.Sprintf("%s - %s - completed.json",
		time.Now().UTC().Format(dateLayout), interactionID)

	data, err := json.Marshal(map[string][]domain.Event{"events": events})
	if err != nil {
		return fmt.Errorf("failed to marshal reload events: %w", err)
	}

	return s.writeAtomic(name, data)
}

// Load reads a previously saved record back. Useful for inspecting persisted
// state after a restart; the registry itself is rebuilt lazily via the
// reload fallback, not from these files.
func (s *Store) Load(user string, createdAt time.Time, interactionID string) (*domain.QueryRecord, error) {
	name := fmt.Sprintf("%s - %s - %s.json",
		user, createdAt.UTC().Format(dateLayout), interactionID)

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}

	var rec domain.QueryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal query record: %w", err)
	}
	return &rec, nil
}

// writeAtomic writes via a temp file and rename so readers never observe a
// partially written record.
func (s *Store) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace record file: %w", err)
	}
	return nil
}
