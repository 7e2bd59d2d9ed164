package storage

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/abdul-hamid-achik/veclite"
)

// annIndex is an HNSW sidecar over veclite used to generate candidate
// rowids for unfiltered nearest-neighbor queries on large columns. It
// is an accelerator only: exact cosine distances are always recomputed
// by the engine over the candidates, and any sidecar failure degrades
// to a full scan.
type annIndex struct {
	mu     sync.Mutex
	db     *veclite.DB
	path   string
	logger *slog.Logger

	// collections tracks sidecar collections by table for
	// invalidation on drop/rename.
	collections map[string]map[string]bool
}

func annPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "vectors.veclite")
}

func openAnnIndex(path string, logger *slog.Logger) *annIndex {
	db, err := veclite.Open(path)
	if err != nil {
		logger.Warn("ann index unavailable", "path", path, "error", err)
		return nil
	}
	return &annIndex{
		db:          db,
		path:        path,
		logger:      logger,
		collections: make(map[string]map[string]bool),
	}
}

func annCollectionName(table, column string) string {
	return table + "__" + column
}

// Fresh reports whether the sidecar collection exists and holds
// exactly the expected number of vectors.
func (a *annIndex) Fresh(table, column string, expected int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	coll, err := a.db.GetCollection(annCollectionName(table, column))
	if err != nil || coll == nil {
		return false
	}
	return int64(coll.Count()) == expected
}

// Rebuild drops and repopulates the collection from the source scan.
func (a *annIndex) Rebuild(table, column string, dim int, scan func(fn func(id int64, vec []float32) error) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	name := annCollectionName(table, column)
	_ = a.db.DropCollection(name)

	coll, err := a.db.CreateCollection(name,
		veclite.WithDimension(dim),
		veclite.WithDistanceType(veclite.DistanceEuclidean),
		veclite.WithHNSW(16, 200),
	)
	if err != nil {
		return fmt.Errorf("create ann collection %s: %w", name, err)
	}

	err = scan(func(id int64, vec []float32) error {
		_, err := coll.Insert(vec, map[string]any{"rowid": id})
		return err
	})
	if err != nil {
		_ = a.db.DropCollection(name)
		return fmt.Errorf("populate ann collection %s: %w", name, err)
	}
	if err := a.db.Sync(); err != nil {
		return fmt.Errorf("sync ann index: %w", err)
	}

	if a.collections[table] == nil {
		a.collections[table] = make(map[string]bool)
	}
	a.collections[table][column] = true
	return nil
}

// Candidates returns up to k rowids near the query, or nil when the
// collection is missing or the search fails.
func (a *annIndex) Candidates(table, column string, query []float32, k int) []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	coll, err := a.db.GetCollection(annCollectionName(table, column))
	if err != nil || coll == nil {
		return nil
	}
	results, err := coll.Search(query, veclite.TopK(k))
	if err != nil {
		a.logger.Warn("ann search failed", "table", table, "column", column, "error", err)
		return nil
	}

	ids := make([]int64, 0, len(results))
	for _, r := range results {
		if id, ok := payloadRowID(r.Record.Payload); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Invalidate drops the sidecar collection for one column.
func (a *annIndex) Invalidate(table, column string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	_ = a.db.DropCollection(annCollectionName(table, column))
	if cols := a.collections[table]; cols != nil {
		delete(cols, column)
	}
}

// InvalidateTable drops every known sidecar collection for a table.
func (a *annIndex) InvalidateTable(table string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for column := range a.collections[table] {
		_ = a.db.DropCollection(annCollectionName(table, column))
	}
	delete(a.collections, table)
}

func (a *annIndex) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.db.Sync(); err != nil {
		a.logger.Warn("ann sync on close failed", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("ann close failed", "error", err)
	}
}

// payloadRowID extracts the rowid from a veclite payload, tolerating
// the numeric widenings payloads go through on round-trip.
func payloadRowID(payload map[string]any) (int64, bool) {
	switch v := payload["rowid"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}
