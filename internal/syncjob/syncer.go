// Package syncjob mirrors the products and users tables from Postgres into
// their Meilisearch indexes, configuring index settings first so filters
// and sorts work as the agent's search tool expects.
package syncjob

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/askdb-ai/askdb/internal/logger"
	"github.com/askdb-ai/askdb/internal/meili"
)

type indexSpec struct {
	uid        string
	primaryKey string
	settings   meili.Settings
	query      string
	scan       func(*sql.Rows) (map[string]interface{}, error)
}

var productsSpec = indexSpec{
	uid:        "products",
	primaryKey: "product_id",
	settings: meili.Settings{
		SearchableAttributes: []string{"name", "category", "brand"},
		FilterableAttributes: []string{"category", "price", "brand"},
		SortableAttributes:   []string{"price"},
		DisplayedAttributes:  []string{"product_id", "name", "category", "brand", "price"},
	},
	query: "SELECT product_id, name, category, brand, price FROM products",
	scan: func(rows *sql.Rows) (map[string]interface{}, error) {
		var (
			id                    int64
			name, category, brand string
			price                 float64
		)
		if err := rows.Scan(&id, &name, &category, &brand, &price); err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"product_id": id,
			"name":       name,
			"category":   category,
			"brand":      brand,
			"price":      price,
		}, nil
	},
}

var usersSpec = indexSpec{
	uid:        "users",
	primaryKey: "user_id",
	settings: meili.Settings{
		SearchableAttributes: []string{"name", "location", "email"},
		FilterableAttributes: []string{"location", "registration_date", "email"},
		SortableAttributes:   []string{"registration_date"},
		DisplayedAttributes:  []string{"user_id", "name", "email", "location", "registration_date"},
	},
	query: "SELECT user_id, name, email, location, registration_date FROM users",
	scan: func(rows *sql.Rows) (map[string]interface{}, error) {
		var (
			id                    int64
			name, email, location string
			registered            time.Time
		)
		if err := rows.Scan(&id, &name, &email, &location, &registered); err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"user_id":           id,
			"name":              name,
			"email":             email,
			"location":          location,
			"registration_date": registered.Format("2006-01-02"),
		}, nil
	},
}

// Syncer pushes both indexes. The two indexes sync concurrently; documents
// within one index are pushed in a single batch.
type Syncer struct {
	db     *sql.DB
	client *meili.Client
	log    *logger.Logger
}

// NewSyncer creates a syncer over an open database pool and Meilisearch client.
func NewSyncer(db *sql.DB, client *meili.Client, log *logger.Logger) *Syncer {
	if log == nil {
		log = logger.New("syncjob")
	}
	return &Syncer{db: db, client: client, log: log}
}

// Run syncs the products and users indexes and waits for Meilisearch to
// finish indexing. The first error cancels the other index's sync.
func (s *Syncer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, spec := range []indexSpec{productsSpec, usersSpec} {
		spec := spec
		g.Go(func() error {
			return s.syncIndex(ctx, spec)
		})
	}
	return g.Wait()
}

func (s *Syncer) syncIndex(ctx context.Context, spec indexSpec) error {
	taskUID, err := s.client.UpdateSettings(ctx, spec.uid, spec.settings)
	if err != nil {
		return fmt.Errorf("update settings for %q: %w", spec.uid, err)
	}
	if err := s.client.WaitForTask(ctx, taskUID); err != nil {
		return fmt.Errorf("settings task for %q: %w", spec.uid, err)
	}

	docs, err := s.loadDocuments(ctx, spec)
	if err != nil {
		return fmt.Errorf("load %q rows: %w", spec.uid, err)
	}
	if len(docs) == 0 {
		s.log.Warn("", "no rows to sync", map[string]interface{}{"index": spec.uid})
		return nil
	}

	taskUID, err = s.client.AddDocuments(ctx, spec.uid, docs, spec.primaryKey)
	if err != nil {
		return fmt.Errorf("add documents to %q: %w", spec.uid, err)
	}
	if err := s.client.WaitForTask(ctx, taskUID); err != nil {
		return fmt.Errorf("indexing task for %q: %w", spec.uid, err)
	}

	s.log.Info("", "index synced", map[string]interface{}{
		"index":     spec.uid,
		"documents": len(docs),
	})
	return nil
}

func (s *Syncer) loadDocuments(ctx context.Context, spec indexSpec) ([]map[string]interface{}, error) {
	rows, err := s.db.QueryContext(ctx, spec.query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []map[string]interface{}
	for rows.Next() {
		doc, err := spec.scan(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
