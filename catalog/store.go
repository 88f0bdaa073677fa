// Package catalog is the rebuildable relational store: canonical items,
// variants, item-variant links, alias lookups, merge history and the order
// line items that make up the raw corpus.
package catalog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mmdatafocus/menu_backend/models"
	"github.com/mmdatafocus/menu_backend/utils"
	"gorm.io/gorm"
)

// Store is safe for concurrent use. Writes keyed on a unique constraint are
// serialized per key and use insert-or-fetch, so concurrent writers converge
// on one row.
type Store struct {
	db    *gorm.DB
	state *storeState
	// inTx marks a store bound to a transaction: no key locks (the tx already
	// holds the connection) and no cached snapshots.
	inTx bool
}

type storeState struct {
	keys       *utils.KeyedMutex
	generation atomic.Int64
	mu         sync.Mutex
	snapshot   *Snapshot
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, state: &storeState{keys: utils.NewKeyedMutex()}}
}

func (s *Store) DB() *gorm.DB { return s.db }

// WithTx returns a store bound to tx that shares this store's cache state.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, state: s.state, inTx: true}
}

// Transaction runs fn in a database transaction and drops cached snapshots
// once it finishes, committed or not.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}
	defer s.Invalidate()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.WithTx(tx))
	})
}

func (s *Store) lockKey(key string) func() {
	if s.inTx {
		return func() {}
	}
	return s.state.keys.Lock(key)
}

// Invalidate drops the cached candidate snapshot.
func (s *Store) Invalidate() {
	s.state.generation.Add(1)
}

func (s *Store) Migrate(ctx context.Context) error {
	return models.MigrateTable(s.db.WithContext(ctx))
}

// DropCatalog drops and re-creates the rebuildable tables. Order line items
// and sync state are kept.
func (s *Store) DropCatalog(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.Migrator().DropTable(models.CatalogTables()...); err != nil {
		return err
	}
	s.Invalidate()
	return db.AutoMigrate(models.CatalogTables()...)
}

func now() time.Time {
	return time.Now().UTC()
}
