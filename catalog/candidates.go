package catalog

import (
	"context"
	"time"

	"github.com/mmdatafocus/menu_backend/models"
)

// Candidate is the read-only view of an active item used by fuzzy matching.
type Candidate struct {
	ID           int
	Name         string
	NameKey      string
	Category     models.Category
	PrefixFamily string
	IsVerified   bool
	VerifiedAt   *time.Time
	VariantIds   map[int]bool
}

// Snapshot is an immutable list of candidates tagged with the store
// generation it was loaded at.
type Snapshot struct {
	generation int64
	Items      []Candidate
}

// Candidates returns the active items with their linked variant ids. Outside a
// transaction the result is cached until the next catalog write; callers must
// not modify it.
func (s *Store) Candidates(ctx context.Context) ([]Candidate, error) {
	if s.inTx {
		snap, err := s.loadSnapshot(ctx, 0)
		if err != nil {
			return nil, err
		}
		return snap.Items, nil
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	gen := s.state.generation.Load()
	if snap := s.state.snapshot; snap != nil && snap.generation == gen {
		return snap.Items, nil
	}
	snap, err := s.loadSnapshot(ctx, gen)
	if err != nil {
		return nil, err
	}
	s.state.snapshot = snap
	return snap.Items, nil
}

func (s *Store) loadSnapshot(ctx context.Context, gen int64) (*Snapshot, error) {
	db := s.db.WithContext(ctx)
	var items []models.CanonicalItem
	if err := db.Where("is_active = ?", true).Order("id").Find(&items).Error; err != nil {
		return nil, err
	}
	var links []models.ItemVariantLink
	if err := db.Select("item_id", "variant_id").Find(&links).Error; err != nil {
		return nil, err
	}
	byItem := make(map[int]map[int]bool, len(items))
	for _, l := range links {
		if byItem[l.ItemId] == nil {
			byItem[l.ItemId] = map[int]bool{}
		}
		byItem[l.ItemId][l.VariantId] = true
	}
	snap := &Snapshot{generation: gen, Items: make([]Candidate, 0, len(items))}
	for _, it := range items {
		snap.Items = append(snap.Items, Candidate{
			ID:           it.ID,
			Name:         it.Name,
			NameKey:      it.NameKey,
			Category:     it.Category,
			PrefixFamily: it.PrefixFamily,
			IsVerified:   it.IsVerified,
			VerifiedAt:   it.VerifiedAt,
			VariantIds:   byItem[it.ID],
		})
	}
	return snap, nil
}
