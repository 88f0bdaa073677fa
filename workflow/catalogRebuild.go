package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/menu_backend/brain"
	"github.com/mmdatafocus/menu_backend/catalog"
	"github.com/mmdatafocus/menu_backend/config"
	"github.com/mmdatafocus/menu_backend/ingest"
	"github.com/mmdatafocus/menu_backend/matcher"
)

// ErrRebuildOutOfOrder is returned when a rebuild step runs before the step it depends on.
var ErrRebuildOutOfOrder = errors.New("catalog rebuild step out of order")

type RebuildReport struct {
	Rules      int            `json:"rules"`
	SeedRows   int            `json:"seed_rows"`
	Aliases    int            `json:"aliases"`
	Ingest     *ingest.Report `json:"ingest"`
	DurationMs int64          `json:"duration_ms"`
}

// rebuild carries the three rebuild steps. Each step refuses to run until the
// previous one has completed, so the corpus can never be matched before the
// Brain's rules are seeded.
type rebuild struct {
	e      *Engine
	rules  []brain.Rule
	loaded bool
	seeded bool
	report RebuildReport
}

// RebuildCatalogFromBrain drops the catalog and regenerates it: load the
// Brain, seed the catalog and its aliases from the rules, then re-resolve the
// stored order corpus. Merge history does not survive a rebuild.
func (e *Engine) RebuildCatalogFromBrain(ctx context.Context) (*RebuildReport, error) {
	ctx, span := tracer.Start(ctx, "workflow.RebuildCatalogFromBrain")
	defer span.End()

	unlock, err := e.lockBrain(ctx, "catalogRebuild.go", "RebuildCatalogFromBrain")
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	r := &rebuild{e: e}
	if err := r.loadRules(ctx); err != nil {
		return nil, err
	}
	if err := r.seedCatalog(ctx); err != nil {
		return nil, err
	}
	if err := r.reprocessCorpus(ctx); err != nil {
		return &r.report, err
	}
	r.report.DurationMs = time.Since(start).Milliseconds()
	config.LogInfo(e.logger, "catalogRebuild.go", "RebuildCatalogFromBrain", "catalog rebuilt", r.report)
	return &r.report, nil
}

func (r *rebuild) loadRules(ctx context.Context) error {
	if err := r.e.brain.Reload(ctx); err != nil {
		config.LogError(r.e.logger, "catalogRebuild.go", "loadRules", "Reload", r.e.brain.Path(), err)
		return fmt.Errorf("load brain: %w", err)
	}
	r.rules = r.e.brain.Rules()
	r.report.Rules = len(r.rules)
	r.loaded = true
	return nil
}

func (r *rebuild) seedCatalog(ctx context.Context) error {
	if !r.loaded {
		return fmt.Errorf("%w: seeding before the brain is loaded", ErrRebuildOutOfOrder)
	}
	store := r.e.store
	if err := store.DropCatalog(ctx); err != nil {
		return fmt.Errorf("drop catalog: %w", err)
	}
	if err := store.ResetResolutions(ctx); err != nil {
		return fmt.Errorf("reset resolutions: %w", err)
	}
	if r.e.seed != nil {
		rows, err := r.e.seed(ctx)
		if err != nil {
			return fmt.Errorf("read seed catalog: %w", err)
		}
		if r.report.SeedRows, err = store.ApplySeed(ctx, rows, r.e.norm); err != nil {
			return fmt.Errorf("apply seed catalog: %w", err)
		}
	}
	for _, rule := range r.rules {
		n, err := r.seedRule(ctx, rule)
		if err != nil {
			config.LogError(r.e.logger, "catalogRebuild.go", "seedCatalog", "seedRule", rule.ID, err)
			return err
		}
		r.report.Aliases += n
	}
	r.seeded = true
	return nil
}

// seedRule makes sure the rule's target exists as a verified item (and
// variant) and points every key of the rule at it. Merge sources are never
// created; their keys resolve straight to the target.
func (r *rebuild) seedRule(ctx context.Context, rule brain.Rule) (int, error) {
	store := r.e.store
	name, category := r.e.brain.FollowMerges(rule.TargetName, rule.TargetCategory)
	item, _, err := store.InsertOrFetchItem(ctx, catalog.NewItem{
		Name:         name,
		Category:     category,
		PrefixFamily: r.e.norm.PrefixFamily(name),
		Verified:     true,
	})
	if err != nil {
		return 0, err
	}

	var variantId *int
	if rule.Kind == brain.RuleKindAlias && rule.TargetVariant != "" {
		v, _, err := store.InsertOrFetchVariant(ctx, matcher.VariantInfoForToken(rule.TargetVariant), true)
		if err != nil {
			return 0, err
		}
		if _, _, err := store.EnsureLink(ctx, catalog.LinkInput{ItemId: item.ID, VariantId: v.ID, Verified: true}); err != nil {
			return 0, err
		}
		variantId = &v.ID
	}
	for _, key := range rule.Keys {
		if err := store.UpsertAlias(ctx, key, rule.ID, item.ID, variantId); err != nil {
			return 0, err
		}
	}
	return len(rule.Keys), nil
}

func (r *rebuild) reprocessCorpus(ctx context.Context) error {
	if !r.seeded {
		return fmt.Errorf("%w: matching before the catalog is seeded", ErrRebuildOutOfOrder)
	}
	report, err := r.e.pool.Reprocess(ctx)
	r.report.Ingest = report
	if err != nil {
		config.LogError(r.e.logger, "catalogRebuild.go", "reprocessCorpus", "Reprocess", nil, err)
		return err
	}
	return nil
}
