package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/menu_backend/brain"
	"github.com/mmdatafocus/menu_backend/catalog"
	"github.com/mmdatafocus/menu_backend/config"
	"github.com/mmdatafocus/menu_backend/models"
	"github.com/mmdatafocus/menu_backend/normalizer"
	"github.com/mmdatafocus/menu_backend/utils"
	"go.opentelemetry.io/otel/attribute"
)

type MergeResult struct {
	History *models.MergeHistory  `json:"history"`
	Target  *models.CanonicalItem `json:"target"`
	Rule    brain.Rule            `json:"rule"`
}

// Merge folds source into target: links, line items and aliases move to the
// target, the source is retired and a merge rule is written to the Brain.
// With adoptPrices set, shared variants take the source's price.
func (e *Engine) Merge(ctx context.Context, sourceId int, targetId int, adoptPrices bool) (*MergeResult, error) {
	ctx, span := tracer.Start(ctx, "workflow.Merge")
	defer span.End()
	span.SetAttributes(attribute.Int("source_id", sourceId), attribute.Int("target_id", targetId))

	unlock, err := e.lockBrain(ctx, "mergeWorkflow.go", "Merge")
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.mergeLocked(ctx, sourceId, targetId, adoptPrices)
}

func (e *Engine) mergeLocked(ctx context.Context, sourceId int, targetId int, adoptPrices bool) (*MergeResult, error) {
	operator := utils.OperatorFromContext(ctx)
	if sourceId == targetId {
		return nil, fmt.Errorf("%w: source and target are both %d", ErrAmbiguousMerge, sourceId)
	}
	source, err := e.store.GetItem(ctx, sourceId)
	if err != nil {
		return nil, mergeLookupErr(err)
	}
	target, err := e.store.GetItem(ctx, targetId)
	if err != nil {
		return nil, mergeLookupErr(err)
	}
	if !source.IsActive || !target.IsActive {
		return nil, fmt.Errorf("%w: source %d active=%v, target %d active=%v",
			ErrAmbiguousMerge, source.ID, source.IsActive, target.ID, target.IsActive)
	}

	rule := brain.Rule{
		ID:             uuid.NewString(),
		Kind:           brain.RuleKindMerge,
		SourceItemId:   source.ID,
		SourceName:     source.Name,
		SourceCategory: source.Category,
		TargetName:     target.Name,
		TargetCategory: target.Category,
		TargetItemId:   target.ID,
		Verified:       true,
		CreatedBy:      operator,
	}
	history := &models.MergeHistory{
		SourceItemId:   source.ID,
		SourceName:     source.Name,
		SourceCategory: source.Category,
		TargetItemId:   target.ID,
		AdoptPrices:    adoptPrices,
		RuleId:         rule.ID,
		MergedBy:       operator,
	}

	appended := false
	err = e.store.Transaction(ctx, func(tx *catalog.Store) error {
		sourceLinks, err := tx.LinksForItem(ctx, source.ID)
		if err != nil {
			return err
		}
		targetLinks, err := tx.LinksForItem(ctx, target.ID)
		if err != nil {
			return err
		}
		lineIds, err := tx.LineItemIdsForItem(ctx, source.ID)
		if err != nil {
			return err
		}
		rawNames, err := tx.RawNamesForItem(ctx, source.ID, false)
		if err != nil {
			return err
		}
		snap := models.MergeSnapshot{
			SourceCounters:    source.Counters(),
			TargetCounters:    target.Counters(),
			SourceLinks:       sourceLinks,
			TargetLinks:       targetLinks,
			LineItemIds:       lineIds,
			TargetWasVerified: target.IsVerified,
			TargetVerifiedAt:  target.VerifiedAt,
			SourceWasVerified: source.IsVerified,
			SourceVerifiedAt:  source.VerifiedAt,
		}

		byVariant := make(map[int]models.ItemVariantLink, len(targetLinks))
		for _, l := range targetLinks {
			byVariant[l.VariantId] = l
		}
		for _, l := range sourceLinks {
			shared, ok := byVariant[l.VariantId]
			if !ok {
				if err := tx.MoveLink(ctx, l.ID, target.ID); err != nil {
					return err
				}
				continue
			}
			if adoptPrices {
				if err := tx.SetLinkPrice(ctx, shared.ID, l.Price); err != nil {
					return err
				}
			}
			if err := tx.DeleteLink(ctx, l.ID); err != nil {
				return err
			}
		}

		if err := tx.MoveLineItems(ctx, lineIds, target.ID); err != nil {
			return err
		}
		if snap.AliasIds, err = tx.ReassignAliases(ctx, source.ID, target.ID); err != nil {
			return err
		}
		if err := tx.RetireItem(ctx, source.ID, target.ID); err != nil {
			return err
		}
		if !target.IsVerified {
			t := time.Now().UTC()
			if err := tx.SetVerifiedState(ctx, target.ID, true, &t); err != nil {
				return err
			}
		}
		if err := tx.RecomputeCounters(ctx, source.ID, target.ID); err != nil {
			return err
		}

		rule.RawNames = uniqueNonEmpty(append(rawNames, source.SourceRawName)...)
		rule.Keys = []string{normalizer.ItemKey(source.Name, source.Category)}
		for _, raw := range rule.RawNames {
			rule.Keys = append(rule.Keys, normalizer.RawKey(raw))
		}
		rule.Keys = uniqueNonEmpty(rule.Keys...)
		for _, key := range rule.Keys {
			// Aliases already moved with the source keep their own rule.
			if alias, _, found, err := tx.LookupAlias(ctx, []string{key}); err != nil {
				return err
			} else if found && alias.ItemId == target.ID {
				continue
			}
			if err := tx.UpsertAlias(ctx, key, rule.ID, target.ID, nil); err != nil {
				return err
			}
		}

		if err := history.SetSnapshot(snap); err != nil {
			return err
		}
		if err := tx.CreateMergeHistory(ctx, history); err != nil {
			return err
		}
		if _, err := e.brain.Append(ctx, rule); err != nil {
			return fmt.Errorf("write merge rule: %w", err)
		}
		appended = true
		return nil
	})
	if err != nil {
		config.LogError(e.logger, "mergeWorkflow.go", "Merge", "Transaction", map[string]int{"source": source.ID, "target": target.ID}, err)
		if appended {
			if rerr := e.brain.Remove(context.WithoutCancel(ctx), rule.ID); rerr != nil {
				config.LogError(e.logger, "mergeWorkflow.go", "Merge", "Remove rule after rollback", rule.ID, rerr)
			}
		}
		return nil, err
	}

	merged, err := e.store.GetItem(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	config.LogInfo(e.logger, "mergeWorkflow.go", "Merge", "items merged", map[string]interface{}{
		"merge_id": history.ID, "source": source.ID, "target": target.ID, "adopt_prices": adoptPrices, "operator": operator,
	})
	return &MergeResult{History: history, Target: merged, Rule: rule}, nil
}

func mergeLookupErr(err error) error {
	if errors.Is(err, catalog.ErrItemNotFound) {
		return fmt.Errorf("%w: %w", ErrAmbiguousMerge, err)
	}
	return err
}
