package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/menu_backend/brain"
	"github.com/mmdatafocus/menu_backend/catalog"
	"github.com/mmdatafocus/menu_backend/config"
	"github.com/mmdatafocus/menu_backend/models"
	"github.com/mmdatafocus/menu_backend/utils"
	"go.opentelemetry.io/otel/attribute"
)

// UndoMerge reverses a merge from its snapshot and removes its Brain rule. Only
// the latest unreversed merge touching the pair can be undone, and only while
// the target is still active.
func (e *Engine) UndoMerge(ctx context.Context, mergeId int) (*models.CanonicalItem, error) {
	ctx, span := tracer.Start(ctx, "workflow.UndoMerge")
	defer span.End()
	span.SetAttributes(attribute.Int("merge_id", mergeId))

	unlock, err := e.lockBrain(ctx, "undoMergeWorkflow.go", "UndoMerge")
	if err != nil {
		return nil, err
	}
	defer unlock()
	operator := utils.OperatorFromContext(ctx)

	h, err := e.store.GetMergeHistory(ctx, mergeId)
	if err != nil {
		return nil, err
	}
	if err := e.checkUndoable(ctx, h); err != nil {
		return nil, err
	}
	snap, err := h.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("read merge snapshot %d: %w", h.ID, err)
	}

	rule, hadRule := e.brain.Get(h.RuleId)
	removed := false
	err = e.store.Transaction(ctx, func(tx *catalog.Store) error {
		if err := tx.ReactivateItem(ctx, h.SourceItemId); err != nil {
			return err
		}
		if err := tx.MoveLineItems(ctx, snap.LineItemIds, h.SourceItemId); err != nil {
			return err
		}
		for _, l := range snap.SourceLinks {
			if err := tx.RestoreLink(ctx, l); err != nil {
				return err
			}
		}
		for _, l := range snap.TargetLinks {
			if err := tx.RestoreLink(ctx, l); err != nil {
				return err
			}
		}
		if err := tx.DeleteAliasesByRule(ctx, h.RuleId); err != nil {
			return err
		}
		if err := tx.SetAliasItem(ctx, snap.AliasIds, h.SourceItemId); err != nil {
			return err
		}
		if err := tx.SetVerifiedState(ctx, h.SourceItemId, snap.SourceWasVerified, snap.SourceVerifiedAt); err != nil {
			return err
		}
		if err := tx.SetVerifiedState(ctx, h.TargetItemId, snap.TargetWasVerified, snap.TargetVerifiedAt); err != nil {
			return err
		}
		if err := tx.RecomputeCounters(ctx, h.SourceItemId, h.TargetItemId); err != nil {
			return err
		}
		if err := tx.MarkMergeUndone(ctx, h.ID, operator); err != nil {
			return err
		}
		if !hadRule {
			config.LogInfo(e.logger, "undoMergeWorkflow.go", "UndoMerge", "merge rule already gone from brain", h.RuleId)
			return nil
		}
		if err := e.brain.Remove(ctx, h.RuleId); err != nil && !errors.Is(err, brain.ErrRuleNotFound) {
			return fmt.Errorf("remove merge rule: %w", err)
		}
		removed = true
		return nil
	})
	if err != nil {
		config.LogError(e.logger, "undoMergeWorkflow.go", "UndoMerge", "Transaction", h.ID, err)
		if removed {
			if _, rerr := e.brain.Append(context.WithoutCancel(ctx), rule); rerr != nil {
				config.LogError(e.logger, "undoMergeWorkflow.go", "UndoMerge", "Restore rule after rollback", rule.ID, rerr)
			}
		}
		return nil, err
	}

	config.LogInfo(e.logger, "undoMergeWorkflow.go", "UndoMerge", "merge undone", map[string]interface{}{
		"merge_id": h.ID, "source": h.SourceItemId, "target": h.TargetItemId, "operator": operator,
	})
	return e.store.GetItem(ctx, h.SourceItemId)
}

func (e *Engine) checkUndoable(ctx context.Context, h *models.MergeHistory) error {
	if h.UndoneAt != nil {
		return fmt.Errorf("%w: merge %d was already undone", ErrUndoUnavailable, h.ID)
	}
	target, err := e.store.GetItem(ctx, h.TargetItemId)
	if errors.Is(err, catalog.ErrItemNotFound) {
		return fmt.Errorf("%w: target %d no longer exists", ErrUndoUnavailable, h.TargetItemId)
	}
	if err != nil {
		return err
	}
	if !target.IsActive {
		return fmt.Errorf("%w: target %d has since been merged", ErrUndoUnavailable, target.ID)
	}
	later, err := e.store.LaterMergeTouches(ctx, h.ID, h.SourceItemId, h.TargetItemId)
	if err != nil {
		return err
	}
	if later {
		return fmt.Errorf("%w: a later merge touches item %d or %d", ErrUndoUnavailable, h.SourceItemId, h.TargetItemId)
	}
	taken, err := e.store.ActiveItemExists(ctx, h.SourceName, h.SourceCategory, h.SourceItemId)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: another active item is named %s/%s", ErrUndoUnavailable, h.SourceCategory, h.SourceName)
	}
	return nil
}
