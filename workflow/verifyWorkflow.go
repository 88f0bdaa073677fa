package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mmdatafocus/menu_backend/brain"
	"github.com/mmdatafocus/menu_backend/catalog"
	"github.com/mmdatafocus/menu_backend/config"
	"github.com/mmdatafocus/menu_backend/matcher"
	"github.com/mmdatafocus/menu_backend/models"
	"github.com/mmdatafocus/menu_backend/normalizer"
	"github.com/mmdatafocus/menu_backend/utils"
	"go.opentelemetry.io/otel/attribute"
)

// VerifyInput confirms an item, optionally correcting its name or category.
type VerifyInput struct {
	ItemId   int
	Name     *string
	Category *models.Category
}

type VerifyResult struct {
	Item  *models.CanonicalItem `json:"item"`
	Rules []brain.Rule          `json:"rules"`
	// Merge is set when the correction collided with an existing active item
	// and the verified item was folded into it.
	Merge *MergeResult `json:"merge,omitempty"`
}

// VerifyItem marks an item verified and writes one alias rule per raw name of
// its family into the Brain. Only verified items ever reach the Brain.
func (e *Engine) VerifyItem(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	ctx, span := tracer.Start(ctx, "workflow.VerifyItem")
	defer span.End()
	span.SetAttributes(attribute.Int("item_id", in.ItemId))

	unlock, err := e.lockBrain(ctx, "verifyWorkflow.go", "VerifyItem")
	if err != nil {
		return nil, err
	}
	defer unlock()
	operator := utils.OperatorFromContext(ctx)

	item, err := e.store.GetItem(ctx, in.ItemId)
	if err != nil {
		return nil, err
	}
	if !item.IsActive {
		return nil, fmt.Errorf("%w: item %d", ErrItemInactive, item.ID)
	}

	name, category := item.Name, item.Category
	if in.Name != nil {
		name = strings.Join(strings.Fields(*in.Name), " ")
		if name == "" {
			return nil, ErrInvalidName
		}
	}
	if in.Category != nil {
		if !in.Category.IsValid() {
			return nil, fmt.Errorf("%w: %q", models.ErrInvalidCategory, *in.Category)
		}
		category = *in.Category
	}

	existing, err := e.store.FindActiveItem(ctx, name, category)
	switch {
	case err == nil && existing.ID != item.ID:
		merged, err := e.mergeLocked(ctx, item.ID, existing.ID, false)
		if err != nil {
			return nil, err
		}
		return &VerifyResult{Item: merged.Target, Rules: []brain.Rule{merged.Rule}, Merge: merged}, nil
	case err != nil && !errors.Is(err, catalog.ErrItemNotFound):
		return nil, err
	}

	oldName, oldCategory := item.Name, item.Category
	var rules []brain.Rule
	appended := false
	err = e.store.Transaction(ctx, func(tx *catalog.Store) error {
		verified, err := tx.VerifyItem(ctx, item.ID, name, category, e.norm.PrefixFamily(name))
		if err != nil {
			return err
		}
		item = verified
		if err := tx.MarkLinksVerified(ctx, item.ID); err != nil {
			return err
		}
		links, err := tx.LinksForItem(ctx, item.ID)
		if err != nil {
			return err
		}
		for _, l := range links {
			v, err := tx.GetVariant(ctx, l.VariantId)
			if err != nil {
				return err
			}
			if _, _, err := tx.InsertOrFetchVariant(ctx, matcher.VariantInfoForToken(v.Name), true); err != nil {
				return err
			}
		}

		rawNames, err := tx.RawNamesForItem(ctx, item.ID, false)
		if err != nil {
			return err
		}
		lineVariants, err := tx.LineVariantsForItem(ctx, item.ID)
		if err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, raw := range uniqueNonEmpty(append(rawNames, item.SourceRawName)...) {
			key := normalizer.RawKey(raw)
			if seen[key] || key == normalizer.RawKey("") {
				continue
			}
			seen[key] = true
			rule := brain.Rule{
				ID:             uuid.NewString(),
				Kind:           brain.RuleKindAlias,
				Keys:           []string{key},
				RawNames:       []string{raw},
				TargetName:     item.Name,
				TargetCategory: item.Category,
				TargetItemId:   item.ID,
				Verified:       true,
				CreatedBy:      operator,
			}
			if vid := lineVariants[raw]; vid != nil {
				v, err := tx.GetVariant(ctx, *vid)
				if err != nil {
					return err
				}
				rule.TargetVariant = v.Name
				rule.TargetVariantId = vid
			}
			if err := tx.UpsertAlias(ctx, key, rule.ID, item.ID, rule.TargetVariantId); err != nil {
				return err
			}
			rules = append(rules, rule)
		}
		if models.NameKey(oldName) != models.NameKey(item.Name) || oldCategory != item.Category {
			// Rules written against the old identity follow it to the new one.
			rename := brain.Rule{
				ID:             uuid.NewString(),
				Kind:           brain.RuleKindMerge,
				Keys:           []string{normalizer.ItemKey(oldName, oldCategory)},
				SourceItemId:   item.ID,
				SourceName:     oldName,
				SourceCategory: oldCategory,
				TargetName:     item.Name,
				TargetCategory: item.Category,
				TargetItemId:   item.ID,
				Verified:       true,
				CreatedBy:      operator,
			}
			if err := tx.UpsertAlias(ctx, rename.PrimaryKey(), rename.ID, item.ID, nil); err != nil {
				return err
			}
			rules = append(rules, rename)
		}
		if err := tx.MarkLinesAlias(ctx, item.ID); err != nil {
			return err
		}
		if len(rules) == 0 {
			return nil
		}
		if rules, err = e.brain.Append(ctx, rules...); err != nil {
			return fmt.Errorf("write alias rules: %w", err)
		}
		appended = true
		return nil
	})
	if err != nil {
		config.LogError(e.logger, "verifyWorkflow.go", "VerifyItem", "Transaction", in.ItemId, err)
		if appended {
			ids := make([]string, len(rules))
			for i, r := range rules {
				ids[i] = r.ID
			}
			if rerr := e.brain.Remove(context.WithoutCancel(ctx), ids...); rerr != nil {
				config.LogError(e.logger, "verifyWorkflow.go", "VerifyItem", "Remove rules after rollback", ids, rerr)
			}
		}
		return nil, err
	}

	config.LogInfo(e.logger, "verifyWorkflow.go", "VerifyItem", "item verified", map[string]interface{}{
		"item_id": item.ID, "name": item.Name, "category": item.Category, "rules": len(rules), "operator": operator,
	})
	return &VerifyResult{Item: item, Rules: rules}, nil
}
