package matcher

import (
	"github.com/mmdatafocus/menu_backend/models"
	"github.com/mmdatafocus/menu_backend/normalizer"
)

// ResolutionResult is the outcome of resolving one raw name. Unmatched is a
// result, not an error: ItemId, VariantId and Confidence are nil.
type ResolutionResult struct {
	ItemId     *int                    `json:"item_id"`
	VariantId  *int                    `json:"variant_id"`
	Confidence *int                    `json:"confidence"`
	Method     models.ResolutionMethod `json:"method"`
	// Key is the alias key that matched, for alias results.
	Key string `json:"key,omitempty"`
	// Strategy names the fuzzy tier that matched, for fuzzy results.
	Strategy string            `json:"strategy,omitempty"`
	Record   normalizer.Record `json:"record"`
}

func (r ResolutionResult) Matched() bool {
	return r.ItemId != nil
}

func unmatched(rec normalizer.Record) ResolutionResult {
	return ResolutionResult{Method: models.MethodUnmatched, Record: rec}
}

func intPtr(v int) *int { return &v }
