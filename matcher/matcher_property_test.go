package matcher

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/mmdatafocus/menu_backend/models"
	"github.com/mmdatafocus/menu_backend/normalizer"
)

// Property: exact and alias results score 100, fuzzy results never fall below
// the threshold, and unmatched results carry no references.
func TestConfidenceMonotonicity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.item(t, "Vanilla Ice Cream", models.CategoryIceCream, true)
	f.item(t, "Fig & Orange Ice Cream", models.CategoryIceCream, true)
	f.item(t, "Eggless Chocolate Brownie", models.CategoryDessert, true)
	f.item(t, "Mango Lassi", models.CategoryDrink, false)

	words := []string{"vanilla", "vanila", "fig", "orange", "&", "ice", "cream", "eggless", "chocolate",
		"brownie", "mango", "lassi", "300ml", "(Regular Tub (300ml))", "double scoop", "kids"}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 150
	properties := gopter.NewProperties(parameters)

	properties.Property("confidence follows the method", prop.ForAll(
		func(parts []string) bool {
			res, err := f.m.Resolve(ctx, strings.Join(parts, " "))
			if err != nil {
				return errors.Is(err, normalizer.ErrMalformedInput)
			}
			switch res.Method {
			case models.MethodAlias, models.MethodExact:
				return res.ItemId != nil && res.Confidence != nil && *res.Confidence == 100
			case models.MethodFuzzy:
				return res.ItemId != nil && res.Confidence != nil &&
					*res.Confidence >= f.m.Threshold() && *res.Confidence <= 100
			case models.MethodUnmatched:
				return res.ItemId == nil && res.VariantId == nil && res.Confidence == nil
			}
			return false
		},
		gen.SliceOfN(4, gen.OneConstOf(toInterfaces(words)...)).Map(func(v []string) []string {
			out := make([]string, len(v))
			for i := range v {
				out[i] = v[i]
			}
			return out
		}),
	))

	properties.Property("resolution is idempotent", prop.ForAll(
		func(parts []string) bool {
			raw := strings.Join(parts, " ")
			a, errA := f.m.Resolve(ctx, raw)
			b, errB := f.m.Resolve(ctx, raw)
			if errA != nil || errB != nil {
				return errors.Is(errA, normalizer.ErrMalformedInput) && errors.Is(errB, normalizer.ErrMalformedInput)
			}
			return a.Method == b.Method && eqInt(a.ItemId, b.ItemId) && eqInt(a.VariantId, b.VariantId) && eqInt(a.Confidence, b.Confidence)
		},
		gen.SliceOfN(3, gen.OneConstOf(toInterfaces(words)...)).Map(func(v []string) []string {
			out := make([]string, len(v))
			for i := range v {
				out[i] = v[i]
			}
			return out
		}),
	))

	properties.TestingRun(t)
}

func toInterfaces(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func eqInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
