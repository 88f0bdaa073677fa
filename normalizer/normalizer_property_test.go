package normalizer

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: Normalize(x) == Normalize(x), and the hint is always within [0, 100].
func TestNormalizeIsDeterministicAndBounded(t *testing.T) {
	n := Default()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("normalize is deterministic", prop.ForAll(
		func(raw string) bool {
			a, errA := n.Normalize(raw)
			b, errB := n.Normalize(raw)
			if errA != nil || errB != nil {
				return errors.Is(errA, ErrMalformedInput) && errors.Is(errB, ErrMalformedInput)
			}
			return a.BaseName == b.BaseName &&
				a.Category == b.Category &&
				a.VariantToken == b.VariantToken &&
				a.ConfidenceHint == b.ConfidenceHint
		},
		gen.AnyString(),
	))

	properties.Property("hint is bounded and base is non-empty", prop.ForAll(
		func(raw string) bool {
			rec, err := n.Normalize(raw)
			if err != nil {
				return errors.Is(err, ErrMalformedInput)
			}
			return rec.ConfidenceHint >= 0 && rec.ConfidenceHint <= 100 && strings.TrimSpace(rec.BaseName) != ""
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// Property: a nested size hint is removed whole and never truncates the base name.
func TestNestedSizeHintNeverTruncatesBase(t *testing.T) {
	n := Default()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("base survives nested parentheses", prop.ForAll(
		func(flavor string, size string, ml int) bool {
			raw := fmt.Sprintf("%s Ice Cream (%s (%dml))", flavor, size, ml)
			rec, err := n.Normalize(raw)
			if err != nil {
				return false
			}
			wantToken := upperSnake(fmt.Sprintf("%s %dml", size, ml))
			return rec.BaseName == flavor+" Ice Cream" && rec.VariantToken == wantToken
		},
		gen.OneConstOf("Fig Orange", "Old Fashion Vanilla", "Salted Caramel", "Mango"),
		gen.OneConstOf("Regular Tub", "Perfect Plenty", "Family Pack", "Single Scoop"),
		gen.IntRange(1, 2000),
	))

	properties.TestingRun(t)
}
