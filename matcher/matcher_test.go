package matcher

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/mmdatafocus/menu_backend/brain"
	"github.com/mmdatafocus/menu_backend/catalog"
	"github.com/mmdatafocus/menu_backend/config"
	"github.com/mmdatafocus/menu_backend/models"
	"github.com/mmdatafocus/menu_backend/normalizer"
)

type fixture struct {
	store *catalog.Store
	brain *brain.Brain
	m     *Matcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := config.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	store := catalog.New(db)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	b, err := brain.Open(ctx, filepath.Join(t.TempDir(), "brain.json"), nil)
	if err != nil {
		t.Fatalf("open brain: %v", err)
	}
	return &fixture{store: store, brain: b, m: New(normalizer.Default(), store, b)}
}

func (f *fixture) item(t *testing.T, name string, category models.Category, verified bool) *models.CanonicalItem {
	t.Helper()
	item, _, err := f.store.InsertOrFetchItem(context.Background(), catalog.NewItem{
		Name:         name,
		Category:     category,
		PrefixFamily: normalizer.Default().PrefixFamily(name),
		Verified:     verified,
	})
	if err != nil {
		t.Fatalf("InsertOrFetchItem(%s): %v", name, err)
	}
	return item
}

func TestResolveFuzzyScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.item(t, "Fig & Orange Ice Cream", models.CategoryIceCream, true)
	f.item(t, "Vanilla Ice Cream", models.CategoryIceCream, true)

	res, err := f.m.Resolve(ctx, "Fig Orange Ice Cream (Regular Tub (300ml))")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Method != models.MethodFuzzy {
		t.Fatalf("method = %s, want fuzzy", res.Method)
	}
	if res.ItemId == nil || *res.ItemId != target.ID {
		t.Fatalf("item = %v, want %d", res.ItemId, target.ID)
	}
	if res.Confidence == nil || *res.Confidence < DefaultThreshold || *res.Confidence >= 100 {
		t.Fatalf("confidence = %v, want in [%d, 100)", res.Confidence, DefaultThreshold)
	}
	if res.Record.VariantToken != "REGULAR_TUB_300ML" || res.Record.BaseName != "Fig Orange Ice Cream" {
		t.Fatalf("unexpected record: %+v", res.Record)
	}
	v, err := f.store.GetVariantByName(ctx, "REGULAR_TUB_300ML")
	if err != nil {
		t.Fatalf("variant not created: %v", err)
	}
	if res.VariantId == nil || *res.VariantId != v.ID || v.IsVerified {
		t.Fatalf("variant = %v (verified=%v), want unverified %d", res.VariantId, v.IsVerified, v.ID)
	}
	links, _ := f.store.LinksForItem(ctx, target.ID)
	if len(links) != 1 || links[0].IsVerified {
		t.Fatalf("expected one unverified link, got %+v", links)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.item(t, "Fig & Orange Ice Cream", models.CategoryIceCream, true)
	f.item(t, "Vanilla Ice Cream", models.CategoryIceCream, false)

	for _, raw := range []string{
		"Fig Orange Ice Cream (Regular Tub (300ml))",
		"vanila ice cream 500ml",
		"Vanilla Ice Cream",
		"Totally Unknown Thing",
	} {
		first, err := f.m.Resolve(ctx, raw)
		if err != nil {
			t.Fatalf("%q: %v", raw, err)
		}
		second, err := f.m.Resolve(ctx, raw)
		if err != nil {
			t.Fatalf("%q: %v", raw, err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("%q resolved differently:\n%+v\n%+v", raw, first, second)
		}
	}
}

func TestResolveExactTier(t *testing.T) {
	f := newFixture(t)
	item := f.item(t, "Vanilla Ice Cream", models.CategoryIceCream, false)

	res, err := f.m.Resolve(context.Background(), "VANILA ICE CREAM")
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != models.MethodExact || *res.ItemId != item.ID || *res.Confidence != 100 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.VariantId != nil {
		t.Fatalf("no variant expected, got %d", *res.VariantId)
	}
}

func TestResolveUnmatchedAndMalformed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.item(t, "Fig & Orange Ice Cream", models.CategoryIceCream, true)

	res, err := f.m.Resolve(ctx, "Paneer Tikka Wrap")
	if err != nil {
		t.Fatalf("unmatched must not error: %v", err)
	}
	if res.Method != models.MethodUnmatched || res.ItemId != nil || res.VariantId != nil || res.Confidence != nil {
		t.Fatalf("unexpected unmatched result: %+v", res)
	}

	for _, raw := range []string{"", "   ", "&nbsp;"} {
		if _, err := f.m.Resolve(ctx, raw); !errors.Is(err, normalizer.ErrMalformedInput) {
			t.Fatalf("Resolve(%q) err = %v, want ErrMalformedInput", raw, err)
		}
	}
}

func TestPrefixFamilyKeepsFamiliesApart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plain := f.item(t, "Chocolate Brownie", models.CategoryDessert, true)
	eggless := f.item(t, "Eggless Chocolate Brownie", models.CategoryDessert, true)

	res, err := f.m.Resolve(ctx, "Eggless Dark Chocolate Brownie")
	if err != nil {
		t.Fatal(err)
	}
	if res.ItemId == nil || *res.ItemId != eggless.ID {
		t.Fatalf("eggless raw resolved to %v, want %d", res.ItemId, eggless.ID)
	}
	if res.Strategy != "prefix_family" {
		t.Fatalf("strategy = %q, want prefix_family", res.Strategy)
	}

	res, err = f.m.Resolve(ctx, "Dark Chocolate Brownie")
	if err != nil {
		t.Fatal(err)
	}
	if res.ItemId == nil || *res.ItemId != plain.ID {
		t.Fatalf("plain raw resolved to %v, want %d", res.ItemId, plain.ID)
	}
}

func TestResolveAliasTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "Fig & Orange Ice Cream", models.CategoryIceCream, true)
	raw := "Fig Orange Ice Cream (Regular Tub (300ml))"
	if err := f.store.UpsertAlias(ctx, normalizer.RawKey(raw), "rule-1", item.ID, nil); err != nil {
		t.Fatal(err)
	}

	res, err := f.m.Resolve(ctx, raw)
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != models.MethodAlias || *res.Confidence != 100 || *res.ItemId != item.ID {
		t.Fatalf("unexpected alias result: %+v", res)
	}
	if res.Key != normalizer.RawKey(raw) {
		t.Fatalf("matched key = %q", res.Key)
	}
}

func TestResolveFromBrainRuleFollowsMerges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.brain.Append(ctx,
		brain.Rule{
			Kind:           brain.RuleKindMerge,
			Keys:           []string{normalizer.ItemKey("Employee Dessert", models.CategoryDessert)},
			SourceName:     "Employee Dessert",
			SourceCategory: models.CategoryDessert,
			TargetName:     "Vanilla Scoop",
			TargetCategory: models.CategoryIceCream,
			Verified:       true,
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.m.Resolve(ctx, "Employee Dessert")
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != models.MethodAlias || res.ItemId == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	item, err := f.store.GetItem(ctx, *res.ItemId)
	if err != nil {
		t.Fatal(err)
	}
	if item.Name != "Vanilla Scoop" || item.Category != models.CategoryIceCream || !item.IsVerified {
		t.Fatalf("rule target not materialized as verified item: %+v", item)
	}
	if n, _ := f.store.CountAliases(ctx); n != 1 {
		t.Fatalf("expected the rule key to be cached as an alias, got %d aliases", n)
	}
	if _, err := f.store.FindActiveItem(ctx, "Employee Dessert", models.CategoryDessert); !errors.Is(err, catalog.ErrItemNotFound) {
		t.Fatalf("merge source must not be created, err = %v", err)
	}
}

func TestResolveBrainAliasWithVariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw := "fig orng icecream tub"
	_, err := f.brain.Append(ctx, brain.Rule{
		Kind:           brain.RuleKindAlias,
		Keys:           []string{normalizer.RawKey(raw)},
		RawNames:       []string{raw},
		TargetName:     "Fig & Orange Ice Cream",
		TargetCategory: models.CategoryIceCream,
		TargetVariant:  "REGULAR_TUB_300ML",
		Verified:       true,
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := f.m.Resolve(ctx, raw)
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != models.MethodAlias || res.VariantId == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	v, _ := f.store.GetVariant(ctx, *res.VariantId)
	if v.Name != "REGULAR_TUB_300ML" || !v.IsVerified {
		t.Fatalf("rule variant not materialized as verified: %+v", v)
	}
	links, _ := f.store.LinksForItem(ctx, *res.ItemId)
	if len(links) != 1 || !links[0].IsVerified {
		t.Fatalf("expected a verified link from the rule, got %+v", links)
	}
}

func TestRankTieBreaks(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	list := []Scored{
		{Candidate: catalog.Candidate{ID: 1}, Score: 80},
		{Candidate: catalog.Candidate{ID: 7, VerifiedAt: &older}, Score: 80},
		{Candidate: catalog.Candidate{ID: 9, VerifiedAt: &newer}, Score: 80},
		{Candidate: catalog.Candidate{ID: 3}, Score: 80},
		{Candidate: catalog.Candidate{ID: 5}, Score: 90},
	}
	rank(list)
	var got []int
	for _, s := range list {
		got = append(got, s.Candidate.ID)
	}
	want := []int{5, 9, 7, 1, 3}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("rank order = %v, want %v", got, want)
	}
}

func TestVariantAwarePrefersItemsSellingTheVariant(t *testing.T) {
	variant := 42
	candidates := []catalog.Candidate{
		{ID: 1, Name: "Mango Kulfi", Category: models.CategoryIceCream},
		{ID: 2, Name: "Mango Kulfis", Category: models.CategoryDessert, VariantIds: map[int]bool{variant: true}},
	}
	q := Query{Record: normalizer.Record{BaseName: "Mango Kulfi", Category: models.CategoryUnclassified}, VariantId: &variant}

	hit, ok := VariantAwareStrategy{}.Match(q, candidates, 75)
	if !ok || hit.Candidate.ID != 2 {
		t.Fatalf("expected the candidate with the variant, got %+v ok=%v", hit, ok)
	}

	q.VariantId = nil
	hit, ok = VariantAwareStrategy{}.Match(q, candidates, 75)
	if !ok || hit.Candidate.ID != 1 || hit.Score != 100 {
		t.Fatalf("expected the best overall score without a variant, got %+v ok=%v", hit, ok)
	}
}

func TestSimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"Vanilla", "vanilla", 100},
		{"Fig Orange Ice Cream", "Fig & Orange Ice Cream", 90},
		{"Orange Fig", "Fig Orange", 100},
		{"abc", "", 0},
		{"kitten", "sitting", 57},
	}
	for _, c := range cases {
		if got := Similarity(c.a, c.b); got != c.want {
			t.Errorf("Similarity(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestJaroWinklerSuggester(t *testing.T) {
	candidates := []catalog.Candidate{
		{ID: 1, Name: "Vanilla Ice Cream", NameKey: "vanilla ice cream", Category: models.CategoryIceCream, IsVerified: true},
		{ID: 2, Name: "Vanilla Ice Cream Cone", NameKey: "vanilla ice cream cone", Category: models.CategoryIceCream},
		{ID: 3, Name: "Mango Lassi", NameKey: "mango lassi", Category: models.CategoryDrink, IsVerified: true},
	}
	s := NewJaroWinklerSuggester()
	if got := s.Suggest("Vanilla Ice Creme", models.CategoryIceCream, candidates); got == nil || *got != 1 {
		t.Fatalf("suggestion = %v, want 1", got)
	}
	if got := s.Suggest("Paneer Wrap", models.CategoryUnclassified, candidates); got != nil {
		t.Fatalf("expected no suggestion, got %d", *got)
	}
}
