package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mmdatafocus/menu_backend/brain"
	"github.com/mmdatafocus/menu_backend/catalog"
	"github.com/mmdatafocus/menu_backend/config"
	"github.com/mmdatafocus/menu_backend/ingest"
	"github.com/mmdatafocus/menu_backend/matcher"
	"github.com/mmdatafocus/menu_backend/models"
	"github.com/mmdatafocus/menu_backend/normalizer"
	"github.com/mmdatafocus/menu_backend/utils"
	"github.com/shopspring/decimal"
)

type harness struct {
	engine *Engine
	store  *catalog.Store
	brain  *brain.Brain
	pool   *ingest.Pool
	m      *matcher.Matcher
}

func newHarness(t *testing.T, opts ...Option) *harness {
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
	m := matcher.New(normalizer.Default(), store, b)
	pool := ingest.NewPool(store, m, ingest.WithConcurrency(2))
	return &harness{
		engine: NewEngine(store, b, m, pool, utils.NewLocalLocker(), opts...),
		store:  store,
		brain:  b,
		pool:   pool,
		m:      m,
	}
}

func operatorCtx() context.Context {
	return utils.SetOperatorInContext(context.Background(), "alice")
}

func (h *harness) seed(t *testing.T, name string, category models.Category) *models.CanonicalItem {
	t.Helper()
	item, _, err := h.store.InsertOrFetchItem(context.Background(), catalog.NewItem{
		Name: name, Category: category, PrefixFamily: normalizer.Default().PrefixFamily(name), Verified: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return item
}

type sale struct {
	name  string
	qty   int
	price string
}

func (h *harness) ingest(t *testing.T, orderRef string, sales ...sale) {
	t.Helper()
	order := ingest.OrderPayload{Source: "pos", OrderRef: orderRef}
	for i, s := range sales {
		order.Lines = append(order.Lines, ingest.LineItemPayload{
			LineRef:   string(rune('a' + i)),
			Name:      s.name,
			Quantity:  s.qty,
			UnitPrice: decimal.RequireFromString(s.price),
		})
	}
	report, err := h.pool.Process(context.Background(), []ingest.OrderPayload{order})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(report.Errors) > 0 {
		t.Fatalf("ingest errors: %+v", report.Errors)
	}
}

func (h *harness) item(t *testing.T, id int) *models.CanonicalItem {
	t.Helper()
	item, err := h.store.GetItem(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return item
}

func (h *harness) find(t *testing.T, name string, category models.Category) *models.CanonicalItem {
	t.Helper()
	item, err := h.store.FindActiveItem(context.Background(), name, category)
	if err != nil {
		t.Fatalf("FindActiveItem(%s/%s): %v", category, name, err)
	}
	return item
}

const figRaw = "Fig Orange Ice Cream (Regular Tub (300ml))"

func TestVerifyPromotesFuzzyResolutionToAlias(t *testing.T) {
	h := newHarness(t)
	ctx := operatorCtx()
	fig := h.seed(t, "Fig & Orange Ice Cream", models.CategoryIceCream)
	h.ingest(t, "o-1", sale{figRaw, 1, "6.5"})

	first, err := h.m.Resolve(ctx, figRaw)
	if err != nil {
		t.Fatal(err)
	}
	if first.Method != models.MethodFuzzy || *first.ItemId != fig.ID {
		t.Fatalf("expected a fuzzy hit on %d before verification, got %+v", fig.ID, first)
	}
	if h.brain.Len() != 0 {
		t.Fatalf("fuzzy resolutions must not reach the brain, got %d rules", h.brain.Len())
	}

	name := "Fig & Orange Ice Cream"
	res, err := h.engine.VerifyItem(ctx, VerifyInput{ItemId: fig.ID, Name: &name})
	if err != nil {
		t.Fatalf("VerifyItem: %v", err)
	}
	if res.Merge != nil || len(res.Rules) != 1 {
		t.Fatalf("expected one alias rule, got %+v", res)
	}
	rule, ok := h.brain.Lookup(normalizer.RawKey(figRaw))
	if !ok || rule.Kind != brain.RuleKindAlias || rule.TargetVariant != "REGULAR_TUB_300ML" || rule.CreatedBy != "alice" {
		t.Fatalf("unexpected brain rule: %+v ok=%v", rule, ok)
	}

	again, err := h.m.Resolve(ctx, figRaw)
	if err != nil {
		t.Fatal(err)
	}
	if again.Method != models.MethodAlias || *again.Confidence != 100 || *again.ItemId != fig.ID {
		t.Fatalf("expected alias/100 after verification, got %+v", again)
	}
	if again.VariantId == nil || first.VariantId == nil || *again.VariantId != *first.VariantId {
		t.Fatalf("variant changed: %v -> %v", first.VariantId, again.VariantId)
	}

	lines, _ := h.store.LineItemsAfter(ctx, 0, 10, false)
	if len(lines) != 1 || lines[0].Method != models.MethodAlias {
		t.Fatalf("stored line should now be alias-backed: %+v", lines)
	}
	links, _ := h.store.LinksForItem(ctx, fig.ID)
	if len(links) != 1 || !links[0].IsVerified {
		t.Fatalf("links should be verified: %+v", links)
	}
}

func TestVerifyRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := operatorCtx()
	item := h.seed(t, "Vanilla Ice Cream", models.CategoryIceCream)

	bad := models.Category("Pizza")
	if _, err := h.engine.VerifyItem(ctx, VerifyInput{ItemId: item.ID, Category: &bad}); !errors.Is(err, models.ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
	blank := "  "
	if _, err := h.engine.VerifyItem(ctx, VerifyInput{ItemId: item.ID, Name: &blank}); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if _, err := h.engine.VerifyItem(ctx, VerifyInput{ItemId: 9999}); !errors.Is(err, catalog.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestVerifyCorrectionOntoExistingItemMerges(t *testing.T) {
	h := newHarness(t)
	ctx := operatorCtx()
	vanilla := h.seed(t, "Vanilla Ice Cream", models.CategoryIceCream)
	h.ingest(t, "o-1", sale{"Vanilla Ice Cream", 2, "3"}, sale{"Vanila Swirl Cup", 1, "3"})

	swirl := h.find(t, "Vanilla Swirl Cup", models.CategoryUnclassified)
	if swirl.IsVerified {
		t.Fatalf("auto-created item must start unverified")
	}
	name, category := "Vanilla Ice Cream", models.CategoryIceCream
	res, err := h.engine.VerifyItem(ctx, VerifyInput{ItemId: swirl.ID, Name: &name, Category: &category})
	if err != nil {
		t.Fatalf("VerifyItem: %v", err)
	}
	if res.Merge == nil || res.Item.ID != vanilla.ID {
		t.Fatalf("expected a merge into %d, got %+v", vanilla.ID, res)
	}
	if h.item(t, swirl.ID).IsActive {
		t.Fatalf("corrected item should be retired")
	}
	if got := h.item(t, vanilla.ID).TotalSold; got != 3 {
		t.Fatalf("target total sold = %d, want 3", got)
	}
}

func TestVerifyRenameRedirectsOldIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := operatorCtx()
	h.ingest(t, "o-1", sale{"Mango Lasi Drink", 1, "2"})
	item := h.find(t, "Mango Lassi Drink", models.CategoryDrink)

	name := "Mango Lassi"
	res, err := h.engine.VerifyItem(ctx, VerifyInput{ItemId: item.ID, Name: &name})
	if err != nil {
		t.Fatal(err)
	}
	if res.Item.Name != "Mango Lassi" || !res.Item.IsVerified {
		t.Fatalf("unexpected verified item: %+v", res.Item)
	}
	target, category := h.brain.FollowMerges("Mango Lassi Drink", models.CategoryDrink)
	if target != "Mango Lassi" || category != models.CategoryDrink {
		t.Fatalf("old identity resolves to %s/%s", category, target)
	}
	again, err := h.m.Resolve(ctx, "mango lassi drink")
	if err != nil {
		t.Fatal(err)
	}
	if again.Method != models.MethodAlias || *again.ItemId != item.ID {
		t.Fatalf("old name should resolve by alias to %d, got %+v", item.ID, again)
	}
}

// Employee Dessert is merged into Vanilla Scoop across categories.
func mergeScenario(t *testing.T, h *harness) (*models.CanonicalItem, *models.CanonicalItem, *MergeResult) {
	t.Helper()
	target := h.seed(t, "Vanilla Scoop", models.CategoryIceCream)
	h.ingest(t, "o-1", sale{"Vanilla Scoop", 3, "2"}, sale{"Employee Dessert", 2, "1.5"})
	h.ingest(t, "o-2", sale{"employee dessert", 1, "1.5"})
	source := h.find(t, "Employee Dessert", models.CategoryDessert)

	res, err := h.engine.Merge(operatorCtx(), source.ID, target.ID, false)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	return source, target, res
}

func TestMergeConservesCountersAndInheritsTargetCategory(t *testing.T) {
	h := newHarness(t)
	source, target, res := mergeScenario(t, h)

	merged := h.item(t, target.ID)
	if merged.Category != models.CategoryIceCream {
		t.Fatalf("merged category = %s, want Ice Cream", merged.Category)
	}
	want := models.ItemCounters{
		TotalRevenue:   decimal.RequireFromString("10.5"),
		TotalSold:      6,
		SoldStandalone: 6,
	}
	if !merged.Counters().Equal(want) {
		t.Fatalf("merged counters = %+v, want %+v", merged.Counters(), want)
	}

	snap, err := res.History.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if !merged.Counters().Equal(snap.SourceCounters.Add(snap.TargetCounters)) {
		t.Fatalf("counters not conserved: %+v + %+v != %+v", snap.SourceCounters, snap.TargetCounters, merged.Counters())
	}
	if len(snap.LineItemIds) != 2 {
		t.Fatalf("snapshot should hold the source's 2 lines, got %v", snap.LineItemIds)
	}

	retired := h.item(t, source.ID)
	if retired.IsActive || retired.MergedIntoId == nil || *retired.MergedIntoId != target.ID {
		t.Fatalf("source not retired into target: %+v", retired)
	}
	rule, ok := h.brain.Get(res.History.RuleId)
	if !ok || rule.Kind != brain.RuleKindMerge || rule.PrimaryKey() != normalizer.ItemKey("Employee Dessert", models.CategoryDessert) {
		t.Fatalf("merge rule missing: %+v ok=%v", rule, ok)
	}
	if res.History.MergedBy != "alice" {
		t.Fatalf("merged_by = %q", res.History.MergedBy)
	}

	again, err := h.m.Resolve(context.Background(), "Employee Dessert")
	if err != nil {
		t.Fatal(err)
	}
	if again.Method != models.MethodAlias || *again.ItemId != target.ID {
		t.Fatalf("source raw name should alias to target, got %+v", again)
	}
}

func TestRebuildDoesNotResurrectMergedSource(t *testing.T) {
	h := newHarness(t)
	ctx := operatorCtx()
	_, _, _ = mergeScenario(t, h)

	report, err := h.engine.RebuildCatalogFromBrain(ctx)
	if err != nil {
		t.Fatalf("RebuildCatalogFromBrain: %v", err)
	}
	if report.Rules != 1 || report.Ingest == nil || report.Ingest.Resolved != 3 {
		t.Fatalf("unexpected rebuild report: %+v", report)
	}
	if _, err := h.store.FindActiveItem(ctx, "Employee Dessert", models.CategoryDessert); !errors.Is(err, catalog.ErrItemNotFound) {
		t.Fatalf("merged source came back after rebuild (err=%v)", err)
	}
	target := h.find(t, "Vanilla Scoop", models.CategoryIceCream)
	if !target.IsVerified || target.TotalSold != 6 || !target.TotalRevenue.Equal(decimal.RequireFromString("10.5")) {
		t.Fatalf("rebuilt target: %+v", target)
	}
	if items, _ := h.store.ListActiveItems(ctx); len(items) != 1 {
		t.Fatalf("expected only the target after rebuild, got %d items", len(items))
	}

	// A second rebuild lands on the same state.
	if _, err := h.engine.RebuildCatalogFromBrain(ctx); err != nil {
		t.Fatal(err)
	}
	again := h.find(t, "Vanilla Scoop", models.CategoryIceCream)
	if !again.Counters().Equal(target.Counters()) {
		t.Fatalf("second rebuild changed counters: %+v vs %+v", again.Counters(), target.Counters())
	}
}

func TestRebuildAppliesSeedCatalog(t *testing.T) {
	seed := func(ctx context.Context) ([]catalog.SeedRow, error) {
		return []catalog.SeedRow{
			{Name: "Chocolate Ice Cream", Category: models.CategoryIceCream, Variant: "Single Scoop", Price: decimal.NewFromInt(3)},
		}, nil
	}
	h := newHarness(t, WithSeed(seed))
	ctx := operatorCtx()
	h.ingest(t, "o-1", sale{"Choclate Ice Cream (Single Scoop)", 1, "3"})

	report, err := h.engine.RebuildCatalogFromBrain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.SeedRows != 1 {
		t.Fatalf("seed rows = %d", report.SeedRows)
	}
	choc := h.find(t, "Chocolate Ice Cream", models.CategoryIceCream)
	if !choc.IsVerified || choc.TotalSold != 1 {
		t.Fatalf("seeded item: %+v", choc)
	}
	if report.Ingest.ByMethod[models.MethodExact] != 1 {
		t.Fatalf("corpus should resolve exactly against the seed: %v", report.Ingest.ByMethod)
	}
}

func TestRebuildStepsRefuseToRunOutOfOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := &rebuild{e: h.engine}
	if err := r.reprocessCorpus(ctx); !errors.Is(err, ErrRebuildOutOfOrder) {
		t.Fatalf("reprocess before seeding: %v", err)
	}
	if err := r.seedCatalog(ctx); !errors.Is(err, ErrRebuildOutOfOrder) {
		t.Fatalf("seeding before loading: %v", err)
	}
	if err := r.loadRules(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.reprocessCorpus(ctx); !errors.Is(err, ErrRebuildOutOfOrder) {
		t.Fatalf("reprocess before seeding: %v", err)
	}
}

func TestUndoMergeRestoresSource(t *testing.T) {
	h := newHarness(t)
	ctx := operatorCtx()
	source, target, res := mergeScenario(t, h)
	snap, _ := res.History.Snapshot()

	restored, err := h.engine.UndoMerge(ctx, res.History.ID)
	if err != nil {
		t.Fatalf("UndoMerge: %v", err)
	}
	if !restored.IsActive || restored.ID != source.ID || restored.MergedIntoId != nil {
		t.Fatalf("source not restored: %+v", restored)
	}
	if !restored.Counters().Equal(snap.SourceCounters) {
		t.Fatalf("source counters = %+v, want %+v", restored.Counters(), snap.SourceCounters)
	}
	if got := h.item(t, target.ID); !got.Counters().Equal(snap.TargetCounters) {
		t.Fatalf("target counters = %+v, want %+v", got.Counters(), snap.TargetCounters)
	}
	if _, ok := h.brain.Get(res.History.RuleId); ok {
		t.Fatalf("merge rule still in brain")
	}
	if restored.IsVerified {
		t.Fatalf("source verification should be restored to unverified")
	}

	again, err := h.m.Resolve(ctx, "Employee Dessert")
	if err != nil {
		t.Fatal(err)
	}
	if *again.ItemId != source.ID {
		t.Fatalf("source raw name resolves to %d after undo, want %d", *again.ItemId, source.ID)
	}

	if _, err := h.engine.UndoMerge(ctx, res.History.ID); !errors.Is(err, ErrUndoUnavailable) {
		t.Fatalf("second undo: %v", err)
	}
}

func TestUndoUnavailableAfterTargetMergedAgain(t *testing.T) {
	h := newHarness(t)
	ctx := operatorCtx()
	_, target, res := mergeScenario(t, h)
	final := h.seed(t, "Vanilla Bean Scoop", models.CategoryIceCream)

	if _, err := h.engine.Merge(ctx, target.ID, final.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.UndoMerge(ctx, res.History.ID); !errors.Is(err, ErrUndoUnavailable) {
		t.Fatalf("expected ErrUndoUnavailable, got %v", err)
	}
}

func TestUndoUnavailableAfterLaterMergeIntoTarget(t *testing.T) {
	h := newHarness(t)
	ctx := operatorCtx()
	_, target, res := mergeScenario(t, h)
	other := h.seed(t, "Vanilla Cone", models.CategoryIceCream)

	if _, err := h.engine.Merge(ctx, other.ID, target.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.UndoMerge(ctx, res.History.ID); !errors.Is(err, ErrUndoUnavailable) {
		t.Fatalf("expected ErrUndoUnavailable, got %v", err)
	}
	if _, err := h.engine.UndoMerge(ctx, 9999); !errors.Is(err, catalog.ErrMergeNotFound) {
		t.Fatalf("expected ErrMergeNotFound, got %v", err)
	}
}

func TestMergeRejectsAmbiguousRequests(t *testing.T) {
	h := newHarness(t)
	ctx := operatorCtx()
	a := h.seed(t, "Brownie", models.CategoryDessert)
	b := h.seed(t, "Chocolate Brownie", models.CategoryDessert)
	c := h.seed(t, "Fudge Brownie", models.CategoryDessert)
	if _, err := h.engine.Merge(ctx, c.ID, b.ID, false); err != nil {
		t.Fatal(err)
	}
	rulesBefore := h.brain.Len()
	historyBefore, _ := h.engine.ListMergeHistory(ctx, 0)

	cases := []struct {
		name           string
		source, target int
	}{
		{"same item", a.ID, a.ID},
		{"missing target", a.ID, 9999},
		{"missing source", 9999, a.ID},
		{"inactive source", c.ID, a.ID},
		{"inactive target", a.ID, c.ID},
	}
	for _, tc := range cases {
		if _, err := h.engine.Merge(ctx, tc.source, tc.target, false); !errors.Is(err, ErrAmbiguousMerge) {
			t.Fatalf("%s: expected ErrAmbiguousMerge, got %v", tc.name, err)
		}
	}
	if h.brain.Len() != rulesBefore {
		t.Fatalf("rejected merges wrote to the brain")
	}
	historyAfter, _ := h.engine.ListMergeHistory(ctx, 0)
	if len(historyAfter) != len(historyBefore) {
		t.Fatalf("rejected merges wrote history")
	}
	if !h.item(t, a.ID).IsActive {
		t.Fatalf("rejected merge retired the source")
	}
}

func TestMergeAdoptsPricesForSharedVariants(t *testing.T) {
	for _, adopt := range []bool{false, true} {
		h := newHarness(t)
		ctx := operatorCtx()
		source := h.seed(t, "Vanila Tub", models.CategoryIceCream)
		target := h.seed(t, "Vanilla Ice Cream", models.CategoryIceCream)
		shared, _, _ := h.store.InsertOrFetchVariant(ctx, normalizer.ParseVariant("500ml"), true)
		only, _, _ := h.store.InsertOrFetchVariant(ctx, normalizer.ParseVariant("1 l"), true)
		mustLink(t, h.store, source.ID, shared.ID, "9")
		mustLink(t, h.store, source.ID, only.ID, "15")
		mustLink(t, h.store, target.ID, shared.ID, "7")

		res, err := h.engine.Merge(ctx, source.ID, target.ID, adopt)
		if err != nil {
			t.Fatal(err)
		}
		links, _ := h.store.LinksForItem(ctx, target.ID)
		prices := map[int]decimal.Decimal{}
		for _, l := range links {
			prices[l.VariantId] = l.Price
		}
		wantShared := decimal.NewFromInt(7)
		if adopt {
			wantShared = decimal.NewFromInt(9)
		}
		if len(links) != 2 || !prices[shared.ID].Equal(wantShared) || !prices[only.ID].Equal(decimal.NewFromInt(15)) {
			t.Fatalf("adopt=%v: unexpected target links %+v", adopt, links)
		}
		if left, _ := h.store.LinksForItem(ctx, source.ID); len(left) != 0 {
			t.Fatalf("adopt=%v: source kept links %+v", adopt, left)
		}

		if _, err := h.engine.UndoMerge(ctx, res.History.ID); err != nil {
			t.Fatalf("adopt=%v: undo: %v", adopt, err)
		}
		back, _ := h.store.LinksForItem(ctx, source.ID)
		if len(back) != 2 {
			t.Fatalf("adopt=%v: source links not restored: %+v", adopt, back)
		}
		tl, _ := h.store.LinksForItem(ctx, target.ID)
		if len(tl) != 1 || !tl[0].Price.Equal(decimal.NewFromInt(7)) {
			t.Fatalf("adopt=%v: target link not restored: %+v", adopt, tl)
		}
	}
}

func mustLink(t *testing.T, store *catalog.Store, itemId int, variantId int, price string) {
	t.Helper()
	if _, _, err := store.EnsureLink(context.Background(), catalog.LinkInput{
		ItemId: itemId, VariantId: variantId, Price: decimal.RequireFromString(price), Verified: true,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Vanilla Ice Cream", models.CategoryIceCream)
	h.ingest(t, "o-1", sale{"Vanilla Ice Cream", 1, "3"}, sale{"Paneer Tikka Wrap", 1, "5"})

	stats, err := h.engine.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.ActiveItems != 2 || stats.UnverifiedItems != 1 || stats.ByMethod[models.MethodExact] != 1 || stats.ByMethod[models.MethodUnmatched] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestEngineWritesKeepRulesImportedElsewhere(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	other, err := brain.Open(ctx, h.brain.Path(), nil)
	if err != nil {
		t.Fatal(err)
	}
	imported, err := other.Append(ctx, brain.Rule{
		Kind:           brain.RuleKindAlias,
		Keys:           []string{normalizer.RawKey("Kulfee Stick")},
		RawNames:       []string{"Kulfee Stick"},
		TargetName:     "Kulfi Stick",
		TargetCategory: models.CategoryIceCream,
		Verified:       true,
		CreatedBy:      "bob",
	})
	if err != nil {
		t.Fatal(err)
	}

	_, _, res := mergeScenario(t, h)

	onDisk, err := brain.Open(ctx, h.brain.Path(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := onDisk.Get(imported[0].ID); !ok {
		t.Fatalf("merge overwrote a rule written by another process")
	}
	if _, ok := onDisk.Get(res.Rule.ID); !ok {
		t.Fatalf("merge rule missing from disk")
	}
	if _, ok := h.brain.Lookup(normalizer.RawKey("Kulfee Stick")); !ok {
		t.Fatalf("engine should see the imported rule once it holds the lock")
	}
}
