// Package matcher resolves raw line-item names to catalog items and variants.
// Tiers are tried in order and the first hit wins: alias (catalog alias table,
// then the Brain), exact catalog lookup, then the fuzzy strategies.
package matcher

import (
	"context"
	"errors"

	"github.com/mmdatafocus/menu_backend/brain"
	"github.com/mmdatafocus/menu_backend/catalog"
	"github.com/mmdatafocus/menu_backend/config"
	"github.com/mmdatafocus/menu_backend/models"
	"github.com/mmdatafocus/menu_backend/normalizer"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const DefaultThreshold = 75

type Matcher struct {
	norm       *normalizer.Normalizer
	store      *catalog.Store
	brain      *brain.Brain
	threshold  int
	strategies []FuzzyStrategy
	suggester  Suggester
	logger     *logrus.Logger
}

type Option func(*Matcher)

func WithThreshold(t int) Option {
	return func(m *Matcher) { m.threshold = t }
}

func WithStrategies(s ...FuzzyStrategy) Option {
	return func(m *Matcher) { m.strategies = s }
}

func WithSuggester(s Suggester) Option {
	return func(m *Matcher) { m.suggester = s }
}

func WithLogger(l *logrus.Logger) Option {
	return func(m *Matcher) { m.logger = l }
}

// New builds a matcher. b may be nil, in which case only the catalog alias
// table backs the alias tier.
func New(norm *normalizer.Normalizer, store *catalog.Store, b *brain.Brain, opts ...Option) *Matcher {
	m := &Matcher{
		norm:       norm,
		store:      store,
		brain:      b,
		threshold:  DefaultThreshold,
		strategies: DefaultStrategies(),
		suggester:  NewJaroWinklerSuggester(),
		logger:     config.GetLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Matcher) Normalizer() *normalizer.Normalizer { return m.norm }

func (m *Matcher) Threshold() int { return m.threshold }

// WithStore returns a copy of the matcher that reads and writes through s,
// typically a transaction-bound store.
func (m *Matcher) WithStore(s *catalog.Store) *Matcher {
	cp := *m
	cp.store = s
	return &cp
}

// Resolve normalizes raw and resolves it. Only malformed input is an error.
func (m *Matcher) Resolve(ctx context.Context, raw string) (ResolutionResult, error) {
	return m.ResolvePriced(ctx, raw, decimal.Zero)
}

// ResolvePriced is Resolve with a unit price used for item-variant links the
// resolution creates.
func (m *Matcher) ResolvePriced(ctx context.Context, raw string, price decimal.Decimal) (ResolutionResult, error) {
	rec, err := m.norm.Normalize(raw)
	if err != nil {
		return ResolutionResult{}, err
	}
	return m.ResolveRecord(ctx, rec, price)
}

func (m *Matcher) ResolveRecord(ctx context.Context, rec normalizer.Record, price decimal.Decimal) (ResolutionResult, error) {
	if res, ok, err := m.resolveAlias(ctx, rec, price); err != nil || ok {
		return res, err
	}
	if res, ok, err := m.resolveExact(ctx, rec, price); err != nil || ok {
		return res, err
	}
	if res, ok, err := m.resolveFuzzy(ctx, rec, price); err != nil || ok {
		return res, err
	}
	return unmatched(rec), nil
}

func (m *Matcher) resolveAlias(ctx context.Context, rec normalizer.Record, price decimal.Decimal) (ResolutionResult, bool, error) {
	keys := rec.LookupKeys()
	alias, key, found, err := m.store.LookupAlias(ctx, keys)
	if err != nil {
		return ResolutionResult{}, false, err
	}
	if found {
		item, err := m.store.ResolveMergeChain(ctx, alias.ItemId)
		switch {
		case err != nil && !errors.Is(err, catalog.ErrItemNotFound):
			return ResolutionResult{}, false, err
		case err == nil && item.IsActive:
			variantId := alias.VariantId
			fromRule := variantId != nil
			if !fromRule {
				if variantId, err = m.variantFor(ctx, rec); err != nil {
					return ResolutionResult{}, false, err
				}
			}
			if err := m.link(ctx, item.ID, variantId, price, fromRule); err != nil {
				return ResolutionResult{}, false, err
			}
			return ResolutionResult{
				ItemId: intPtr(item.ID), VariantId: variantId, Confidence: intPtr(100),
				Method: models.MethodAlias, Key: key, Record: rec,
			}, true, nil
		}
	}
	if m.brain == nil {
		return ResolutionResult{}, false, nil
	}
	rule, key, ok := m.brain.LookupAny(keys)
	if !ok {
		return ResolutionResult{}, false, nil
	}
	return m.resolveRule(ctx, rec, rule, key, price)
}

// resolveRule materializes a Brain rule the alias table does not carry yet and
// records the alias for later lookups.
func (m *Matcher) resolveRule(ctx context.Context, rec normalizer.Record, rule brain.Rule, key string, price decimal.Decimal) (ResolutionResult, bool, error) {
	name, category := m.brain.FollowMerges(rule.TargetName, rule.TargetCategory)
	item, _, err := m.store.InsertOrFetchItem(ctx, catalog.NewItem{
		Name:         name,
		Category:     category,
		PrefixFamily: m.norm.PrefixFamily(name),
		Verified:     true,
	})
	if err != nil {
		return ResolutionResult{}, false, err
	}

	var variantId *int
	fromRule := rule.TargetVariant != ""
	if fromRule {
		v, _, err := m.store.InsertOrFetchVariant(ctx, VariantInfoForToken(rule.TargetVariant), true)
		if err != nil {
			return ResolutionResult{}, false, err
		}
		variantId = intPtr(v.ID)
	} else if variantId, err = m.variantFor(ctx, rec); err != nil {
		return ResolutionResult{}, false, err
	}
	if err := m.link(ctx, item.ID, variantId, price, fromRule); err != nil {
		return ResolutionResult{}, false, err
	}

	var aliasVariant *int
	if fromRule {
		aliasVariant = variantId
	}
	if err := m.store.UpsertAlias(ctx, key, rule.ID, item.ID, aliasVariant); err != nil {
		config.LogError(m.logger, "matcher.go", "resolveRule", "UpsertAlias", key, err)
	}
	return ResolutionResult{
		ItemId: intPtr(item.ID), VariantId: variantId, Confidence: intPtr(100),
		Method: models.MethodAlias, Key: key, Record: rec,
	}, true, nil
}

func (m *Matcher) resolveExact(ctx context.Context, rec normalizer.Record, price decimal.Decimal) (ResolutionResult, bool, error) {
	item, err := m.store.FindActiveItem(ctx, rec.BaseName, rec.Category)
	if errors.Is(err, catalog.ErrItemNotFound) {
		return ResolutionResult{}, false, nil
	}
	if err != nil {
		return ResolutionResult{}, false, err
	}
	variantId, err := m.variantFor(ctx, rec)
	if err != nil {
		return ResolutionResult{}, false, err
	}
	if err := m.link(ctx, item.ID, variantId, price, false); err != nil {
		return ResolutionResult{}, false, err
	}
	return ResolutionResult{
		ItemId: intPtr(item.ID), VariantId: variantId, Confidence: intPtr(100),
		Method: models.MethodExact, Record: rec,
	}, true, nil
}

func (m *Matcher) resolveFuzzy(ctx context.Context, rec normalizer.Record, price decimal.Decimal) (ResolutionResult, bool, error) {
	candidates, err := m.store.Candidates(ctx)
	if err != nil {
		return ResolutionResult{}, false, err
	}
	if len(candidates) == 0 {
		return ResolutionResult{}, false, nil
	}
	q := Query{Record: rec}
	if rec.HasVariant() {
		v, err := m.store.GetVariantByName(ctx, rec.VariantToken)
		switch {
		case err == nil:
			q.VariantId = intPtr(v.ID)
		case !errors.Is(err, catalog.ErrVariantNotFound):
			return ResolutionResult{}, false, err
		}
	}

	for _, strategy := range m.strategies {
		hit, ok := strategy.Match(q, candidates, m.threshold)
		if !ok {
			continue
		}
		variantId, err := m.variantFor(ctx, rec)
		if err != nil {
			return ResolutionResult{}, false, err
		}
		if err := m.link(ctx, hit.Candidate.ID, variantId, price, false); err != nil {
			return ResolutionResult{}, false, err
		}
		return ResolutionResult{
			ItemId: intPtr(hit.Candidate.ID), VariantId: variantId, Confidence: intPtr(hit.Score),
			Method: models.MethodFuzzy, Strategy: strategy.Name(), Record: rec,
		}, true, nil
	}
	return ResolutionResult{}, false, nil
}

// LinkVariant insert-or-fetches the record's variant and links it to itemId
// as unverified. It returns nil when the record carries no variant.
func (m *Matcher) LinkVariant(ctx context.Context, itemId int, rec normalizer.Record, price decimal.Decimal) (*int, error) {
	variantId, err := m.variantFor(ctx, rec)
	if err != nil {
		return nil, err
	}
	if err := m.link(ctx, itemId, variantId, price, false); err != nil {
		return nil, err
	}
	return variantId, nil
}

// variantFor insert-or-fetches the record's variant as unverified.
func (m *Matcher) variantFor(ctx context.Context, rec normalizer.Record) (*int, error) {
	if !rec.HasVariant() {
		return nil, nil
	}
	v, _, err := m.store.InsertOrFetchVariant(ctx, normalizer.VariantInfo{
		Token: rec.VariantToken,
		Label: rec.VariantLabel,
		Unit:  rec.VariantUnit,
		Value: rec.VariantValue,
	}, false)
	if err != nil {
		return nil, err
	}
	return intPtr(v.ID), nil
}

func (m *Matcher) link(ctx context.Context, itemId int, variantId *int, price decimal.Decimal, verified bool) error {
	if variantId == nil {
		return nil
	}
	_, _, err := m.store.EnsureLink(ctx, catalog.LinkInput{
		ItemId:    itemId,
		VariantId: *variantId,
		Price:     price,
		Verified:  verified,
	})
	return err
}

// Suggest proposes a verified merge target for an item named name.
func (m *Matcher) Suggest(ctx context.Context, name string, category models.Category) (*int, error) {
	if m.suggester == nil {
		return nil, nil
	}
	candidates, err := m.store.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	return m.suggester.Suggest(name, category, candidates), nil
}

// VariantInfoForToken rebuilds variant details from a stored canonical token.
func VariantInfoForToken(token string) normalizer.VariantInfo {
	info := normalizer.ParseVariant(token)
	info.Token = token
	return info
}
