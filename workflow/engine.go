package workflow

import (
	"context"
	"errors"

	"github.com/mmdatafocus/menu_backend/brain"
	"github.com/mmdatafocus/menu_backend/catalog"
	"github.com/mmdatafocus/menu_backend/config"
	"github.com/mmdatafocus/menu_backend/ingest"
	"github.com/mmdatafocus/menu_backend/matcher"
	"github.com/mmdatafocus/menu_backend/models"
	"github.com/mmdatafocus/menu_backend/normalizer"
	"github.com/mmdatafocus/menu_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("menu-resolver/workflow")

var (
	ErrAmbiguousMerge  = errors.New("ambiguous merge")
	ErrUndoUnavailable = errors.New("undo unavailable")
	ErrItemInactive    = errors.New("item is not active")
	ErrInvalidName     = errors.New("item name is required")
)

// SeedSource supplies the seed catalog applied on every rebuild.
type SeedSource func(ctx context.Context) ([]catalog.SeedRow, error)

// Engine runs the human-triggered catalog actions: verification, merge, undo
// and rebuild. Each takes the Brain lock for its whole duration.
type Engine struct {
	store   *catalog.Store
	brain   *brain.Brain
	matcher *matcher.Matcher
	pool    *ingest.Pool
	locker  utils.Locker
	norm    *normalizer.Normalizer
	seed    SeedSource
	logger  *logrus.Logger
}

type Option func(*Engine)

func WithSeed(seed SeedSource) Option {
	return func(e *Engine) { e.seed = seed }
}

func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(store *catalog.Store, b *brain.Brain, m *matcher.Matcher, pool *ingest.Pool, locker utils.Locker, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		brain:   b,
		matcher: m,
		pool:    pool,
		locker:  locker,
		norm:    m.Normalizer(),
		logger:  config.GetLogger(),
	}
	if e.locker == nil {
		e.locker = utils.NewLocalLocker()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// lockBrain takes the Brain lock and brings the in-memory rules up to date
// with the file, which another process may have written.
func (e *Engine) lockBrain(ctx context.Context, moduleName string, funcName string) (func(), error) {
	unlock, err := e.locker.Lock(ctx, brain.LockKey, moduleName, funcName)
	if err != nil {
		return nil, err
	}
	if err := e.brain.Refresh(ctx); err != nil {
		unlock()
		config.LogError(e.logger, moduleName, funcName, "Refresh brain", e.brain.Path(), err)
		return nil, err
	}
	return unlock, nil
}

func (e *Engine) ListUnverifiedItems(ctx context.Context) ([]models.CanonicalItem, error) {
	return e.store.ListUnverifiedItems(ctx)
}

func (e *Engine) ListMergeHistory(ctx context.Context, limit int) ([]models.MergeHistory, error) {
	return e.store.ListMergeHistory(ctx, limit)
}

type Stats struct {
	ByMethod        map[models.ResolutionMethod]int64 `json:"by_method"`
	ActiveItems     int                               `json:"active_items"`
	UnverifiedItems int                               `json:"unverified_items"`
	Aliases         int64                             `json:"aliases"`
	BrainRules      int                               `json:"brain_rules"`
}

func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	byMethod, err := e.store.MethodStats(ctx)
	if err != nil {
		return nil, err
	}
	active, err := e.store.ListActiveItems(ctx)
	if err != nil {
		return nil, err
	}
	unverified := 0
	for _, it := range active {
		if !it.IsVerified {
			unverified++
		}
	}
	aliases, err := e.store.CountAliases(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		ByMethod:        byMethod,
		ActiveItems:     len(active),
		UnverifiedItems: unverified,
		Aliases:         aliases,
		BrainRules:      e.brain.Len(),
	}, nil
}

func uniqueNonEmpty(values ...string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
