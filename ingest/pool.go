// Package ingest runs order line items through the matcher on a bounded
// worker pool and writes the resolutions back onto the stored corpus.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/menu_backend/catalog"
	"github.com/mmdatafocus/menu_backend/config"
	"github.com/mmdatafocus/menu_backend/matcher"
	"github.com/mmdatafocus/menu_backend/models"
	"github.com/mmdatafocus/menu_backend/normalizer"
	"github.com/mmdatafocus/menu_backend/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const reprocessPageSize = 500

// LineError is a line item that could not be resolved. It never aborts a batch.
type LineError struct {
	OrderRef string `json:"order_ref"`
	LineRef  string `json:"line_ref"`
	RawName  string `json:"raw_name,omitempty"`
	Error    string `json:"error"`
}

type Report struct {
	Orders       int                             `json:"orders"`
	Lines        int                             `json:"lines"`
	NewLines     int                             `json:"new_lines"`
	Resolved     int                             `json:"resolved"`
	ByMethod     map[models.ResolutionMethod]int `json:"by_method"`
	CreatedItems int                             `json:"created_items"`
	Errors       []LineError                     `json:"errors,omitempty"`

	mu      sync.Mutex
	touched map[int]bool
}

func newReport() *Report {
	return &Report{ByMethod: map[models.ResolutionMethod]int{}, touched: map[int]bool{}}
}

func (r *Report) addError(e LineError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, e)
}

func (r *Report) addResolution(res matcher.ResolutionResult, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Resolved++
	r.ByMethod[res.Method]++
	if res.ItemId != nil {
		r.touched[*res.ItemId] = true
	}
	if created {
		r.CreatedItems++
	}
}

// TouchedItems returns the ids of items that gained line items, ascending.
func (r *Report) TouchedItems() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return utils.SortedKeys(r.touched)
}

type Pool struct {
	store       *catalog.Store
	matcher     *matcher.Matcher
	concurrency int
	autoCreate  bool
	observe     func(models.ResolutionMethod)
	validate    *validator.Validate
	logger      *logrus.Logger
}

type Option func(*Pool)

func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithAutoCreate controls whether unmatched names create unverified items.
func WithAutoCreate(on bool) Option {
	return func(p *Pool) { p.autoCreate = on }
}

// WithObserver is called once per resolved line, e.g. to feed metrics.
func WithObserver(fn func(models.ResolutionMethod)) Option {
	return func(p *Pool) { p.observe = fn }
}

func WithLogger(l *logrus.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

func NewPool(store *catalog.Store, m *matcher.Matcher, opts ...Option) *Pool {
	p := &Pool{
		store:       store,
		matcher:     m,
		concurrency: 4,
		autoCreate:  true,
		validate:    validator.New(),
		logger:      config.GetLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process stores the orders' line items and resolves every line that is not
// resolved yet. Re-delivered lines are not resolved or counted twice. The
// returned error is only ever the context's.
func (p *Pool) Process(ctx context.Context, orders []OrderPayload) (*Report, error) {
	report := newReport()
	var pending []*models.OrderLineItem
	for _, order := range orders {
		if err := p.validate.Struct(order); err != nil {
			report.addError(LineError{OrderRef: order.OrderRef, Error: fmt.Sprintf("invalid order: %v", utils.ProcessValidationErrors(err))})
			continue
		}
		report.Orders++
		for _, li := range order.LineItems() {
			report.Lines++
			stored, created, err := p.store.UpsertLineItem(ctx, li)
			if err != nil {
				config.LogError(p.logger, "pool.go", "Process", "UpsertLineItem", li.OrderRef+"/"+li.LineRef, err)
				report.addError(LineError{OrderRef: li.OrderRef, LineRef: li.LineRef, RawName: li.RawName, Error: err.Error()})
				continue
			}
			if created {
				report.NewLines++
			}
			if stored.Method == models.MethodPending {
				pending = append(pending, stored)
			}
		}
	}

	err := p.run(ctx, pending, report)
	if rerr := p.recompute(ctx, report); rerr != nil && err == nil {
		err = rerr
	}
	return report, err
}

// Reprocess resolves every pending line of the stored corpus, page by page.
func (p *Pool) Reprocess(ctx context.Context) (*Report, error) {
	report := newReport()
	afterId := 0
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		page, err := p.store.LineItemsAfter(ctx, afterId, reprocessPageSize, true)
		if err != nil {
			return report, err
		}
		if len(page) == 0 {
			break
		}
		lines := make([]*models.OrderLineItem, len(page))
		for i := range page {
			lines[i] = &page[i]
		}
		report.Lines += len(lines)
		if err := p.run(ctx, lines, report); err != nil {
			// recompute logs its own failure; the run's error is the one returned.
			_ = p.recompute(context.WithoutCancel(ctx), report)
			return report, err
		}
		afterId = page[len(page)-1].ID
	}
	return report, p.recompute(ctx, report)
}

func (p *Pool) run(ctx context.Context, lines []*models.OrderLineItem, report *Report) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, li := range lines {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p.resolveLine(gctx, li, report)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) resolveLine(ctx context.Context, li *models.OrderLineItem, report *Report) {
	res, err := p.matcher.ResolvePriced(ctx, li.RawName, li.UnitPrice)
	if errors.Is(err, normalizer.ErrMalformedInput) {
		report.addError(LineError{OrderRef: li.OrderRef, LineRef: li.LineRef, RawName: li.RawName, Error: err.Error()})
		res = matcher.ResolutionResult{Method: models.MethodUnmatched}
		if serr := p.store.SetResolution(ctx, li.ID, catalog.Resolution{Method: res.Method, Error: err.Error()}); serr != nil {
			config.LogError(p.logger, "pool.go", "resolveLine", "SetResolution", li.ID, serr)
		}
		report.addResolution(res, false)
		p.observed(res.Method)
		return
	}
	if err != nil {
		// Left pending so a later Reprocess picks it up.
		config.LogError(p.logger, "pool.go", "resolveLine", "Resolve", li.RawName, err)
		report.addError(LineError{OrderRef: li.OrderRef, LineRef: li.LineRef, RawName: li.RawName, Error: err.Error()})
		return
	}

	created := false
	if !res.Matched() && p.autoCreate {
		res, created, err = p.createUnverified(ctx, res, li)
		if err != nil {
			config.LogError(p.logger, "pool.go", "resolveLine", "createUnverified", li.RawName, err)
			report.addError(LineError{OrderRef: li.OrderRef, LineRef: li.LineRef, RawName: li.RawName, Error: err.Error()})
			return
		}
	}

	err = p.store.SetResolution(ctx, li.ID, catalog.Resolution{
		ItemId:     res.ItemId,
		VariantId:  res.VariantId,
		Confidence: res.Confidence,
		Method:     res.Method,
	})
	if err != nil {
		config.LogError(p.logger, "pool.go", "resolveLine", "SetResolution", li.ID, err)
		report.addError(LineError{OrderRef: li.OrderRef, LineRef: li.LineRef, RawName: li.RawName, Error: err.Error()})
		return
	}
	report.addResolution(res, created)
	p.observed(res.Method)
}

// createUnverified adds an unverified item for an unmatched name, with a
// suggested merge target for reviewers. The line is attached to the new item
// so it shows up in the item's counters and raw-name family, but it keeps
// method unmatched and no confidence: nothing in the catalog vouched for it.
func (p *Pool) createUnverified(ctx context.Context, res matcher.ResolutionResult, li *models.OrderLineItem) (matcher.ResolutionResult, bool, error) {
	rec := res.Record
	suggested, err := p.matcher.Suggest(ctx, rec.BaseName, rec.Category)
	if err != nil {
		return res, false, err
	}
	item, created, err := p.store.InsertOrFetchItem(ctx, catalog.NewItem{
		Name:              rec.BaseName,
		Category:          rec.Category,
		PrefixFamily:      rec.PrefixFamily,
		SourceRawName:     li.RawName,
		SuggestedTargetId: suggested,
	})
	if err != nil {
		return res, false, err
	}
	variantId, err := p.matcher.LinkVariant(ctx, item.ID, rec, li.UnitPrice)
	if err != nil {
		return res, false, err
	}
	out := res
	out.ItemId = &item.ID
	out.VariantId = variantId
	out.Confidence = nil
	out.Method = models.MethodUnmatched
	return out, created, nil
}

func (p *Pool) observed(method models.ResolutionMethod) {
	if p.observe != nil {
		p.observe(method)
	}
}

func (p *Pool) recompute(ctx context.Context, report *Report) error {
	ids := report.TouchedItems()
	if len(ids) == 0 {
		return nil
	}
	if err := p.store.RecomputeCounters(ctx, ids...); err != nil {
		config.LogError(p.logger, "pool.go", "recompute", "RecomputeCounters", ids, err)
		return err
	}
	return nil
}
