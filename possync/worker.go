package possync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/menu_backend/config"
	"github.com/mmdatafocus/menu_backend/ingest"
	"github.com/mmdatafocus/menu_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errSkipSale = errors.New("sale is not a completed sale")

// Worker pulls sales for one POS source and feeds them through the ingestion
// pool, recording each pull as a sync run.
type Worker struct {
	db        *gorm.DB
	pool      *ingest.Pool
	client    *Client
	source    string
	salesPath string
	pageSize  int
	logger    *logrus.Logger
}

func NewWorker(db *gorm.DB, pool *ingest.Pool, client *Client, source string) *Worker {
	salesPath := strings.TrimSpace(os.Getenv("POS_SALES_PATH"))
	if salesPath == "" {
		salesPath = "/v1/sales"
	}
	if strings.TrimSpace(source) == "" {
		source = "pos"
	}
	return &Worker{
		db:        db,
		pool:      pool,
		client:    client,
		source:    source,
		salesPath: salesPath,
		pageSize:  200,
		logger:    config.GetLogger(),
	}
}

func (w *Worker) Source() string { return w.source }

// CreateRun queues a new sync run.
func (w *Worker) CreateRun(ctx context.Context, triggeredBy string) (*models.SyncRun, error) {
	run := models.SyncRun{
		Source:      w.source,
		Status:      models.SyncRunStatusQueued,
		TriggeredBy: triggeredBy,
	}
	if err := w.db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// ProcessRun executes a queued run. Runs already in a terminal state are left
// untouched so redelivered Pub/Sub messages are harmless.
func (w *Worker) ProcessRun(ctx context.Context, runId uint) error {
	db := w.db.WithContext(ctx)

	var run models.SyncRun
	if err := db.Where("id = ? AND source = ?", runId, w.source).Take(&run).Error; err != nil {
		return err
	}
	if run.Status == models.SyncRunStatusSuccess || run.Status == models.SyncRunStatusFailed || run.Status == models.SyncRunStatusPartial {
		return nil
	}

	cursor, err := w.loadCursor(ctx)
	if err != nil {
		return err
	}
	cursorState := DecodeCursorState(cursor.CursorStateJSON)

	now := time.Now()
	startedAt := run.StartedAt
	if startedAt == nil {
		startedAt = &now
	}
	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}

	stats := map[string]int{}
	synced, errorCount, syncErr := w.syncSales(ctx, run.ID, cursor, &cursorState, stats)
	if syncErr != nil {
		errorCount++
		_ = w.createSyncError(context.WithoutCancel(ctx), run.ID, "sales", "", "sync_failed", syncErr.Error(), nil)
		config.LogError(w.logger, "worker.go", "ProcessRun", "syncSales", run.ID, syncErr)
	}

	finishedAt := time.Now()
	status := models.SyncRunStatusSuccess
	if errorCount > 0 && synced == 0 {
		status = models.SyncRunStatusFailed
	} else if errorCount > 0 {
		status = models.SyncRunStatusPartial
	}

	statsJSON, _ := json.Marshal(stats)
	db = w.db.WithContext(context.WithoutCancel(ctx))
	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":         status,
		"finished_at":    finishedAt,
		"duration_ms":    finishedAt.Sub(*startedAt).Milliseconds(),
		"records_synced": synced,
		"error_count":    errorCount,
		"stats_json":     statsJSON,
	}).Error; err != nil {
		return err
	}

	cursorUpdates := map[string]interface{}{"last_sync_at": finishedAt}
	if status == models.SyncRunStatusSuccess {
		cursorUpdates["last_success_sync_at"] = finishedAt
	}
	if err := db.Model(&models.SyncCursor{}).Where("id = ?", cursor.ID).Updates(cursorUpdates).Error; err != nil {
		return err
	}
	config.LogInfo(w.logger, "worker.go", "ProcessRun", "sync run finished", map[string]interface{}{
		"run_id": run.ID, "source": w.source, "status": status, "synced": synced, "errors": errorCount,
	})
	return nil
}

// syncSales pages through sales updated since the stored cursor. The cursor is
// saved after every page so an interrupted run resumes where it stopped.
func (w *Worker) syncSales(ctx context.Context, runID uint, cursor *models.SyncCursor, state *CursorState, stats map[string]int) (int, int, error) {
	updatedSince := strings.TrimSpace(state.Sales.UpdatedSince)
	if updatedSince == "" && cursor.LastSuccessSyncAt != nil {
		updatedSince = cursor.LastSuccessSyncAt.UTC().Format(time.RFC3339)
	}
	if updatedSince == "" {
		updatedSince = time.Now().Add(-30 * 24 * time.Hour).UTC().Format(time.RFC3339)
	}
	nextCursor := strings.TrimSpace(state.Sales.Cursor)
	total, errorCount := 0, 0

	for {
		params := url.Values{}
		params.Set("updated_since", updatedSince)
		if nextCursor != "" {
			params.Set("cursor", nextCursor)
		}
		params.Set("limit", fmt.Sprint(w.pageSize))

		resp, err := w.client.getList(ctx, w.salesPath, params)
		if err != nil {
			return total, errorCount, err
		}

		var orders []ingest.OrderPayload
		for _, raw := range resp.records() {
			var sale posSale
			if err := json.Unmarshal(raw, &sale); err != nil {
				errorCount++
				_ = w.createSyncError(ctx, runID, "sale", "", "invalid_payload", err.Error(), raw)
				continue
			}
			order, err := toOrder(w.source, sale)
			if errors.Is(err, errSkipSale) {
				stats["skipped"]++
				continue
			}
			if err != nil {
				errorCount++
				_ = w.createSyncError(ctx, runID, "sale", sale.ID, "invalid_sale", err.Error(), raw)
				continue
			}
			orders = append(orders, order)
		}

		if len(orders) > 0 {
			report, err := w.pool.Process(ctx, orders)
			if err != nil {
				return total, errorCount, err
			}
			total += len(orders)
			stats["orders"] += report.Orders
			stats["lines"] += report.Lines
			stats["new_lines"] += report.NewLines
			stats["created_items"] += report.CreatedItems
			for method, n := range report.ByMethod {
				stats["method_"+string(method)] += n
			}
			for _, le := range report.Errors {
				errorCount++
				payload, _ := json.Marshal(le)
				_ = w.createSyncError(ctx, runID, "line", le.OrderRef+"/"+le.LineRef, "ingest_failed", le.Error, payload)
			}
		}

		if resp.done() {
			state.Sales = CursorEntry{UpdatedSince: updatedSince}
		} else {
			state.Sales = CursorEntry{UpdatedSince: updatedSince, Cursor: resp.NextCursor}
		}
		if err := w.saveCursor(ctx, cursor.ID, *state); err != nil {
			return total, errorCount, err
		}
		if resp.done() {
			return total, errorCount, nil
		}
		nextCursor = resp.NextCursor
	}
}

// toOrder maps a POS sale onto the ingestion payload. Modifiers become add-ons
// of their sale item.
func toOrder(source string, sale posSale) (ingest.OrderPayload, error) {
	extID := strings.TrimSpace(sale.ID)
	if extID == "" {
		return ingest.OrderPayload{}, errors.New("sale id missing")
	}
	switch strings.ToLower(strings.TrimSpace(sale.SaleStatus)) {
	case "void", "voided", "cancelled", "canceled", "refunded":
		return ingest.OrderPayload{}, errSkipSale
	}
	if len(sale.Items) == 0 {
		return ingest.OrderPayload{}, fmt.Errorf("sale %s has no items", extID)
	}

	order := ingest.OrderPayload{Source: source, OrderRef: extID}
	if t, ok := parseTime(sale.SaleDate); ok {
		order.OrderedAt = &t
	}
	for i, item := range sale.Items {
		lineRef := strings.TrimSpace(item.ID)
		if lineRef == "" {
			lineRef = fmt.Sprintf("%d", i+1)
		}
		qty := quantityOf(item.Quantity)
		unitPrice := decimalFromNumber(item.UnitPrice)
		net := decimalFromNumber(item.NetAmount)
		if unitPrice.IsZero() && !net.IsZero() {
			unitPrice = net.Div(decimal.NewFromInt(int64(qty)))
		}
		line := ingest.LineItemPayload{
			LineRef:   lineRef,
			Name:      item.Name,
			Quantity:  qty,
			UnitPrice: unitPrice,
		}
		if !net.IsZero() {
			line.LineTotal = &net
		}
		for j, mod := range item.Modifiers {
			ref := strings.TrimSpace(mod.ID)
			if ref != "" {
				ref = lineRef + "/" + ref
			}
			addon := ingest.AddonPayload{
				LineRef:   ref,
				Name:      mod.Name,
				UnitPrice: decimalFromNumber(mod.UnitPrice),
			}
			if mod.Quantity != "" {
				addon.Quantity = quantityOf(mod.Quantity)
			}
			if ref == "" {
				addon.LineRef = fmt.Sprintf("%s/addon/%d", lineRef, j+1)
			}
			line.Addons = append(line.Addons, addon)
		}
		order.Lines = append(order.Lines, line)
	}
	for _, t := range sale.Taxes {
		order.Taxes = append(order.Taxes, ingest.TaxPayload{Name: nameOr(t.Name, "tax"), Amount: decimalFromNumber(t.Amount)})
	}
	for _, d := range sale.Discounts {
		order.Discounts = append(order.Discounts, ingest.DiscountPayload{Name: nameOr(d.Name, "discount"), Amount: decimalFromNumber(d.Amount)})
	}
	return order, nil
}

func (w *Worker) loadCursor(ctx context.Context) (*models.SyncCursor, error) {
	db := w.db.WithContext(ctx)
	seed := models.SyncCursor{Source: w.source}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}
	var cursor models.SyncCursor
	if err := db.Where("source = ?", w.source).Take(&cursor).Error; err != nil {
		return nil, err
	}
	return &cursor, nil
}

func (w *Worker) saveCursor(ctx context.Context, id uint, state CursorState) error {
	return w.db.WithContext(ctx).Model(&models.SyncCursor{}).Where("id = ?", id).
		Update("cursor_state_json", EncodeCursorState(state)).Error
}

func (w *Worker) createSyncError(ctx context.Context, runID uint, entityType string, externalId string, code string, message string, payload []byte) error {
	e := models.SyncError{
		SyncRunId:   runID,
		EntityType:  entityType,
		ExternalId:  externalId,
		ErrorCode:   code,
		Message:     message,
		PayloadJSON: payload,
	}
	return w.db.WithContext(ctx).Create(&e).Error
}

func decimalFromNumber(n json.Number) decimal.Decimal {
	if n == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

// quantityOf rounds fractional POS quantities and treats missing or
// non-positive values as one unit.
func quantityOf(n json.Number) int {
	q := decimalFromNumber(n).Round(0).IntPart()
	if q <= 0 {
		return 1
	}
	return int(q)
}

func parseTime(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func nameOr(v string, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}
