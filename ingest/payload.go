package ingest

import (
	"strconv"
	"time"

	"github.com/mmdatafocus/menu_backend/models"
	"github.com/shopspring/decimal"
)

// OrderPayload is one POS order as delivered by the sync adapter. Only the
// line and add-on names reach the resolution engine.
type OrderPayload struct {
	Source    string            `json:"source" validate:"required,max=50"`
	OrderRef  string            `json:"order_ref" validate:"required,max=100"`
	OrderedAt *time.Time        `json:"ordered_at"`
	Lines     []LineItemPayload `json:"lines" validate:"required,min=1,dive"`
	Taxes     []TaxPayload      `json:"taxes" validate:"dive"`
	Discounts []DiscountPayload `json:"discounts" validate:"dive"`
}

type LineItemPayload struct {
	LineRef   string          `json:"line_ref" validate:"required,max=100"`
	Name      string          `json:"name" validate:"max=500"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	// LineTotal overrides Quantity * UnitPrice when the POS reports it.
	LineTotal *decimal.Decimal `json:"line_total"`
	Addons    []AddonPayload   `json:"addons" validate:"dive"`
}

// AddonPayload is an add-on sold on a parent line. A zero quantity means one
// per parent unit.
type AddonPayload struct {
	LineRef   string          `json:"line_ref" validate:"max=100"`
	Name      string          `json:"name" validate:"max=500"`
	Quantity  int             `json:"quantity" validate:"gte=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type TaxPayload struct {
	Name   string          `json:"name" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type DiscountPayload struct {
	Name   string          `json:"name" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// LineItems flattens the order into stored line items, add-ons after their
// parent. Revenue is the gross line total; taxes and discounts are order-level.
func (o OrderPayload) LineItems() []*models.OrderLineItem {
	var out []*models.OrderLineItem
	for _, l := range o.Lines {
		revenue := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		if l.LineTotal != nil {
			revenue = *l.LineTotal
		}
		out = append(out, &models.OrderLineItem{
			Source:    o.Source,
			OrderRef:  o.OrderRef,
			LineRef:   l.LineRef,
			RawName:   l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Revenue:   revenue,
			OrderedAt: o.OrderedAt,
		})
		for i, a := range l.Addons {
			qty := a.Quantity
			if qty == 0 {
				qty = l.Quantity
			}
			ref := a.LineRef
			if ref == "" {
				ref = l.LineRef + "/addon/" + strconv.Itoa(i+1)
			}
			out = append(out, &models.OrderLineItem{
				Source:        o.Source,
				OrderRef:      o.OrderRef,
				LineRef:       ref,
				ParentLineRef: l.LineRef,
				RawName:       a.Name,
				Quantity:      qty,
				UnitPrice:     a.UnitPrice,
				Revenue:       a.UnitPrice.Mul(decimal.NewFromInt(int64(qty))),
				IsAddon:       true,
				OrderedAt:     o.OrderedAt,
			})
		}
	}
	return out
}

// TaxTotal and DiscountTotal are reported per batch; they are not spread over lines.
func (o OrderPayload) TaxTotal() decimal.Decimal {
	total := decimal.Zero
	for _, t := range o.Taxes {
		total = total.Add(t.Amount)
	}
	return total
}

func (o OrderPayload) DiscountTotal() decimal.Decimal {
	total := decimal.Zero
	for _, d := range o.Discounts {
		total = total.Add(d.Amount)
	}
	return total
}
