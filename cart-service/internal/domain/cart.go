package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// LineItem is one entry in the cart, keyed by the purchasable unit id
// (a product or one of its variations).
type LineItem struct {
	ID                     string          `json:"id"`
	Name                   string          `json:"name"`
	UnitPrice              decimal.Decimal `json:"unit_price"`
	Quantity               int             `json:"quantity"`
	RequiresInventoryCheck bool            `json:"requires_inventory_check"`
	HasVariants            bool            `json:"has_variants"`
}

// MaxLineQuantity bounds the quantity a single line may hold.
const MaxLineQuantity = 9999

// AddQuantity sums two non-negative quantities, saturating at MaxLineQuantity.
func AddQuantity(a, b int) int {
	if b > MaxLineQuantity-a {
		return MaxLineQuantity
	}
	return a + b
}

// Subtotal returns UnitPrice * Quantity.
func (i LineItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// StockLevel is the last known availability of a tracked item.
type StockLevel struct {
	AvailableQuantity int  `json:"available_quantity"`
	IsSoldOut         bool `json:"is_sold_out"`
}

// InventorySnapshot maps item id to its stock level. It only ever holds
// entries for inventory-tracked items currently in the cart.
type InventorySnapshot map[string]StockLevel

// Shortage is a tracked item whose cart quantity exceeds available stock.
type Shortage struct {
	Item              LineItem `json:"item"`
	AvailableQuantity int      `json:"available_quantity"`
}

// ValidationOutcome lists every shortage found by the latest reconciliation.
// An empty outcome means checkout may proceed.
type ValidationOutcome []Shortage

func (o ValidationOutcome) IsEmpty() bool {
	return len(o) == 0
}

// Message renders the outcome as the multi-line text shown to the shopper.
func (o ValidationOutcome) Message() string {
	if o.IsEmpty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("The following items are short on stock, please adjust the quantities:")
	for _, s := range o {
		fmt.Fprintf(&b, "\n%s: %d in stock (%d in cart)", s.Item.Name, s.AvailableQuantity, s.Item.Quantity)
	}
	return b.String()
}

// Without returns a copy of the outcome with the shortage for id removed.
func (o ValidationOutcome) Without(id string) ValidationOutcome {
	if o.IsEmpty() {
		return nil
	}
	out := make(ValidationOutcome, 0, len(o))
	for _, s := range o {
		if s.Item.ID != id {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// BuildSnapshot derives a snapshot from the tracked items in items and the
// quantities returned by the inventory source. Ids missing from stock are
// treated as sold out so that missing data blocks the sale.
func BuildSnapshot(items []LineItem, stock map[string]int) (InventorySnapshot, ValidationOutcome) {
	snapshot := make(InventorySnapshot)
	var outcome ValidationOutcome
	for _, item := range items {
		if !item.RequiresInventoryCheck {
			continue
		}
		available := stock[item.ID]
		if available < 0 {
			available = 0
		}
		snapshot[item.ID] = StockLevel{
			AvailableQuantity: available,
			IsSoldOut:         available == 0,
		}
		// equal to stock is fine, only strictly more is a shortage
		if item.Quantity > available {
			outcome = append(outcome, Shortage{Item: item, AvailableQuantity: available})
		}
	}
	return snapshot, outcome
}

// TrackedIDs returns the ids of items that require an inventory check, in cart order.
func TrackedIDs(items []LineItem) []string {
	var ids []string
	for _, item := range items {
		if item.RequiresInventoryCheck {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

// Totals summarises the cart for display.
type Totals struct {
	ItemCount int             `json:"item_count"`
	Total     decimal.Decimal `json:"total"`
}

func CalculateTotals(items []LineItem) Totals {
	t := Totals{Total: decimal.Zero}
	for _, item := range items {
		t.ItemCount += item.Quantity
		t.Total = t.Total.Add(item.Subtotal())
	}
	return t
}
