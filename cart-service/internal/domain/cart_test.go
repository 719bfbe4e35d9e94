package domain

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSnapshot_FlagsOnlyStrictShortages(t *testing.T) {
	items := []LineItem{
		{ID: "a", Name: "Senbei", Quantity: 3, RequiresInventoryCheck: true},
		{ID: "b", Name: "Mochi", Quantity: 2, RequiresInventoryCheck: true},
		{ID: "c", Name: "Gift wrap", Quantity: 9},
	}

	snapshot, outcome := BuildSnapshot(items, map[string]int{"a": 2, "b": 2, "c": 0})

	assert.Equal(t, InventorySnapshot{
		"a": {AvailableQuantity: 2, IsSoldOut: false},
		"b": {AvailableQuantity: 2, IsSoldOut: false},
	}, snapshot)
	require.Len(t, outcome, 1)
	assert.Equal(t, "a", outcome[0].Item.ID)
	assert.Equal(t, 2, outcome[0].AvailableQuantity)
}

func TestBuildSnapshot_MissingIDIsSoldOut(t *testing.T) {
	items := []LineItem{{ID: "a", Name: "Senbei", Quantity: 1, RequiresInventoryCheck: true}}

	snapshot, outcome := BuildSnapshot(items, map[string]int{})

	assert.Equal(t, StockLevel{AvailableQuantity: 0, IsSoldOut: true}, snapshot["a"])
	require.Len(t, outcome, 1)
	assert.Equal(t, 0, outcome[0].AvailableQuantity)
}

func TestBuildSnapshot_NegativeStockClampedToZero(t *testing.T) {
	items := []LineItem{{ID: "a", Quantity: 1, RequiresInventoryCheck: true}}

	snapshot, _ := BuildSnapshot(items, map[string]int{"a": -4})

	assert.Equal(t, 0, snapshot["a"].AvailableQuantity)
	assert.True(t, snapshot["a"].IsSoldOut)
}

func TestValidationOutcome_Message(t *testing.T) {
	outcome := ValidationOutcome{
		{Item: LineItem{ID: "a", Name: "Senbei", Quantity: 3}, AvailableQuantity: 2},
		{Item: LineItem{ID: "b", Name: "Mochi - Red", Quantity: 1}, AvailableQuantity: 0},
	}

	msg := outcome.Message()
	assert.Contains(t, msg, "Senbei: 2 in stock (3 in cart)")
	assert.Contains(t, msg, "\nMochi - Red: 0 in stock (1 in cart)")
	assert.Empty(t, ValidationOutcome(nil).Message())
}

func TestValidationOutcome_Without(t *testing.T) {
	outcome := ValidationOutcome{
		{Item: LineItem{ID: "a"}},
		{Item: LineItem{ID: "b"}},
	}

	rest := outcome.Without("a")
	require.Len(t, rest, 1)
	assert.Equal(t, "b", rest[0].Item.ID)
	assert.Nil(t, rest.Without("b"))
	assert.Len(t, outcome, 2, "original must not be modified")
}

func TestCalculateTotals(t *testing.T) {
	items := []LineItem{
		{ID: "a", UnitPrice: decimal.NewFromInt(450), Quantity: 2},
		{ID: "b", UnitPrice: decimal.NewFromInt(1200), Quantity: 1},
	}

	totals := CalculateTotals(items)
	assert.Equal(t, 3, totals.ItemCount)
	assert.True(t, decimal.NewFromInt(2100).Equal(totals.Total))
}

func TestTrackedIDs(t *testing.T) {
	items := []LineItem{
		{ID: "a", RequiresInventoryCheck: true},
		{ID: "b"},
		{ID: "c", RequiresInventoryCheck: true},
	}
	assert.Equal(t, []string{"a", "c"}, TrackedIDs(items))
	assert.Nil(t, TrackedIDs(nil))
}

func TestAddQuantity_Saturates(t *testing.T) {
	assert.Equal(t, 5, AddQuantity(2, 3))
	assert.Equal(t, MaxLineQuantity, AddQuantity(MaxLineQuantity, 1))
	assert.Equal(t, MaxLineQuantity, AddQuantity(1, math.MaxInt))
	assert.Equal(t, MaxLineQuantity, AddQuantity(MaxLineQuantity-1, 1))
}
