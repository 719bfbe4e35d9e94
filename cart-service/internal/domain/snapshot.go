package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// SnapshotVersion is the version written by EncodeSnapshot.
//
// Known shapes:
//
//	0  bare JSON array of items, or the zustand envelope {"state":{"items":[...]},"version":0}
//	1  {"items":[...]} with camelCase item fields (price, requiresInventory, hasVariations, catalogObjectId)
//	2  {"version":2,"items":[...]} with snake_case item fields
const SnapshotVersion = 2

var (
	ErrMalformedSnapshot = errors.New("malformed cart snapshot")
	ErrSnapshotNotFound  = errors.New("cart snapshot not found")
)

// PersistedCart is the only part of the cart that is ever stored.
type PersistedCart struct {
	Version int        `json:"version"`
	Items   []LineItem `json:"items"`
}

func EncodeSnapshot(items []LineItem) ([]byte, error) {
	if items == nil {
		items = []LineItem{}
	}
	data, err := json.Marshal(PersistedCart{Version: SnapshotVersion, Items: items})
	if err != nil {
		return nil, fmt.Errorf("marshal cart snapshot failed: %w", err)
	}
	return data, nil
}

type snapshotEnvelope struct {
	Version *int              `json:"version"`
	Items   []json.RawMessage `json:"items"`
	State   *struct {
		Items []json.RawMessage `json:"items"`
	} `json:"state"`
}

// DecodeSnapshot reads any known snapshot shape and migrates every item to
// the current LineItem. Items that cannot be recovered are dropped. An error
// is returned only when the document as a whole is unreadable, in which case
// the cart should start empty.
func DecodeSnapshot(data []byte) ([]LineItem, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
		}
	case '{':
		var env snapshotEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
		}
		if env.State != nil {
			raw = env.State.Items
		} else {
			raw = env.Items
		}
	default:
		return nil, ErrMalformedSnapshot
	}

	items := make([]LineItem, 0, len(raw))
	for _, r := range raw {
		item, ok := MigrateItem(r)
		if !ok {
			continue
		}
		items = MergeItem(items, item)
	}
	return items, nil
}

// MigrateItem converts one stored item of any version into a LineItem,
// defaulting every field on its own. It reports false when the item has no
// usable id or no positive quantity.
func MigrateItem(data json.RawMessage) (LineItem, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return LineItem{}, false
	}

	id := readString(fields, "id")
	if id == "" {
		id = readString(fields, "catalogObjectId", "catalog_object_id")
	}
	if id == "" {
		return LineItem{}, false
	}

	qty, _ := readInt(fields, "quantity")
	if qty <= 0 {
		return LineItem{}, false
	}

	name := readString(fields, "name")
	price := readDecimal(fields, "unit_price", "unitPrice", "price")
	if price.IsNegative() {
		price = decimal.Zero
	}

	requires, _ := readBool(fields, "requires_inventory_check", "requiresInventory", "requiresInventoryCheck")
	hasVariants, ok := readBool(fields, "has_variants", "hasVariations", "hasVariants")
	if !ok {
		hasVariants = nameHasVariant(name)
	}

	return LineItem{
		ID:                     id,
		Name:                   name,
		UnitPrice:              price,
		Quantity:               qty,
		RequiresInventoryCheck: requires,
		HasVariants:            hasVariants,
	}, true
}

// MergeItem adds item to items, summing quantities when the id is already
// present and taking the flags from item.
func MergeItem(items []LineItem, item LineItem) []LineItem {
	for i := range items {
		if items[i].ID == item.ID {
			items[i].Quantity = AddQuantity(items[i].Quantity, item.Quantity)
			items[i].HasVariants = item.HasVariants
			items[i].RequiresInventoryCheck = item.RequiresInventoryCheck
			return items
		}
	}
	return append(items, item)
}

// "Rice Cracker - Large" style names carry a variant qualifier.
func nameHasVariant(name string) bool {
	parts := strings.SplitN(name, " - ", 2)
	return len(parts) == 2 && parts[1] != ""
}

func readString(fields map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func readBool(fields map[string]json.RawMessage, keys ...string) (bool, bool) {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok {
			continue
		}
		var b bool
		if err := json.Unmarshal(v, &b); err == nil {
			return b, true
		}
	}
	return false, false
}

func readInt(fields map[string]json.RawMessage, keys ...string) (int, bool) {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok {
			continue
		}
		var f float64
		if err := json.Unmarshal(v, &f); err == nil {
			return clampInt(f), true
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if f, errConv := strconv.ParseFloat(strings.TrimSpace(s), 64); errConv == nil {
				return clampInt(f), true
			}
		}
	}
	return 0, false
}

// clampInt truncates f into [0, MaxLineQuantity]; out of range floats do not
// convert to int portably.
func clampInt(f float64) int {
	switch {
	case f <= 0:
		return 0
	case f >= MaxLineQuantity:
		return MaxLineQuantity
	}
	return int(f)
}

func readDecimal(fields map[string]json.RawMessage, keys ...string) decimal.Decimal {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok {
			continue
		}
		var d decimal.Decimal
		if err := d.UnmarshalJSON(v); err == nil {
			return d
		}
	}
	return decimal.Zero
}
