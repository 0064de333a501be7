// Package merge implements the field precedence rules used when an email
// disagrees with the trade repository.
package merge

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ksred/klear-confirm/internal/types"
	"github.com/shopspring/decimal"
)

// Change is the before/after pair of one overridden field
type Change struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// Diff maps field names to the changes applied by Merge
type Diff map[string]Change

type field struct {
	name string
	get  func(*types.TradeRecord) any
	set  func(*types.TradeRecord, any) error
}

func textField(name string, ptr func(*types.TradeRecord) *string) field {
	return field{
		name: name,
		get:  func(t *types.TradeRecord) any { return *ptr(t) },
		set: func(t *types.TradeRecord, v any) error {
			s, err := toText(v)
			if err != nil {
				return err
			}
			*ptr(t) = s
			return nil
		},
	}
}

func decimalField(name string, ptr func(*types.TradeRecord) *decimal.Decimal) field {
	return field{
		name: name,
		get:  func(t *types.TradeRecord) any { return *ptr(t) },
		set: func(t *types.TradeRecord, v any) error {
			d, err := toDecimal(v)
			if err != nil {
				return err
			}
			*ptr(t) = d
			return nil
		},
	}
}

var fields = []field{
	{
		name: "TradeNumber",
		get:  func(t *types.TradeRecord) any { return t.TradeNumber },
		set: func(t *types.TradeRecord, v any) error {
			s, err := toText(v)
			if err != nil {
				return err
			}
			t.TradeNumber = types.TradeNumber(strings.TrimSpace(s))
			return nil
		},
	},
	textField("CounterpartyID", func(t *types.TradeRecord) *string { return &t.CounterpartyID }),
	textField("CounterpartyName", func(t *types.TradeRecord) *string { return &t.CounterpartyName }),
	textField("ProductType", func(t *types.TradeRecord) *string { return &t.ProductType }),
	textField("Currency1", func(t *types.TradeRecord) *string { return &t.Currency1 }),
	decimalField("QuantityCurrency1", func(t *types.TradeRecord) *decimal.Decimal { return &t.QuantityCurrency1 }),
	textField("Currency2", func(t *types.TradeRecord) *string { return &t.Currency2 }),
	decimalField("QuantityCurrency2", func(t *types.TradeRecord) *decimal.Decimal { return &t.QuantityCurrency2 }),
	textField("Buyer", func(t *types.TradeRecord) *string { return &t.Buyer }),
	textField("Seller", func(t *types.TradeRecord) *string { return &t.Seller }),
	textField("SettlementType", func(t *types.TradeRecord) *string { return &t.SettlementType }),
	textField("SettlementCurrency", func(t *types.TradeRecord) *string { return &t.SettlementCurrency }),
	textField("ValueDate", func(t *types.TradeRecord) *string { return &t.ValueDate }),
	textField("MaturityDate", func(t *types.TradeRecord) *string { return &t.MaturityDate }),
	textField("PaymentDate", func(t *types.TradeRecord) *string { return &t.PaymentDate }),
	{
		name: "Duration",
		get:  func(t *types.TradeRecord) any { return t.Duration },
		set: func(t *types.TradeRecord, v any) error {
			n, err := toInt(v)
			if err != nil {
				return err
			}
			t.Duration = n
			return nil
		},
	},
	decimalField("ForwardPrice", func(t *types.TradeRecord) *decimal.Decimal { return &t.ForwardPrice }),
	textField("FixingReference", func(t *types.TradeRecord) *string { return &t.FixingReference }),
	textField("CounterpartyPaymentMethod", func(t *types.TradeRecord) *string { return &t.CounterpartyPaymentMethod }),
	textField("BankPaymentMethod", func(t *types.TradeRecord) *string { return &t.BankPaymentMethod }),
}

// Fields returns the trade field names in record order
func Fields() []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}
	return names
}

// IsValid reports whether an extracted value may override a repository value.
// nil, blank strings and numeric zero are not valid. A counterparty
// confirming a value of zero therefore cannot be told apart from an omission.
func IsValid(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return err != nil || !d.IsZero()
	case decimal.Decimal:
		return !t.IsZero()
	case float64:
		return t != 0
	case float32:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case int32:
		return t != 0
	case uint:
		return t != 0
	case uint64:
		return t != 0
	}
	return true
}

// Merge overlays the valid values of overrides onto base. Every field that
// was overridden is reported in the diff, even when the value is unchanged.
// Keys that are not trade fields are ignored, and a valid value that does not
// fit the field's type leaves the base value in place.
func Merge(base types.TradeRecord, overrides types.TradeReference) (types.TradeRecord, Diff) {
	merged := base
	diff := Diff{}

	for _, f := range fields {
		v, ok := overrides[f.name]
		if !ok || !IsValid(v) {
			continue
		}
		next := merged
		if err := f.set(&next, v); err != nil {
			continue
		}
		diff[f.name] = Change{Before: f.get(&base), After: f.get(&next)}
		merged = next
	}

	return merged, diff
}

// Overlay copies every present, non-null value of ref that fits its field's
// type onto base, without applying the validity rule.
func Overlay(base types.TradeRecord, ref types.TradeReference) types.TradeRecord {
	out := base
	for _, f := range fields {
		v, ok := ref[f.name]
		if !ok || v == nil {
			continue
		}
		next := out
		if err := f.set(&next, v); err == nil {
			out = next
		}
	}
	return out
}

func toText(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case decimal.Decimal:
		return t.String(), nil
	}
	return "", fmt.Errorf("cannot use %T as text", v)
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case json.Number:
		return decimal.NewFromString(t.String())
	case string:
		return decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(t), ",", ""))
	case float64:
		return decimal.NewFromFloat(t), nil
	case float32:
		return decimal.NewFromFloat32(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	}
	return decimal.Zero, fmt.Errorf("cannot use %T as a decimal", v)
}

func toInt(v any) (int, error) {
	var f float64
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), nil
		}
		parsed, err := t.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err == nil {
			return n, nil
		}
		parsed, perr := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if perr != nil {
			return 0, err
		}
		f = parsed
	case float64:
		f = t
	default:
		return 0, fmt.Errorf("cannot use %T as an integer", v)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not a whole number of days", f)
	}
	return int(f), nil
}
