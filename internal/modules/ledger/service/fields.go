package service

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/bytedance/sonic"
)

// Fields is a partial document: field name -> value.
type Fields map[string]any

const (
	FieldBalance     = "balance"
	FieldEquity      = "equity"
	FieldMargin      = "margin"
	FieldFreeMargin  = "free_margin"
	FieldMarginLevel = "margin_level"
	FieldFloatingPnL = "floating_pnl"
	FieldCreatedAt   = "created_at"
	FieldUpdatedAt   = "updated_at"

	FieldPositionID   = "position_id"
	FieldHistoryID    = "history_id"
	FieldUserID       = "user_id"
	FieldCurrentPrice = "current_price"
	FieldProfitLoss   = "profit_loss"
	FieldClosed       = "closed"
	FieldClosePrice   = "close_price"
	FieldClosedAt     = "closed_at"
)

// ToFields converts a record into its document form.
func ToFields(v any) (Fields, error) {
	b, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	out := Fields{}
	if err := sonic.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

// Decode normalizes doc and decodes it into out.
func Decode(doc map[string]any, out any) error {
	b, err := sonic.Marshal(Normalize(doc))
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := sonic.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// Normalize returns a copy of doc in which every value is a string, number,
// bool, nil, list or mapping. Timestamps become RFC3339 strings and any other
// value becomes its string form.
func Normalize(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, json.Number,
		float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	case Fields:
		return Normalize(t)
	case map[string]any:
		return Normalize(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalizeValue(t[i])
		}
		return out
	case fmt.Stringer:
		return t.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return normalizeValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalizeValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalizeValue(iter.Value().Interface())
		}
		return out
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	}
	return fmt.Sprint(v)
}
