package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Quantity is a nullable numeric value. The upstream mobile clients serialize
// measurement targets inconsistently, so it accepts a JSON number, a numeric
// string, null, or an empty string (treated as null).
type Quantity struct {
	Value float64
	Valid bool
}

// QuantityOf returns a valid Quantity holding v.
func QuantityOf(v float64) Quantity {
	return Quantity{Value: v, Valid: true}
}

// Ptr returns the value as a *float64, nil when the quantity is null.
func (q Quantity) Ptr() *float64 {
	if !q.Valid {
		return nil
	}
	v := q.Value
	return &v
}

// UnmarshalJSON implements json.Unmarshaler.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*q = Quantity{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*q = Quantity{}
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q", s)
		}
		*q = Quantity{Value: v, Valid: true}
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*q = Quantity{Value: v, Valid: true}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (q Quantity) MarshalJSON() ([]byte, error) {
	if !q.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(q.Value)
}
