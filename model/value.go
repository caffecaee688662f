/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// IsNull reports whether a field value counts as absent. Empty strings and the literal
// "none" (any case) are treated as null alongside nil and the zero time.
func IsNull(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		trimmed := strings.TrimSpace(val)
		return trimmed == "" || strings.EqualFold(trimmed, "none")
	case time.Time:
		return val.IsZero()
	case *time.Time:
		return val == nil || val.IsZero()
	}
	return false
}

// CanonicalString renders a field value the same way for grouping keys and equality checks,
// so two values that bucket together also compare equal. Decimals drop trailing zeros and
// times are rendered in UTC. The boolean is false for null values.
func CanonicalString(v interface{}) (string, bool) {
	if IsNull(v) {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), true
	case decimal.Decimal:
		return val.String(), true
	case *decimal.Decimal:
		if val == nil {
			return "", false
		}
		return val.String(), true
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), true
	case *time.Time:
		return val.UTC().Format(time.RFC3339Nano), true
	case int, int32, int64, float32, float64:
		d, err := ToDecimal(val)
		if err != nil {
			return fmt.Sprint(val), true
		}
		return d.String(), true
	}
	return fmt.Sprint(v), true
}

// ToDecimal converts numeric field values, including numeric strings, into a decimal.
func ToDecimal(v interface{}) (decimal.Decimal, error) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, nil
	case *decimal.Decimal:
		if val == nil {
			return decimal.Zero, fmt.Errorf("nil decimal")
		}
		return *val, nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int32:
		return decimal.NewFromInt32(val), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case float32:
		return decimal.NewFromFloat32(val), nil
	case float64:
		return decimal.NewFromFloat(val), nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(val))
	}
	return decimal.Zero, fmt.Errorf("value %v of type %T is not numeric", v, v)
}

// dateLayouts lists the formats accepted when a date arrives as a string.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"20060102",
}

// ToTime converts a date field value into a time.Time.
func ToTime(v interface{}) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val, nil
	case *time.Time:
		if val == nil {
			return time.Time{}, fmt.Errorf("nil time")
		}
		return *val, nil
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised date %q", s)
	}
	return time.Time{}, fmt.Errorf("value %v of type %T is not a date", v, v)
}
