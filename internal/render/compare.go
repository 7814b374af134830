package render

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Payloads arrive through JSON, so every number is a float64 while template
// literals are ints. The comparison helpers below replace the template
// builtins of the same name and compare numbers by value.

// equal reports whether a and b are the same value. A number on either side
// makes the comparison numeric; two strings compare as strings.
func equal(a, b any) bool {
	_, aStr := a.(string)
	_, bStr := b.(string)
	if !(aStr && bStr) {
		if x, y, ok := numericPair(a, b); ok {
			return x == y
		}
	}
	if blank(a) && blank(b) {
		return true
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return sa == sb
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ba == bb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// order compares a and b numerically when both are numbers or numeric
// strings, and lexically when both are strings.
func order(a, b any) (int, error) {
	if x, y, ok := numericPair(a, b); ok {
		return cmp.Compare(x, y), nil
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok && bok {
		return strings.Compare(sa, sb), nil
	}
	return 0, fmt.Errorf("incompatible types for comparison: %T and %T", a, b)
}

func eqFunc(a any, bs ...any) (bool, error) {
	if len(bs) == 0 {
		return false, errors.New("missing argument for comparison")
	}
	for _, b := range bs {
		if equal(a, b) {
			return true, nil
		}
	}
	return false, nil
}

func neFunc(a, b any) bool {
	return !equal(a, b)
}

func relation(test func(int) bool) func(a, b any) (bool, error) {
	return func(a, b any) (bool, error) {
		c, err := order(a, b)
		if err != nil {
			return false, err
		}
		return test(c), nil
	}
}

// numericPair converts both sides to numbers. A missing value (nil or blank
// string) counts as zero when the other side is a number.
func numericPair(a, b any) (float64, float64, bool) {
	x, aok := asNumber(a)
	y, bok := asNumber(b)
	switch {
	case aok && bok:
		return x, y, true
	case aok && blank(b):
		return x, 0, true
	case bok && blank(a):
		return 0, y, true
	}
	return 0, 0, false
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64, float32, int, int32, int64, uint, uint64:
		f, err := toFloat(v)
		return f, err == nil
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func blank(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}
	return false
}
