package render

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// DefaultCurrency is the symbol formatMoney appends when none is given.
const DefaultCurrency = "₽"

var printer = message.NewPrinter(language.Russian)

var currencySymbols = map[string]string{
	"RUB": "₽",
	"USD": "$",
	"EUR": "€",
}

// Genitive month names, as used in "2 мая 2026".
var monthsGenitive = [...]string{
	"января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря",
}

// Named layouts accepted by formatDate in addition to Go layouts.
const (
	LayoutDate     = "date"     // 04.05.2026
	LayoutTime     = "time"     // 09:30
	LayoutDateTime = "datetime" // 04.05.2026 09:30
	LayoutLong     = "long"     // 4 мая 2026
)

// FuncMap returns the template helpers. Dates are shown in loc.
func FuncMap(loc *time.Location) template.FuncMap {
	return template.FuncMap{
		"formatDate": func(value any, layout ...string) (string, error) {
			return FormatDate(value, loc, layout...)
		},
		"formatMoney":  FormatMoney,
		"formatNumber": FormatNumber,
		"plural":       Plural,

		"eq": eqFunc,
		"ne": neFunc,
		"lt": relation(func(c int) bool { return c < 0 }),
		"le": relation(func(c int) bool { return c <= 0 }),
		"gt": relation(func(c int) bool { return c > 0 }),
		"ge": relation(func(c int) bool { return c >= 0 }),
	}
}

// PluralForm picks one of three Russian word forms for count.
func PluralForm(count int64, one, few, many string) string {
	if count < 0 {
		count = -count
	}
	mod10, mod100 := count%10, count%100
	switch {
	case mod100 >= 11 && mod100 <= 19:
		return many
	case mod10 == 1:
		return one
	case mod10 >= 2 && mod10 <= 4:
		return few
	default:
		return many
	}
}

// Plural is the template form of PluralForm.
func Plural(count any, one, few, many string) (string, error) {
	n, err := toFloat(count)
	if err != nil {
		return "", fmt.Errorf("plural: %w", err)
	}
	return PluralForm(int64(n), one, few, many), nil
}

// FormatMoney formats amount with Russian digit grouping and a currency
// symbol. Whole amounts have no fractional part; others get two digits.
func FormatMoney(amount any, currency ...string) (string, error) {
	v, err := toFloat(amount)
	if err != nil {
		return "", fmt.Errorf("formatMoney: %w", err)
	}
	symbol := DefaultCurrency
	if len(currency) > 0 && currency[0] != "" {
		symbol = currency[0]
		if s, ok := currencySymbols[strings.ToUpper(symbol)]; ok {
			symbol = s
		}
	}

	var s string
	if v == math.Trunc(v) {
		s = printer.Sprint(number.Decimal(v, number.MaxFractionDigits(0)))
	} else {
		s = printer.Sprint(number.Decimal(v, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
	}
	return s + " " + symbol, nil
}

// FormatNumber formats value as an integer with Russian digit grouping.
func FormatNumber(value any) (string, error) {
	v, err := toFloat(value)
	if err != nil {
		return "", fmt.Errorf("formatNumber: %w", err)
	}
	return printer.Sprint(number.Decimal(math.Round(v), number.MaxFractionDigits(0))), nil
}

// FormatDate formats value in loc. value may be a time.Time, an RFC 3339 or
// YYYY-MM-DD string, or unix milliseconds. layout is a Go layout or one of
// the named layouts; the default is LayoutDate.
func FormatDate(value any, loc *time.Location, layout ...string) (string, error) {
	t, ok, err := toTime(value)
	if err != nil {
		return "", fmt.Errorf("formatDate: %w", err)
	}
	if !ok {
		return "", nil
	}
	if loc != nil {
		t = t.In(loc)
	}

	l := LayoutDate
	if len(layout) > 0 && layout[0] != "" {
		l = layout[0]
	}
	switch l {
	case LayoutDate:
		return t.Format("02.01.2006"), nil
	case LayoutTime:
		return t.Format("15:04"), nil
	case LayoutDateTime:
		return t.Format("02.01.2006 15:04"), nil
	case LayoutLong:
		return fmt.Sprintf("%d %s %d", t.Day(), monthsGenitive[t.Month()-1], t.Year()), nil
	}
	return t.Format(l), nil
}

// toTime reports ok=false for empty values so that missing dates render blank.
func toTime(value any) (time.Time, bool, error) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return v, !v.IsZero(), nil
	case *time.Time:
		if v == nil {
			return time.Time{}, false, nil
		}
		return *v, !v.IsZero(), nil
	case string:
		if v == "" {
			return time.Time{}, false, nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true, nil
			}
		}
		return time.Time{}, false, fmt.Errorf("unrecognized date %q", v)
	}
	ms, err := toFloat(value)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(int64(ms)), true, nil
}

// toFloat accepts the numeric shapes a JSON-decoded payload can carry.
func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v), ",", "."), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", v)
		}
		return f, nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("not a number: %T", value)
}
