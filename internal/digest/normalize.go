package digest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	timestampLayout = "2006-01-02T15:04:05.000000000Z"
	dateLayout      = "2006-01-02"
)

// naive ISO-8601 layouts are interpreted as UTC.
var timestampInputLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func (f fieldSpec) normalize(v any) (string, error) {
	switch f.kind {
	case kindString:
		return normalizeString(v)
	case kindDecimal:
		r, err := toRat(v)
		if err != nil {
			return "", err
		}
		return formatRat(r, f.scale), nil
	case kindInteger:
		r, err := toRat(v)
		if err != nil {
			return "", err
		}
		if !r.IsInt() {
			return "", fmt.Errorf("must be an integer, got %s", r.FloatString(6))
		}
		return r.Num().String(), nil
	case kindBool:
		return normalizeBool(v)
	case kindTimestamp:
		t, err := toTime(v)
		if err != nil {
			return "", err
		}
		return t.UTC().Format(timestampLayout), nil
	case kindDate:
		return normalizeDate(v)
	}
	return "", fmt.Errorf("unsupported field kind %d", f.kind)
}

func normalizeString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x), nil
	case float64:
		// JSON decoders hand back numbers as float64; accept them only when integral
		// (phone numbers, document numbers) so the rendering is unambiguous.
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return "", fmt.Errorf("must be a string, got %v", x)
		}
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("must be a string, got %T", v)
}

func normalizeBool(v any) (string, error) {
	switch x := v.(type) {
	case bool:
		return strconv.FormatBool(x), nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return "", fmt.Errorf("must be a boolean, got %q", x)
		}
		return strconv.FormatBool(b), nil
	}
	return "", fmt.Errorf("must be a boolean, got %T", v)
}

func normalizeDate(v any) (string, error) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if t, err := time.Parse(dateLayout, s); err == nil {
			return t.Format(dateLayout), nil
		}
	}
	t, err := toTime(v)
	if err != nil {
		return "", err
	}
	return t.UTC().Format(dateLayout), nil
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return time.Time{}, errors.New("must not be the zero time")
		}
		return x, nil
	case *time.Time:
		if x == nil || x.IsZero() {
			return time.Time{}, errors.New("must not be the zero time")
		}
		return *x, nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timestampInputLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("must be an ISO-8601 timestamp, got %q", x)
	}
	return time.Time{}, fmt.Errorf("must be a timestamp, got %T", v)
}

func toRat(v any) (*big.Rat, error) {
	r := new(big.Rat)
	switch x := v.(type) {
	case int:
		return r.SetInt64(int64(x)), nil
	case int8:
		return r.SetInt64(int64(x)), nil
	case int16:
		return r.SetInt64(int64(x)), nil
	case int32:
		return r.SetInt64(int64(x)), nil
	case int64:
		return r.SetInt64(x), nil
	case uint:
		return r.SetUint64(uint64(x)), nil
	case uint8:
		return r.SetUint64(uint64(x)), nil
	case uint16:
		return r.SetUint64(uint64(x)), nil
	case uint32:
		return r.SetUint64(uint64(x)), nil
	case uint64:
		return r.SetUint64(x), nil
	case float32:
		return floatRat(float64(x), 32)
	case float64:
		return floatRat(x, 64)
	case json.Number:
		return decimalRat(x.String())
	case string:
		return decimalRat(x)
	}
	return nil, fmt.Errorf("must be a number, got %T", v)
}

// floatRat goes through the shortest decimal representation so that 0.1 is
// treated as the decimal 0.1 rather than its binary approximation.
func floatRat(f float64, bits int) (*big.Rat, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("must be a finite number, got %v", f)
	}
	return decimalRat(strconv.FormatFloat(f, 'f', -1, bits))
}

// decimalPattern admits plain base-10 decimals with an optional exponent of at
// most three digits. big.Rat alone would also take 0x/0o/0b prefixes, fractions
// and exponents large enough to blow up the canonical form.
var decimalPattern = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?([eE][+-]?[0-9]{1,3})?$`)

func decimalRat(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if !decimalPattern.MatchString(s) {
		return nil, fmt.Errorf("must be a decimal number, got %q", s)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("must be a decimal number, got %q", s)
	}
	return r, nil
}

// formatRat renders r with exactly scale fractional digits, rounding half away
// from zero. A value that rounds to zero is always rendered unsigned.
func formatRat(r *big.Rat, scale int) string {
	s := r.FloatString(scale)
	if strings.HasPrefix(s, "-") && strings.Trim(s[1:], "0.") == "" {
		return s[1:]
	}
	return s
}
