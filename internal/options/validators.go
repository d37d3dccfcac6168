package options

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Validator converts and checks a raw option value. Validate returns the
// canonical typed value; Format is its inverse, used when a value must be
// rendered back into command-line form.
type Validator interface {
	Validate(raw string) (any, error)
	Format(value any) string
}

var (
	fieldnameRe  = regexp.MustCompile(`^[_.a-zA-Z-][_.a-zA-Z0-9-]*$`)
	optionNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// optionNamePattern checks a declared option name, returning it unchanged.
func optionNamePattern(name string) (string, error) {
	if !optionNameRe.MatchString(name) {
		return "", fmt.Errorf("illegal option name %q", name)
	}
	return name, nil
}

// Boolean accepts the usual truthy/falsy spellings and yields a bool.
type Boolean struct{}

var truthValues = map[string]bool{
	"1": true, "0": false,
	"t": true, "f": false,
	"true": true, "false": false,
	"y": true, "n": false,
	"yes": true, "no": false,
}

func (Boolean) Validate(raw string) (any, error) {
	value, ok := truthValues[strings.ToLower(raw)]
	if !ok {
		return nil, fmt.Errorf("expected a boolean value, got %q", raw)
	}
	return value, nil
}

func (Boolean) Format(value any) string {
	if b, _ := value.(bool); b {
		return "t"
	}
	return "f"
}

// Integer parses a decimal integer, optionally bounded to [Min, Max].
// A zero-valued Integer accepts the full int64 range.
type Integer struct {
	Min, Max int64
}

func (v Integer) Validate(raw string) (any, error) {
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("expected an integer, got %q", raw)
	}
	min, max := v.Min, v.Max
	if min == 0 && max == 0 {
		min, max = math.MinInt64, math.MaxInt64
	}
	if value < min || value > max {
		return nil, fmt.Errorf("expected an integer in [%d,%d], got %d", min, max, value)
	}
	return value, nil
}

func (Integer) Format(value any) string {
	i, _ := value.(int64)
	return strconv.FormatInt(i, 10)
}

// Float parses a floating point number.
type Float struct{}

func (Float) Validate(raw string) (any, error) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("expected a number, got %q", raw)
	}
	return value, nil
}

func (Float) Format(value any) string {
	f, _ := value.(float64)
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Duration parses "[[hours:]minutes:]seconds" into a time.Duration.
type Duration struct{}

func (Duration) Validate(raw string) (any, error) {
	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return nil, fmt.Errorf("expected [[hours:]minutes:]seconds, got %q", raw)
	}
	total := time.Duration(0)
	for _, part := range parts {
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("expected [[hours:]minutes:]seconds, got %q", raw)
		}
		total = total*60 + time.Duration(n)*time.Second
	}
	return total, nil
}

func (Duration) Format(value any) string {
	d, _ := value.(time.Duration)
	seconds := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds/60)%60, seconds%60)
}

// Fieldname accepts a legal record field name.
type Fieldname struct{}

func (Fieldname) Validate(raw string) (any, error) {
	if !fieldnameRe.MatchString(raw) {
		return nil, fmt.Errorf("expected a field name, got %q", raw)
	}
	return raw, nil
}

func (Fieldname) Format(value any) string { return fmt.Sprint(value) }

// EnumSet accepts one of a fixed set of spellings.
type EnumSet struct {
	Members []string
}

func (v EnumSet) Validate(raw string) (any, error) {
	for _, member := range v.Members {
		if raw == member {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("expected one of %s, got %q", strings.Join(v.Members, "|"), raw)
}

func (EnumSet) Format(value any) string { return fmt.Sprint(value) }

// Match accepts a value matching the given pattern.
type Match struct {
	Pattern *regexp.Regexp
}

func (v Match) Validate(raw string) (any, error) {
	if !v.Pattern.MatchString(raw) {
		return nil, fmt.Errorf("expected a value matching %s, got %q", v.Pattern, raw)
	}
	return raw, nil
}

func (Match) Format(value any) string { return fmt.Sprint(value) }
