package options

import (
	"fmt"
	"strings"
)

// ParseError reports one rejected argument. The engine surfaces these as
// inspector error messages; parsing itself keeps going so every bad argument
// is reported in a single negotiation.
type ParseError struct {
	Option string
	Value  string
	Reason string
}

func (e *ParseError) Error() string {
	switch {
	case e.Option == "":
		return e.Reason
	case e.Value == "":
		return fmt.Sprintf("%s: %s", e.Reason, e.Option)
	default:
		return fmt.Sprintf("%s: %s=%s", e.Reason, e.Option, e.Value)
	}
}

// Parse consumes the argument list from the negotiation exchange. Tokens
// without '=' are positional field names; name=value tokens resolve declared
// options. All rejected tokens are collected rather than aborting at the
// first, so the host user sees every problem at once.
func Parse(set *Set, args []string) (fieldnames []string, errs []error) {
	fieldnames = []string{}

	for _, arg := range args {
		name, rawValue, isOption := strings.Cut(arg, "=")
		if !isOption {
			fieldnames = append(fieldnames, arg)
			continue
		}

		item, ok := set.Get(name)
		if !ok {
			errs = append(errs, &ParseError{Option: name, Value: rawValue, Reason: "Unrecognized option"})
			continue
		}

		value, err := Unquote(rawValue)
		if err != nil {
			errs = append(errs, &ParseError{Option: name, Value: rawValue, Reason: "Illegal value"})
			continue
		}
		if err := item.SetValue(value); err != nil {
			errs = append(errs, &ParseError{Option: name, Value: rawValue, Reason: "Illegal value"})
			continue
		}
	}

	return fieldnames, errs
}

// MissingError formats the required-options check result: every missing name
// is reported in one message.
func MissingError(missing []string) error {
	switch len(missing) {
	case 0:
		return nil
	case 1:
		return &ParseError{Reason: fmt.Sprintf("A value for %q is required", missing[0])}
	default:
		return &ParseError{
			Reason: fmt.Sprintf("Values for these options are required: %s", strings.Join(missing, ", ")),
		}
	}
}

// Unquote applies the protocol-1 value grammar: a value wrapped in double
// quotes has them stripped, with `""` or `\"` inside denoting one literal
// quote and `\\` a literal backslash. An unquoted value passes through
// untouched. A leading quote with no matching close is a syntax error.
func Unquote(s string) (string, error) {
	if len(s) == 0 || s[0] != '"' {
		return s, nil
	}

	var b strings.Builder
	i := 1
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s) && (s[i+1] == '"' || s[i+1] == '\\'):
			b.WriteByte(s[i+1])
			i += 2
		case c == '"':
			if i+1 < len(s) && s[i+1] == '"' {
				b.WriteByte('"')
				i += 2
				continue
			}
			if i != len(s)-1 {
				return "", fmt.Errorf("poorly formed string literal: %s", s)
			}
			return b.String(), nil
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", fmt.Errorf("poorly formed string literal: %s", s)
}
