// Package mvfield encodes and decodes the multi-value field representation
// used inside chunk bodies. A list-valued field occupies two CSV columns: a
// primary column holding the values newline-joined for display, and a
// companion column named "__mv_<field>" holding the authoritative encoding
// "$item1$;$item2$;...;$itemN$" with literal dollar signs doubled.
package mvfield

import "strings"

// CompanionPrefix is prepended to a field name to form its companion column.
const CompanionPrefix = "__mv_"

// Decode parses a companion-column value into its list of items. An empty
// input means the field carried no multi-value data and yields nil.
//
// Malformed input yields an empty, non-nil slice rather than an error. The
// writer side is always self-consistent, so a parse failure here can only
// come from hand-built input; swallowing it matches the established behavior
// of the host and must not be tightened.
func Decode(encoded string) []string {
	if len(encoded) == 0 {
		return nil
	}

	items := []string{}
	var value strings.Builder
	inValue := false

	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		if !inValue {
			switch c {
			case '$':
				inValue = true
			case ';':
				// separator between segments
			default:
				return []string{}
			}
			continue
		}
		if c == '$' {
			if i+1 < len(encoded) && encoded[i+1] == '$' {
				value.WriteByte('$')
				i++
				continue
			}
			inValue = false
			items = append(items, value.String())
			value.Reset()
			continue
		}
		value.WriteByte(c)
	}

	if inValue {
		// Unterminated segment.
		return []string{}
	}
	return items
}

// Encode converts a list of items to its wire form. It returns the primary
// column value, the companion column value, and whether the field is truly
// multi-valued. Empty lists produce no columns at all and singletons pay no
// multi-value cost: the single item goes in the primary column alone.
func Encode(values []string) (primary, companion string, multi bool) {
	switch len(values) {
	case 0:
		return "", "", false
	case 1:
		return values[0], "", false
	}

	escaped := make([]string, len(values))
	for i, item := range values {
		escaped[i] = strings.ReplaceAll(item, "$", "$$")
	}
	return strings.Join(values, "\n"), "$" + strings.Join(escaped, "$;$") + "$", true
}
