package mvfield

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		want    []string
	}{
		{name: "empty input is nil", encoded: "", want: nil},
		{name: "single item", encoded: "$a$", want: []string{"a"}},
		{name: "two items", encoded: "$a$;$b$", want: []string{"a", "b"}},
		{name: "escaped dollar", encoded: "$1.00$$$;$2$", want: []string{"1.00$", "2"}},
		{name: "zero length item", encoded: "$$;$x$", want: []string{"", "x"}},
		{name: "item of only dollars", encoded: "$$$$$$", want: []string{"$$"}},
		{name: "semicolon inside item", encoded: "$a;b$", want: []string{"a;b"}},
		{name: "trailing separator", encoded: "$a$;", want: []string{"a"}},
		{name: "adjacent segments without separator", encoded: "$a$$b$", want: []string{"a$b"}},
		{name: "malformed leading text", encoded: "abc", want: []string{}},
		{name: "unterminated segment", encoded: "$abc", want: []string{}},
		{name: "bare separator run", encoded: ";;;", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(tt.encoded))
		})
	}
}

func TestEncode(t *testing.T) {
	t.Run("empty list produces nothing", func(t *testing.T) {
		primary, companion, multi := Encode(nil)
		assert.Empty(t, primary)
		assert.Empty(t, companion)
		assert.False(t, multi)
	})

	t.Run("singleton has no companion", func(t *testing.T) {
		primary, companion, multi := Encode([]string{"only"})
		assert.Equal(t, "only", primary)
		assert.Empty(t, companion)
		assert.False(t, multi)
	})

	t.Run("multiple items", func(t *testing.T) {
		primary, companion, multi := Encode([]string{"x", "y"})
		assert.Equal(t, "x\ny", primary)
		assert.Equal(t, "$x$;$y$", companion)
		assert.True(t, multi)
	})

	t.Run("dollars are doubled only in the companion", func(t *testing.T) {
		primary, companion, _ := Encode([]string{"$5", "$6"})
		assert.Equal(t, "$5\n$6", primary)
		assert.Equal(t, "$$$5$;$$$6$", companion)
	})
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	lists := [][]string{
		{"a", "b"},
		{"", ""},
		{"$", "$$", "$$$"},
		{"a;b", "c$d", "plain"},
		{"value with spaces", "newline-free"},
		{"1", "2aldj$faldsj$", "foo$bar$$"},
	}

	for _, values := range lists {
		_, companion, multi := Encode(values)
		require.True(t, multi, "lists of %d items must be multi-valued", len(values))
		assert.Equal(t, values, Decode(companion), "companion %q", companion)
	}
}

// encodedValue is the historical regex decoder. The byte scanner above is the
// production implementation; the regex form survives here purely as an
// equivalence check, since the two were written independently.
var encodedValue = regexp.MustCompile(`\$((?:\$\$|[^$])*)\$(;|$)`)

func decodeRegex(mv string) []string {
	if len(mv) == 0 {
		return nil
	}
	items := []string{}
	for _, match := range encodedValue.FindAllStringSubmatch(mv, -1) {
		items = append(items, strings.ReplaceAll(match[1], "$$", "$"))
	}
	return items
}

func TestDecodeAgreesWithRegexForm(t *testing.T) {
	inputs := []string{
		"",
		"$a$",
		"$a$;$b$",
		"$$;$x$",
		"$1$;$2aldj$$faldsj$$$;$foo$$bar$$$$1$;$2$",
		"$a;b$;$c$",
		"$x$;",
	}

	for _, input := range inputs {
		assert.Equal(t, decodeRegex(input), Decode(input), "input %q", input)
	}
}
