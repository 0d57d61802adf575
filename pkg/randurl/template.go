// Package randurl compiles bracket-range URL templates such as
// "https://example.com/[a-z]{3}-[0-9]{2}" into generators of random strings.
package randurl

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// ErrInvalidTemplate is returned when a template cannot be compiled
var ErrInvalidTemplate = errors.New("invalid template")

// Source is the randomness a Template draws from. *rand.Rand satisfies it.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

type segment struct {
	literal  string
	alphabet []rune
	count    int
}

// Template is a compiled template. It holds no mutable state and is safe for
// concurrent use.
type Template struct {
	raw      string
	segments []segment
	size     int
}

// Compile parses a template once into literal and random segments
func Compile(tmpl string) (*Template, error) {
	t := &Template{raw: tmpl}
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{literal: lit.String()})
			t.size += lit.Len()
			lit.Reset()
		}
	}

	for i := 0; i < len(tmpl); {
		if tmpl[i] != '[' {
			lit.WriteByte(tmpl[i])
			i++
			continue
		}

		end := strings.IndexByte(tmpl[i+1:], ']')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated bracket at offset %d", ErrInvalidTemplate, i)
		}
		class := tmpl[i+1 : i+1+end]
		alphabet, err := parseClass(class)
		if err != nil {
			return nil, fmt.Errorf("%w: bracket at offset %d: %v", ErrInvalidTemplate, i, err)
		}
		i += end + 2

		count := 1
		if n, width, ok := parseCount(tmpl[i:]); ok {
			count = n
			i += width
		}

		flush()
		t.segments = append(t.segments, segment{alphabet: alphabet, count: count})
		t.size += count
	}
	flush()

	return t, nil
}

// MustCompile is like Compile but panics on error
func MustCompile(tmpl string) *Template {
	t, err := Compile(tmpl)
	if err != nil {
		panic(err)
	}
	return t
}

// parseClass expands literal characters and inclusive a-z style ranges
func parseClass(class string) ([]rune, error) {
	runes := []rune(class)
	if len(runes) == 0 {
		return nil, errors.New("empty character class")
	}

	var alphabet []rune
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if i+2 < len(runes) && runes[i+1] == '-' {
			hi := runes[i+2]
			if hi < c {
				return nil, fmt.Errorf("reversed range %c-%c", c, hi)
			}
			for r := c; r <= hi; r++ {
				alphabet = append(alphabet, r)
			}
			i += 2
			continue
		}
		alphabet = append(alphabet, c)
	}
	return alphabet, nil
}

// parseCount reads an optional "{n}" suffix. Anything else is left as literal
// text.
func parseCount(s string) (n, width int, ok bool) {
	if !strings.HasPrefix(s, "{") {
		return 0, 0, false
	}
	end := strings.IndexByte(s, '}')
	if end < 2 {
		return 0, 0, false
	}
	n, err := strconv.Atoi(s[1:end])
	if err != nil || n < 0 {
		return 0, 0, false
	}
	return n, end + 1, true
}

// Generate produces one string, drawing every random character from src
func (t *Template) Generate(src Source) string {
	var b strings.Builder
	b.Grow(t.size)
	for _, seg := range t.segments {
		if seg.alphabet == nil {
			b.WriteString(seg.literal)
			continue
		}
		for range seg.count {
			b.WriteRune(seg.alphabet[src.IntN(len(seg.alphabet))])
		}
	}
	return b.String()
}

// String produces one string using the process-wide random source
func (t *Template) String() string {
	return t.Generate(globalSource{})
}

// Raw returns the template text the Template was compiled from
func (t *Template) Raw() string {
	return t.raw
}

// IsStatic reports whether the template contains no random segments
func (t *Template) IsStatic() bool {
	for _, seg := range t.segments {
		if seg.alphabet != nil {
			return false
		}
	}
	return true
}
