package similarity

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// Descriptor tokens mix Chinese material names with latin grades and sizes.
// Tokenisation keeps CJK runs whole and lowercases latin runs; single-rune
// latin tokens and stop words are dropped.

var stopWords = map[string]struct{}{
	"材料": {}, "规格": {}, "型号": {}, "国标": {}, "普通": {},
	"优质": {}, "标准": {}, "其他": {},
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

// Tokenize splits a descriptor field into comparison tokens.
func Tokenize(s string) []string {
	cleaned := strings.ToLower(width.Narrow.String(s))

	var tokens []string
	var buf []rune
	var bufCJK bool

	flush := func() {
		if len(buf) == 0 {
			return
		}
		tok := string(buf)
		buf = buf[:0]
		if !bufCJK && len([]rune(tok)) < 2 {
			return
		}
		if _, stop := stopWords[tok]; stop {
			return
		}
		tokens = append(tokens, tok)
	}

	for _, r := range cleaned {
		switch {
		case isCJK(r):
			if !bufCJK {
				flush()
				bufCJK = true
			}
			buf = append(buf, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if bufCJK {
				flush()
				bufCJK = false
			}
			buf = append(buf, r)
		default:
			flush()
			bufCJK = false
		}
	}
	flush()

	return tokens
}

// Keywords returns up to n leading tokens usable for candidate pre-filtering.
func Keywords(s string, n int) []string {
	tokens := Tokenize(s)
	if len(tokens) > n {
		tokens = tokens[:n]
	}
	return tokens
}

func tokenSortJoin(s string) string {
	tokens := Tokenize(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	inter := 0
	union := len(set)
	seen := make(map[string]struct{}, len(b))
	for _, t := range b {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
