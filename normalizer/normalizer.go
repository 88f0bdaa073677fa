// Package normalizer turns a raw POS line-item name into a structured record:
// base name, inferred category and variant token. It holds no external state.
package normalizer

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mmdatafocus/menu_backend/models"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var ErrMalformedInput = errors.New("malformed input")

type Record struct {
	Raw            string          `json:"raw"`
	BaseName       string          `json:"base_name"`
	Category       models.Category `json:"category"`
	VariantToken   string          `json:"variant_token"`
	VariantLabel   string          `json:"variant_label"`
	VariantUnit    string          `json:"variant_unit"`
	VariantValue   decimal.Decimal `json:"variant_value"`
	PrefixFamily   string          `json:"prefix_family"`
	Corrections    int             `json:"corrections"`
	ConfidenceHint int             `json:"confidence_hint"`
}

func (r Record) HasVariant() bool { return r.VariantToken != "" }

type compiledTypo struct {
	re *wordMatcher
	to string
}

type compiledKeyword struct {
	re       *wordMatcher
	category models.Category
}

// Normalizer is safe for concurrent use once built.
type Normalizer struct {
	typos    []compiledTypo
	keywords []compiledKeyword
	hints    []compiledKeyword
	prefixes []string
}

func New(t Tables) (*Normalizer, error) {
	n := &Normalizer{}

	typos := append([]TypoRule(nil), t.Typos...)
	sort.SliceStable(typos, func(i, j int) bool {
		return len(typos[i].From) > len(typos[j].From)
	})
	for _, r := range typos {
		from := strings.TrimSpace(r.From)
		if from == "" {
			continue
		}
		re, err := wordPattern(from)
		if err != nil {
			return nil, fmt.Errorf("typo %q: %w", r.From, err)
		}
		n.typos = append(n.typos, compiledTypo{re: re, to: r.To})
	}

	var err error
	if n.keywords, err = compileKeywords(t.Keywords); err != nil {
		return nil, err
	}
	if n.hints, err = compileKeywords(variantCategoryHints); err != nil {
		return nil, err
	}

	for _, p := range t.PrefixFamilies {
		if p = models.NameKey(p); p != "" {
			n.prefixes = append(n.prefixes, p)
		}
	}
	sort.SliceStable(n.prefixes, func(i, j int) bool {
		return len(n.prefixes[i]) > len(n.prefixes[j])
	})
	return n, nil
}

// Default builds a normalizer from the built-in tables.
func Default() *Normalizer {
	n, err := New(DefaultTables())
	if err != nil {
		panic(err)
	}
	return n
}

func compileKeywords(rules []KeywordRule) ([]compiledKeyword, error) {
	out := make([]compiledKeyword, 0, len(rules))
	for _, r := range rules {
		kw := strings.TrimSpace(r.Keyword)
		if kw == "" {
			continue
		}
		if !r.Category.IsValid() {
			return nil, fmt.Errorf("keyword %q: %w: %q", r.Keyword, models.ErrInvalidCategory, r.Category)
		}
		re, err := wordPattern(kw)
		if err != nil {
			return nil, fmt.Errorf("keyword %q: %w", r.Keyword, err)
		}
		out = append(out, compiledKeyword{re: re, category: r.Category})
	}
	return out, nil
}

// wordPattern matches s case-insensitively with word edges where s starts or
// ends with a word character. s is cleaned like the input it is matched
// against, so accented table entries still hit.
func wordPattern(s string) (*wordMatcher, error) {
	s = Clean(s)
	if s == "" {
		return nil, errors.New("empty pattern")
	}
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(s))
	if err != nil {
		return nil, err
	}
	first, _ := utf8.DecodeRuneInString(s)
	last, _ := utf8.DecodeLastRuneInString(s)
	return &wordMatcher{re: re, lead: isWordRune(first), trail: isWordRune(last)}, nil
}

// wordMatcher checks word edges itself: regexp's \b only knows ASCII.
type wordMatcher struct {
	re    *regexp.Regexp
	lead  bool
	trail bool
}

func (w *wordMatcher) find(text string) [][]int {
	var out [][]int
	for _, loc := range w.re.FindAllStringIndex(text, -1) {
		if w.lead && loc[0] > 0 {
			if r, _ := utf8.DecodeLastRuneInString(text[:loc[0]]); isWordRune(r) {
				continue
			}
		}
		if w.trail && loc[1] < len(text) {
			if r, _ := utf8.DecodeRuneInString(text[loc[1]:]); isWordRune(r) {
				continue
			}
		}
		out = append(out, loc)
	}
	return out
}

func (w *wordMatcher) MatchString(text string) bool {
	return len(w.find(text)) > 0
}

// replace substitutes every edge-bounded match with to and reports the count.
func (w *wordMatcher) replace(text string, to string) (string, int) {
	hits := w.find(text)
	if len(hits) == 0 {
		return text, 0
	}
	var b strings.Builder
	prev := 0
	for _, loc := range hits {
		b.WriteString(text[prev:loc[0]])
		b.WriteString(to)
		prev = loc[1]
	}
	b.WriteString(text[prev:])
	return b.String(), len(hits)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (n *Normalizer) Normalize(raw string) (Record, error) {
	rec := Record{Raw: raw}
	text := Clean(raw)
	if text == "" {
		return rec, fmt.Errorf("%w: empty name", ErrMalformedInput)
	}

	text, rec.Corrections = n.applyTypos(text)

	base, v := extractVariant(text)
	base = trimDangling(collapse(base))
	if base == "" {
		return rec, fmt.Errorf("%w: no base name in %q", ErrMalformedInput, raw)
	}
	if isSingleCase(base) {
		// Casers are stateful; one per call.
		base = cases.Title(language.English).String(base)
	}

	rec.BaseName = base
	rec.VariantToken = v.token
	rec.VariantLabel = v.label
	rec.VariantUnit = v.unit
	rec.VariantValue = v.value
	rec.Category = n.categorize(base, v.label)
	rec.PrefixFamily = n.prefixFamily(base)
	rec.ConfidenceHint = confidenceHint(rec.Corrections, rec.Category)
	return rec, nil
}

func (n *Normalizer) applyTypos(text string) (string, int) {
	count := 0
	for _, t := range n.typos {
		var hits int
		text, hits = t.re.replace(text, t.to)
		count += hits
	}
	return text, count
}

func (n *Normalizer) categorize(base string, variantLabel string) models.Category {
	for _, k := range n.keywords {
		if k.re.MatchString(base) {
			return k.category
		}
	}
	if variantLabel != "" {
		for _, k := range n.hints {
			if k.re.MatchString(variantLabel) {
				return k.category
			}
		}
	}
	return models.CategoryUnclassified
}

// PrefixFamily returns the dietary/size prefix a name starts with, or "".
func (n *Normalizer) PrefixFamily(name string) string {
	return n.prefixFamily(name)
}

func (n *Normalizer) prefixFamily(name string) string {
	key := models.NameKey(name)
	for _, p := range n.prefixes {
		if key == p || strings.HasPrefix(key, p+" ") {
			return p
		}
	}
	return ""
}

func confidenceHint(corrections int, category models.Category) int {
	hint := 100 - 10*corrections
	if category == models.CategoryUnclassified {
		hint -= 20
	}
	if hint < 0 {
		hint = 0
	}
	return hint
}

// Clean decodes HTML entities, strips accents and collapses whitespace.
func Clean(raw string) string {
	s := raw
	// Double-encoded entities ("&amp;amp;") show up in POS exports.
	for i := 0; i < 2; i++ {
		d := html.UnescapeString(s)
		if d == s {
			break
		}
		s = d
	}
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\u00a0' || r == '\u2007' || r == '\u202f':
			return ' '
		case r == '\u2018' || r == '\u2019':
			return '\''
		case r == '\u2013' || r == '\u2014':
			return '-'
		case unicode.IsControl(r):
			return ' '
		}
		return r
	}, s)
	if stripped, _, err := transform.String(newAccentStripper(), s); err == nil {
		s = stripped
	}
	return collapse(s)
}

// Transformers carry state; build one per call.
func newAccentStripper() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// trimDangling drops separators left at the edges once the variant is cut
// out, including a group opener whose contents went with it.
func trimDangling(s string) string {
	s = strings.Trim(s, " -,/:|&+")
	s = strings.TrimRight(s, " (")
	return strings.TrimSpace(strings.Trim(s, " -,/:|&+"))
}

func isSingleCase(s string) bool {
	return s == strings.ToLower(s) || s == strings.ToUpper(s)
}
