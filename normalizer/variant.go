package normalizer

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

type variant struct {
	token string
	label string
	unit  string
	value decimal.Decimal
}

var (
	quantityRe   = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s?(ml|ltr|l|kg|gm|g|oz|pcs|pc)\b`)
	descriptorRe = regexp.MustCompile(`(?i)\b(single|double|triple|mini|small|regular|medium|large|family|\d+)\s+(scoops?|tubs?|cups?|cones?|pieces?|slices?)\b`)
	sizeWordRe   = regexp.MustCompile(`(?i)\b(single|double|triple|mini|small|regular|medium|large|family|kids|perfect plenty|pint|half|full|scoops?|tubs?|cups?|cones?|pieces?|slices?)\b`)
	nonAlnumRe   = regexp.MustCompile(`[^A-Za-z0-9]+`)
)

var unitAliases = map[string]string{
	"ml":  "ML",
	"l":   "L",
	"ltr": "L",
	"g":   "G",
	"gm":  "G",
	"kg":  "KG",
	"oz":  "OZ",
	"pc":  "PCS",
	"pcs": "PCS",
}

// extractVariant applies the variant patterns in order; the first that matches
// is removed from the text.
func extractVariant(text string) (string, variant) {
	if base, inner, ok := trailingParenthetical(text); ok && looksLikeSize(inner) {
		v := variant{label: collapse(inner), token: upperSnake(inner)}
		if m := quantityRe.FindStringSubmatch(inner); m != nil {
			v.value, v.unit = quantityOf(m)
		}
		return base, v
	}
	if loc := quantityRe.FindStringSubmatchIndex(text); loc != nil {
		m := []string{text[loc[0]:loc[1]], text[loc[2]:loc[3]], text[loc[4]:loc[5]]}
		v := variant{label: m[0]}
		v.value, v.unit = quantityOf(m)
		v.token = upperSnake(v.value.String() + v.unit)
		return text[:loc[0]] + " " + text[loc[1]:], v
	}
	if loc := descriptorRe.FindStringSubmatchIndex(text); loc != nil {
		qualifier := text[loc[2]:loc[3]]
		noun := singular(text[loc[4]:loc[5]])
		v := variant{
			label: collapse(text[loc[0]:loc[1]]),
			token: upperSnake(qualifier + " " + noun),
		}
		return text[:loc[0]] + " " + text[loc[1]:], v
	}
	return text, variant{}
}

// trailingParenthetical splits "Name (A (B))" into "Name" and "A (B)". It only
// fires when the text ends with a closing parenthesis. A group left open
// before it ("Name (A (B)") is taken as the start of the variant and closed.
func trailingParenthetical(text string) (string, string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasSuffix(text, ")") {
		return "", "", false
	}
	depth := 0
	for i := len(text) - 1; i >= 0; i-- {
		switch text[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				base, inner := text[:i], text[i+1:len(text)-1]
				if open := unclosedGroups(base); len(open) > 0 {
					inner = base[open[0]+1:] + "(" + inner + ")" + strings.Repeat(")", len(open)-1)
					base = base[:open[0]]
				}
				return strings.TrimSpace(base), strings.TrimSpace(inner), true
			}
		}
	}
	return "", "", false
}

// unclosedGroups returns the offsets of '(' in s that are never closed.
func unclosedGroups(s string) []int {
	var open []int
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			open = append(open, i)
		case ')':
			if len(open) > 0 {
				open = open[:len(open)-1]
			}
		}
	}
	return open
}

func looksLikeSize(s string) bool {
	return quantityRe.MatchString(s) || sizeWordRe.MatchString(s)
}

func quantityOf(m []string) (decimal.Decimal, string) {
	value, err := decimal.NewFromString(m[1])
	if err != nil {
		value = decimal.Zero
	}
	unit := unitAliases[strings.ToLower(m[2])]
	return value, unit
}

func singular(noun string) string {
	if len(noun) > 1 && strings.HasSuffix(strings.ToLower(noun), "s") {
		return noun[:len(noun)-1]
	}
	return noun
}

// upperSnake renders "Regular Tub (300ml)" as REGULAR_TUB_300ML.
func upperSnake(s string) string {
	s = nonAlnumRe.ReplaceAllString(s, "_")
	return strings.ToUpper(strings.Trim(s, "_"))
}

// VariantInfo describes a variant token and the quantity it carries, if any.
type VariantInfo struct {
	Token string
	Label string
	Unit  string
	Value decimal.Decimal
}

// ParseVariant derives the canonical token for a free-text variant label, as
// used by seed catalogs ("Regular Tub (300ml)" -> REGULAR_TUB_300ML).
func ParseVariant(label string) VariantInfo {
	label = collapse(Clean(label))
	info := VariantInfo{Label: label, Token: upperSnake(label)}
	if m := quantityRe.FindStringSubmatch(label); m != nil {
		info.Value, info.Unit = quantityOf(m)
		if m[0] == label {
			info.Token = upperSnake(info.Value.String() + info.Unit)
		}
	} else if m := descriptorRe.FindStringSubmatch(label); m != nil && m[0] == label {
		info.Token = upperSnake(m[1] + " " + singular(m[2]))
	}
	return info
}
