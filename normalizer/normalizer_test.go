package normalizer

import (
	"errors"
	"testing"

	"github.com/mmdatafocus/menu_backend/models"
	"github.com/shopspring/decimal"
)

func TestNormalize_ExtractsBaseCategoryVariant(t *testing.T) {
	n := Default()
	cases := []struct {
		raw      string
		base     string
		category models.Category
		token    string
		hint     int
	}{
		{"Fig Orange Ice Cream (Regular Tub (300ml))", "Fig Orange Ice Cream", models.CategoryIceCream, "REGULAR_TUB_300ML", 100},
		{"Old Fashion Vanilla Ice Cream (Perfect Plenty (300ml))", "Old Fashion Vanilla Ice Cream", models.CategoryIceCream, "PERFECT_PLENTY_300ML", 100},
		{"Choclate Icecream 500ml", "Chocolate Ice Cream", models.CategoryIceCream, "500ML", 80},
		{"Fig &amp; Orange   Ice Cream", "Fig & Orange Ice Cream", models.CategoryIceCream, "", 100},
		{"Double Scoop Vanila", "Vanilla", models.CategoryIceCream, "DOUBLE_SCOOP", 90},
		{"Vanilla (Classic (Old)) Ice Cream", "Vanilla (Classic (Old)) Ice Cream", models.CategoryIceCream, "", 100},
		{"Crème Brûlée", "Creme Brulee", models.CategoryUnclassified, "", 80},
		{"EMPLOYEE DESSERT", "Employee Dessert", models.CategoryDessert, "", 100},
		{"Mango Lassi 1.5 L", "Mango Lassi", models.CategoryDrink, "1_5L", 100},
		{"Extra Chocolate Sauce", "Extra Chocolate Sauce", models.CategoryExtra, "", 100},
		{"Kids Combo (Small Cup)", "Kids Combo", models.CategoryCombo, "SMALL_CUP", 100},
		{"Vanilla Ice Cream (Regular Tub (300ml)", "Vanilla Ice Cream", models.CategoryIceCream, "REGULAR_TUB_300ML", 100},
		{"Vanilla Ice Cream (Regular Tub", "Vanilla Ice Cream", models.CategoryIceCream, "REGULAR_TUB", 100},
	}
	for _, tc := range cases {
		rec, err := n.Normalize(tc.raw)
		if err != nil {
			t.Fatalf("Normalize(%q) error: %v", tc.raw, err)
		}
		if rec.BaseName != tc.base {
			t.Fatalf("Normalize(%q) base expected %q, got %q", tc.raw, tc.base, rec.BaseName)
		}
		if rec.Category != tc.category {
			t.Fatalf("Normalize(%q) category expected %q, got %q", tc.raw, tc.category, rec.Category)
		}
		if rec.VariantToken != tc.token {
			t.Fatalf("Normalize(%q) variant expected %q, got %q", tc.raw, tc.token, rec.VariantToken)
		}
		if rec.ConfidenceHint != tc.hint {
			t.Fatalf("Normalize(%q) hint expected %d, got %d", tc.raw, tc.hint, rec.ConfidenceHint)
		}
	}
}

func TestNormalize_NestedParentheticalKeepsQuantity(t *testing.T) {
	rec, err := Default().Normalize("Fig Orange Ice Cream (Regular Tub (300ml))")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.VariantUnit != "ML" || !rec.VariantValue.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected 300 ML, got %s %s", rec.VariantValue, rec.VariantUnit)
	}
	if rec.VariantLabel != "Regular Tub (300ml)" {
		t.Fatalf("unexpected label %q", rec.VariantLabel)
	}
}

func TestNormalize_NonSizeParenthesisStaysInName(t *testing.T) {
	rec, err := Default().Normalize("Vanilla Ice Cream (Sugar Free)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.BaseName != "Vanilla Ice Cream (Sugar Free)" || rec.VariantToken != "" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestNormalize_MalformedInput(t *testing.T) {
	n := Default()
	for _, raw := range []string{"", "   ", "&nbsp;", "(300ml)", "500ml", " - (Regular Tub (300ml))"} {
		_, err := n.Normalize(raw)
		if !errors.Is(err, ErrMalformedInput) {
			t.Fatalf("Normalize(%q) expected ErrMalformedInput, got %v", raw, err)
		}
	}
}

func TestNormalize_PrefixFamily(t *testing.T) {
	n := Default()
	cases := map[string]string{
		"Eggless Brownie":            "eggless",
		"Sugar Free Vanilla Scoop":   "sugar free",
		"Vanilla Ice Cream":          "",
		"Vegan Mango Sorbet (250ml)": "vegan",
	}
	for raw, want := range cases {
		rec, err := n.Normalize(raw)
		if err != nil {
			t.Fatalf("Normalize(%q) error: %v", raw, err)
		}
		if rec.PrefixFamily != want {
			t.Fatalf("Normalize(%q) prefix expected %q, got %q", raw, want, rec.PrefixFamily)
		}
	}
}

func TestNormalize_ConfidenceDropsWithCorrections(t *testing.T) {
	n := Default()
	clean, _ := n.Normalize("Chocolate Ice Cream")
	one, _ := n.Normalize("Choclate Ice Cream")
	two, _ := n.Normalize("Choclate Icecream")
	if !(clean.ConfidenceHint > one.ConfidenceHint && one.ConfidenceHint > two.ConfidenceHint) {
		t.Fatalf("expected decreasing hints, got %d %d %d", clean.ConfidenceHint, one.ConfidenceHint, two.ConfidenceHint)
	}
	if clean.BaseName != one.BaseName || one.BaseName != two.BaseName {
		t.Fatalf("expected same base, got %q %q %q", clean.BaseName, one.BaseName, two.BaseName)
	}
}

func TestNormalize_LongestTypoFirst(t *testing.T) {
	n, err := New(Tables{
		Typos: []TypoRule{
			{From: "van", To: "Vanilla"},
			{From: "van ila", To: "Vanilla"},
		},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	rec, err := n.Normalize("Van Ila Scoop")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.BaseName != "Vanilla Scoop" || rec.Corrections != 1 {
		t.Fatalf("expected single longest correction, got %q (%d)", rec.BaseName, rec.Corrections)
	}
}

func TestKeys_IgnoreCaseAndSpacing(t *testing.T) {
	if RawKey("Fig &amp; Orange  ICE cream") != RawKey("fig & orange ice cream") {
		t.Fatalf("raw keys differ")
	}
	if ItemKey("Vanilla  Scoop", models.CategoryIceCream) != ItemKey("vanilla scoop", models.CategoryIceCream) {
		t.Fatalf("item keys differ")
	}
	if ItemKey("Vanilla Scoop", models.CategoryIceCream) == ItemKey("Vanilla Scoop", models.CategoryDessert) {
		t.Fatalf("item keys must include category")
	}
}

func TestParseTables_OverridesSections(t *testing.T) {
	yml := []byte(`
typos:
  - {from: "vanil", to: "Vanilla"}
prefix_families: ["organic"]
`)
	tables, err := ParseTables(yml)
	if err != nil {
		t.Fatalf("ParseTables error: %v", err)
	}
	if len(tables.Typos) != 1 || tables.Typos[0].To != "Vanilla" {
		t.Fatalf("typos not overridden: %+v", tables.Typos)
	}
	if len(tables.Keywords) != len(DefaultTables().Keywords) {
		t.Fatalf("keywords should keep defaults")
	}
	n, err := New(tables)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	rec, _ := n.Normalize("Organic Vanil Gelato")
	if rec.BaseName != "Organic Vanilla Gelato" || rec.PrefixFamily != "organic" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestNew_RejectsUnknownCategory(t *testing.T) {
	_, err := New(Tables{Keywords: []KeywordRule{{Keyword: "pizza", Category: "Pizza"}}})
	if !errors.Is(err, models.ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
}

func TestParseVariant_MatchesExtractedTokens(t *testing.T) {
	n := Default()
	cases := []struct {
		raw   string
		label string
	}{
		{"Vanilla Ice Cream (Regular Tub (300ml))", "Regular Tub (300ml)"},
		{"Mango Lassi 1.5 L", "1.5 L"},
		{"Vanilla Ice Cream 500 ml", "500ml"},
		{"Double Scoop Vanilla", "Double Scoop"},
	}
	for _, tc := range cases {
		rec, err := n.Normalize(tc.raw)
		if err != nil {
			t.Fatalf("Normalize(%q) error: %v", tc.raw, err)
		}
		if got := ParseVariant(tc.label).Token; got != rec.VariantToken {
			t.Fatalf("ParseVariant(%q) expected %q, got %q", tc.label, rec.VariantToken, got)
		}
	}
}

func TestNormalize_UnbalancedGroupKeepsVariantLabel(t *testing.T) {
	rec, err := Default().Normalize("Vanilla (Regular Tub (300ml)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.BaseName != "Vanilla" || rec.VariantLabel != "Regular Tub (300ml)" {
		t.Fatalf("expected base Vanilla and label %q, got %q / %q", "Regular Tub (300ml)", rec.BaseName, rec.VariantLabel)
	}
	if rec.VariantUnit != "ML" || !rec.VariantValue.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected 300 ML, got %s %s", rec.VariantValue, rec.VariantUnit)
	}
}

func TestNormalize_NonASCIITableEntries(t *testing.T) {
	n, err := New(Tables{
		Typos: []TypoRule{{From: "морожено", To: "мороженое"}},
		Keywords: []KeywordRule{
			{Keyword: "мороженое", Category: models.CategoryIceCream},
			{Keyword: "кофе", Category: models.CategoryDrink},
			{Keyword: "crème brûlée", Category: models.CategoryDessert},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		raw         string
		base        string
		category    models.Category
		corrections int
	}{
		{"Ванильное морожено", "Ванильное мороженое", models.CategoryIceCream, 1},
		{"Ванильное мороженое", "Ванильное мороженое", models.CategoryIceCream, 0},
		{"Кофе латте", "Кофе латте", models.CategoryDrink, 0},
		{"Кофемолка", "Кофемолка", models.CategoryUnclassified, 0},
		{"Crème Brûlée", "Creme Brulee", models.CategoryDessert, 0},
	}
	for _, tc := range cases {
		rec, err := n.Normalize(tc.raw)
		if err != nil {
			t.Fatalf("Normalize(%q) error: %v", tc.raw, err)
		}
		if rec.BaseName != tc.base || rec.Category != tc.category || rec.Corrections != tc.corrections {
			t.Fatalf("Normalize(%q) = %q/%s/%d, want %q/%s/%d", tc.raw, rec.BaseName, rec.Category, rec.Corrections, tc.base, tc.category, tc.corrections)
		}
	}
}
