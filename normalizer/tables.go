package normalizer

import "github.com/mmdatafocus/menu_backend/models"

// TypoRule rewrites a known misspelling. Matching is case-insensitive and
// bounded by word edges; longer rules are applied first.
type TypoRule struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// KeywordRule maps a keyword found in the base name to a category.
// Rules are evaluated in order; the first hit wins.
type KeywordRule struct {
	Keyword  string          `yaml:"keyword"`
	Category models.Category `yaml:"category"`
}

type Tables struct {
	Typos          []TypoRule    `yaml:"typos"`
	Keywords       []KeywordRule `yaml:"keywords"`
	PrefixFamilies []string      `yaml:"prefix_families"`
}

func DefaultTables() Tables {
	return Tables{
		Typos: []TypoRule{
			{From: "icecream", To: "Ice Cream"},
			{From: "ice-cream", To: "Ice Cream"},
			{From: "ice crem", To: "Ice Cream"},
			{From: "vanila", To: "Vanilla"},
			{From: "vanilia", To: "Vanilla"},
			{From: "choclate", To: "Chocolate"},
			{From: "chocolat", To: "Chocolate"},
			{From: "chocalate", To: "Chocolate"},
			{From: "strawbery", To: "Strawberry"},
			{From: "strawberri", To: "Strawberry"},
			{From: "carmel", To: "Caramel"},
			{From: "caramal", To: "Caramel"},
			{From: "pistacho", To: "Pistachio"},
			{From: "pistachoi", To: "Pistachio"},
			{From: "waffel", To: "Waffle"},
			{From: "sunday", To: "Sundae"},
			{From: "expresso", To: "Espresso"},
			{From: "cofee", To: "Coffee"},
			{From: "coffe", To: "Coffee"},
			{From: "mango lasi", To: "Mango Lassi"},
			{From: "brownee", To: "Brownie"},
			{From: "cheese cake", To: "Cheesecake"},
			{From: "old fashioned", To: "Old Fashion"},
		},
		Keywords: []KeywordRule{
			{Keyword: "combo", Category: models.CategoryCombo},
			{Keyword: "bundle", Category: models.CategoryCombo},
			{Keyword: "meal deal", Category: models.CategoryCombo},
			{Keyword: "extra", Category: models.CategoryExtra},
			{Keyword: "add on", Category: models.CategoryExtra},
			{Keyword: "add-on", Category: models.CategoryExtra},
			{Keyword: "addon", Category: models.CategoryExtra},
			{Keyword: "topping", Category: models.CategoryExtra},
			{Keyword: "sauce", Category: models.CategoryExtra},
			{Keyword: "sprinkles", Category: models.CategoryExtra},
			{Keyword: "whipped cream", Category: models.CategoryExtra},
			{Keyword: "ice cream", Category: models.CategoryIceCream},
			{Keyword: "gelato", Category: models.CategoryIceCream},
			{Keyword: "sorbet", Category: models.CategoryIceCream},
			{Keyword: "kulfi", Category: models.CategoryIceCream},
			{Keyword: "sundae", Category: models.CategoryIceCream},
			{Keyword: "scoop", Category: models.CategoryIceCream},
			{Keyword: "milkshake", Category: models.CategoryDrink},
			{Keyword: "shake", Category: models.CategoryDrink},
			{Keyword: "smoothie", Category: models.CategoryDrink},
			{Keyword: "coffee", Category: models.CategoryDrink},
			{Keyword: "espresso", Category: models.CategoryDrink},
			{Keyword: "latte", Category: models.CategoryDrink},
			{Keyword: "cappuccino", Category: models.CategoryDrink},
			{Keyword: "frappe", Category: models.CategoryDrink},
			{Keyword: "tea", Category: models.CategoryDrink},
			{Keyword: "lassi", Category: models.CategoryDrink},
			{Keyword: "juice", Category: models.CategoryDrink},
			{Keyword: "soda", Category: models.CategoryDrink},
			{Keyword: "water", Category: models.CategoryDrink},
			{Keyword: "dessert", Category: models.CategoryDessert},
			{Keyword: "cake", Category: models.CategoryDessert},
			{Keyword: "cheesecake", Category: models.CategoryDessert},
			{Keyword: "brownie", Category: models.CategoryDessert},
			{Keyword: "waffle", Category: models.CategoryDessert},
			{Keyword: "cookie", Category: models.CategoryDessert},
			{Keyword: "pudding", Category: models.CategoryDessert},
			{Keyword: "tart", Category: models.CategoryDessert},
			{Keyword: "pie", Category: models.CategoryDessert},
			{Keyword: "crepe", Category: models.CategoryDessert},
			{Keyword: "falooda", Category: models.CategoryDessert},
		},
		PrefixFamilies: []string{
			"eggless", "sugar free", "vegan", "keto", "dairy free", "mini", "kids",
		},
	}
}

// variantCategoryHints classify a base name with no keyword by its variant label.
var variantCategoryHints = []KeywordRule{
	{Keyword: "scoop", Category: models.CategoryIceCream},
	{Keyword: "tub", Category: models.CategoryIceCream},
	{Keyword: "cone", Category: models.CategoryIceCream},
	{Keyword: "slice", Category: models.CategoryDessert},
}
