package category

// defaultCategoryAccounts maps internal category keys to expense
// accounts. Overlay files can remap any key without touching the rules.
var defaultCategoryAccounts = map[string]string{
	"grocery_dairy":            "Expenses:Food:Grocery:Dairy",
	"grocery_meat":             "Expenses:Food:Grocery:Meat",
	"grocery_seafood_fish":     "Expenses:Food:Grocery:Seafood:Fish",
	"grocery_seafood_shrimp":   "Expenses:Food:Grocery:Seafood:Shrimp",
	"grocery_seafood":          "Expenses:Food:Grocery:Seafood",
	"grocery_fruit":            "Expenses:Food:Grocery:Fruit",
	"grocery_vegetable":        "Expenses:Food:Grocery:Vegetable",
	"grocery_vegetable_canned": "Expenses:Food:Grocery:Vegetable:Canned",
	"grocery_frozen_dumpling":  "Expenses:Food:Grocery:Frozen:Dumpling",
	"grocery_frozen_icecream":  "Expenses:Food:Grocery:Frozen:IceCream",
	"grocery_frozen":           "Expenses:Food:Grocery:Frozen",
	"grocery_prepared_meal":    "Expenses:Food:Grocery:PreparedMeal",
	"grocery_bakery":           "Expenses:Food:Grocery:Bakery",
	"grocery_staple":           "Expenses:Food:Grocery:Staple",
	"grocery_seasoning":        "Expenses:Food:Grocery:Seasoning",
	"grocery_snacks":           "Expenses:Food:Grocery:Snacks",
	"grocery_snacks_mint":      "Expenses:Food:Grocery:Snacks:Mint",
	"grocery_drink_cocacola":   "Expenses:Food:Grocery:Drink:CocaCola",
	"grocery_drink_juice":      "Expenses:Food:Grocery:Drink:Juice",
	"grocery_drink_coffee":     "Expenses:Food:Grocery:Drink:Coffee",
	"grocery_drink":            "Expenses:Food:Grocery:Drink",
	"alcoholic_beverage":       "Expenses:Food:AlcoholicBeverage",
	"home_household_supply":    "Expenses:Home:HouseholdSupply",
	"personal_care":            "Expenses:PersonalCare",
	"personal_care_tooth":      "Expenses:PersonalCare:Tooth",
	"pet":                      "Expenses:Pet",
	"pet_supply":               "Expenses:Pet:Supply",
	"restaurant_gift_card":     "Expenses:Food:Restaurant:GiftCard",
}

// builtinRules is the priority-0 base layer. Keyword order within a rule
// does not matter; only the first matching keyword per rule scores.
var builtinRules = []Rule{
	{Keywords: []string{"MILK", "CREAM", "YOGURT", "CHEESE", "BUTTER", "EGGS", "EGG"}, Key: "grocery_dairy"},
	{Keywords: []string{"CHICKEN", "BEEF", "PORK", "LAMB", "BACON", "SAUSAGE", "DRUMSTICK", "WING", "RIB"}, Key: "grocery_meat"},
	{Keywords: []string{"SALMON", "TILAPIA", "BASA", "TROUT", "MACKEREL", "COD FILLET"}, Key: "grocery_seafood_fish"},
	{Keywords: []string{"SHRIMP", "PRAWN"}, Key: "grocery_seafood_shrimp"},
	{Keywords: []string{"CRAB", "LOBSTER", "SCALLOP", "OYSTER", "SQUID", "CLAM"}, Key: "grocery_seafood"},
	{Keywords: []string{"APPLE", "BANANA", "ORANGE", "GRAPE", "MANGO", "STRAWBERRY", "BLUEBERRY", "WATERMELON", "PEACH", "PEAR", "CHERRY"}, Key: "grocery_fruit"},
	{Keywords: []string{"LETTUCE", "SPINACH", "BROCCOLI", "CARROT", "ONION", "POTATO", "TOMATO", "CABBAGE", "BOK CHOY", "PEPPER", "CUCUMBER", "CELERY", "MUSHROOM", "GARLIC", "GINGER"}, Key: "grocery_vegetable"},
	{Keywords: []string{"DUMPLING", "WONTON", "GYOZA", "POTSTICKER"}, Key: "grocery_frozen_dumpling"},
	{Keywords: []string{"ICE CREAM", "POPSICLE", "GELATO"}, Key: "grocery_frozen_icecream"},
	{Keywords: []string{"BREAD", "BAGEL", "CROISSANT", "DOUGHNUT", "DONUT", "MUFFIN", "CAKE", "TORTILLA"}, Key: "grocery_bakery"},
	{Keywords: []string{"RICE", "FLOUR", "PASTA", "NOODLE", "NOODLES", "OATS", "SUGAR", "CEREAL"}, Key: "grocery_staple"},
	{Keywords: []string{"SOY SAUCE", "VINEGAR", "KETCHUP", "MUSTARD", "MAYONNAISE", "SRIRACHA", "SESAME OIL", "OLIVE OIL"}, Key: "grocery_seasoning"},
	{Keywords: []string{"CHIPS", "COOKIE", "COOKIES", "CRACKER", "CHOCOLATE", "CANDY", "POPCORN", "PRETZEL"}, Key: "grocery_snacks"},
	{Keywords: []string{"COCA COLA", "COKE ZERO", "COCA-COLA"}, Key: "grocery_drink_cocacola"},
	{Keywords: []string{"JUICE", "LEMONADE"}, Key: "grocery_drink_juice"},
	{Keywords: []string{"COFFEE", "ESPRESSO"}, Key: "grocery_drink_coffee"},
	{Keywords: []string{"SPARKLING WATER", "SODA", "GINGER ALE"}, Key: "grocery_drink"},
	{Keywords: []string{"BEER", "WINE", "VODKA", "WHISKY", "CIDER"}, Key: "alcoholic_beverage"},
	{Keywords: []string{"PAPER TOWEL", "TOILET PAPER", "DETERGENT", "BLEACH", "GARBAGE BAG", "DISH SOAP", "SPONGE"}, Key: "home_household_supply"},
	{Keywords: []string{"SHAMPOO", "CONDITIONER", "DEODORANT", "BODY WASH", "LOTION", "RAZOR"}, Key: "personal_care"},
	{Keywords: []string{"TOOTHPASTE", "TOOTHBRUSH", "FLOSS", "MOUTHWASH"}, Key: "personal_care_tooth"},
	{Keywords: []string{"CAT LITTER", "CAT FOOD", "DOG FOOD", "CAT TREAT", "DOG TREAT"}, Key: "pet_supply"},
}
