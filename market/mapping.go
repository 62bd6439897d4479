package market

import "strings"

// Rule binds a market-question keyword to a buzzword category and the count
// threshold at which the question resolves Yes.
type Rule struct {
	Keyword   string
	Category  string
	Threshold int
}

// DefaultRules maps question keywords to analysis categories. Order matters:
// the first keyword found in the question wins, so more specific phrases come
// before their substrings ("supercar" before "car", "world's biggest" before
// generic words).
func DefaultRules() []Rule {
	return []Rule{
		{"world's biggest", "World's Biggest/Largest", 1},
		{"world's largest", "World's Biggest/Largest", 1},
		{"mystery box", "Mystery Box", 1},
		{"beast games", "Beast Games", 1},
		{"supercar", "Car/Supercar", 1},
		{"helicopter", "Helicopter/Jet", 1},
		{"lamborghini", "Tesla/Lamborghini", 1},
		{"feastables", "Feastables", 1},
		{"eliminated", "Eliminated", 1},
		{"challenge", "Challenge", 1},
		{"subscribe", "Subscribe", 1},
		{"thousand", "Thousand/Million", 10},
		{"million", "Thousand/Million", 10},
		{"mrbeast", "MrBeast", 1},
		{"massive", "Massive", 1},
		{"dollar", "Dollar", 10},
		{"insane", "Insane", 1},
		{"island", "Island", 1},
		{"tesla", "Tesla/Lamborghini", 1},
		{"trap", "Trap", 1},
		{"jet", "Helicopter/Jet", 1},
		{"car", "Car/Supercar", 1},
	}
}

// Match returns the first rule whose keyword appears in the market question,
// or false when no rule applies.
func Match(question string, rules []Rule) (Rule, bool) {
	q := strings.ToLower(question)
	for _, r := range rules {
		if strings.Contains(q, r.Keyword) {
			return r, true
		}
	}
	return Rule{}, false
}
