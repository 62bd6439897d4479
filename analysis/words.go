// Package analysis counts buzzword occurrences in transcript text. Each word
// group is a named regex covering the spoken variants of a phrase; counts
// feed both the chat report and the market auto-trader.
package analysis

import (
	"fmt"
	"regexp"
	"strings"
)

// Group is one countable buzzword with its matching pattern.
type Group struct {
	Name    string
	Pattern *regexp.Regexp
}

// DefaultGroups returns the standard buzzword table. Order is the display
// order in reports.
func DefaultGroups() []Group {
	mk := func(name, expr string) Group {
		return Group{Name: name, Pattern: regexp.MustCompile(`(?i)` + expr)}
	}
	return []Group{
		mk("Dollar", `\bdollar(s)?\b`),
		mk("Thousand/Million", `\b(thousand|million)(s)?\b`),
		mk("Challenge", `\bchallenge(s)?\b`),
		mk("Eliminated", `\beliminated?\b`),
		mk("Trap", `\btrap(s)?\b`),
		mk("Car/Supercar", `\b(car|supercar)(s)?\b`),
		mk("Tesla/Lamborghini", `\b(tesla|lamborghini)(s)?\b`),
		mk("Helicopter/Jet", `\b(helicopter|jet)(s)?\b`),
		mk("Island", `\bisland(s)?\b`),
		mk("Mystery Box", `\bmystery box(es)?\b`),
		mk("Massive", `\bmassive\b`),
		mk("World's Biggest/Largest", `\bworld'?s?\s+(biggest|largest)\b`),
		mk("Beast Games", `\bbeast games\b`),
		mk("Feastables", `\bfeastables\b`),
		mk("MrBeast", `\bmr\.?\s*beast\b`),
		mk("Insane", `\binsane\b`),
		mk("Subscribe", `\bsubscrib(e|ed|ing|er|s)?\b`),
	}
}

// Counts maps group name to occurrence count. Every group appears, zero
// included, so reports and threshold checks see a stable key set.
type Counts map[string]int

// Count tallies every group's occurrences in text.
func Count(text string, groups []Group) Counts {
	out := make(Counts, len(groups))
	for _, g := range groups {
		out[g.Name] = len(g.Pattern.FindAllStringIndex(text, -1))
	}
	return out
}

// Total sums all group counts.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// FormatTable renders the counts as an aligned monospace table in group
// order, wrapped in <pre> for chat clients that render HTML.
func FormatTable(c Counts, groups []Group) string {
	width := 0
	for _, g := range groups {
		if len(g.Name) > width {
			width = len(g.Name)
		}
	}
	var b strings.Builder
	b.WriteString("<pre>")
	for _, g := range groups {
		fmt.Fprintf(&b, "%-*s %4d\n", width, g.Name, c[g.Name])
	}
	fmt.Fprintf(&b, "%-*s %4d\n", width, "TOTAL", c.Total())
	b.WriteString("</pre>")
	return b.String()
}
