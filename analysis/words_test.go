package analysis

import (
	"strings"
	"testing"
)

func TestCount(t *testing.T) {
	text := "Today's challenge is insane! Whoever survives wins one MILLION dollars. " +
		"If you get caught in a trap you're eliminated. Don't forget to subscribe. " +
		"This mystery box could hold a Tesla or a Lamborghini."
	groups := DefaultGroups()
	counts := Count(text, groups)

	want := map[string]int{
		"Challenge":         1,
		"Insane":            1,
		"Thousand/Million":  1,
		"Dollar":            1,
		"Trap":              1,
		"Eliminated":        1,
		"Subscribe":         1,
		"Mystery Box":       1,
		"Tesla/Lamborghini": 2,
		"Beast Games":       0,
	}
	for name, n := range want {
		if counts[name] != n {
			t.Errorf("counts[%q] = %d, want %d", name, counts[name], n)
		}
	}
}

func TestCountCaseInsensitive(t *testing.T) {
	counts := Count("SUBSCRIBE subscribe SuBsCrIbEd", DefaultGroups())
	if counts["Subscribe"] != 3 {
		t.Errorf("Subscribe = %d, want 3", counts["Subscribe"])
	}
}

func TestCountWordBoundaries(t *testing.T) {
	// "carpet" must not count as "car"; "trapped" must not count as "trap".
	counts := Count("the carpet trapped nobody", DefaultGroups())
	if counts["Car/Supercar"] != 0 {
		t.Errorf("Car/Supercar = %d, want 0", counts["Car/Supercar"])
	}
	if counts["Trap"] != 0 {
		t.Errorf("Trap = %d, want 0", counts["Trap"])
	}
}

func TestCountZeroGroupsPresent(t *testing.T) {
	groups := DefaultGroups()
	counts := Count("nothing relevant here", groups)
	if len(counts) != len(groups) {
		t.Fatalf("len(counts) = %d, want %d (every group present, zero included)", len(counts), len(groups))
	}
}

func TestTotal(t *testing.T) {
	c := Counts{"a": 2, "b": 3, "c": 0}
	if c.Total() != 5 {
		t.Errorf("Total() = %d", c.Total())
	}
}

func TestFormatTable(t *testing.T) {
	groups := DefaultGroups()
	counts := Count("an insane challenge with a million dollar prize", groups)
	table := FormatTable(counts, groups)

	if !strings.HasPrefix(table, "<pre>") || !strings.HasSuffix(table, "</pre>") {
		t.Fatalf("table not wrapped in <pre>: %q", table)
	}
	if !strings.Contains(table, "TOTAL") {
		t.Fatal("missing TOTAL row")
	}
	lines := strings.Split(strings.Trim(strings.TrimPrefix(strings.TrimSuffix(table, "</pre>"), "<pre>"), "\n"), "\n")
	if len(lines) != len(groups)+1 {
		t.Fatalf("rows = %d, want %d", len(lines), len(groups)+1)
	}
	if !strings.Contains(table, "Insane") {
		t.Fatal("missing group row")
	}
}
