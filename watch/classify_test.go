package watch

import "testing"

func TestClassifyDuration(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		want    Classification
	}{
		{"zero duration is unknown", 0, ClassUnknown},
		{"negative duration is unknown", -5, ClassUnknown},
		{"one second is short", 1, ClassShort},
		{"exactly sixty seconds is short", 60, ClassShort},
		{"sixty-one seconds is long", 61, ClassLong},
		{"typical upload is long", 1325, ClassLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyDuration(tt.seconds); got != tt.want {
				t.Errorf("ClassifyDuration(%d) = %v, want %v", tt.seconds, got, tt.want)
			}
		})
	}
}

func TestClassificationString(t *testing.T) {
	if ClassShort.String() != "short" || ClassLong.String() != "long" || ClassUnknown.String() != "unknown" {
		t.Errorf("unexpected labels: %s %s %s", ClassShort, ClassLong, ClassUnknown)
	}
}
