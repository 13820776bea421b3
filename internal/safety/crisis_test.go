package safety

import (
	"strings"
	"testing"
)

func TestCrisis(t *testing.T) {
	c := Crisis()
	if c.Message == "" {
		t.Fatal("crisis message is empty")
	}
	wants := []string{"911", "988", "741741"}
	joined := strings.Join(c.Resources, "\n")
	for _, w := range wants {
		if !strings.Contains(joined, w) {
			t.Errorf("crisis resources missing %q", w)
		}
	}

	c.Resources[0] = "mutated"
	if Crisis().Resources[0] == "mutated" {
		t.Error("Crisis returned shared resource slice")
	}
}

func TestRecommendations(t *testing.T) {
	for _, level := range []RiskLevel{RiskLow, RiskMedium, RiskHigh} {
		if got := Recommendations(level); len(got) != 5 {
			t.Errorf("Recommendations(%q) has %d entries, want 5", level, len(got))
		}
	}
	if got, want := Recommendations("unknown")[0], Recommendations(RiskLow)[0]; got != want {
		t.Errorf("unknown level got %q, want low-risk list", got)
	}
}

func TestHelplines(t *testing.T) {
	if got := Helplines(); len(got) != 3 {
		t.Errorf("Helplines() has %d entries, want 3", len(got))
	}
}
