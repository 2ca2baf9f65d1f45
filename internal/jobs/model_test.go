package jobs

import "testing"

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		seconds int
		want    string
	}{
		{0, "0:00"},
		{5, "0:05"},
		{59, "0:59"},
		{60, "1:00"},
		{95, "1:35"},
		{600, "10:00"},
		{-3, "0:00"},
	}
	for _, c := range cases {
		if got := FormatDuration(c.seconds); got != c.want {
			t.Fatalf("FormatDuration(%d) = %q, want %q", c.seconds, got, c.want)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	if StatusProcessing.Terminal() || StatusNotFound.Terminal() {
		t.Fatalf("processing/not_found should not be terminal")
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Fatalf("completed and failed should be terminal")
	}
}
