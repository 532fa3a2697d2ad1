package symbol

import "testing"

func TestNormalize_Valid(t *testing.T) {
	cases := map[string]string{
		"AAPL":    "AAPL",
		"aapl":    "AAPL",
		" msft ":  "MSFT",
		"BRK.B":   "BRK.B",
		"brk.b":   "BRK.B",
		"F":       "F",
		"GOOGL":   "GOOGL",
	}
	for in, want := range cases {
		got, err := Normalize(in)
		if err != nil {
			t.Errorf("Normalize(%q) returned error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalize_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "TOOLONG", "AAPL1", "AA-PL", "BRK.BB", ".B"} {
		if _, err := Normalize(in); err == nil {
			t.Errorf("Normalize(%q) should fail", in)
		}
	}
}
