package domain

import "testing"

func TestParseDate(t *testing.T) {
	testCases := map[string]string{
		"2024-06-01":                "2024-06-01",
		" 2024-06-30 ":              "2024-06-30",
		"2024-06-01T00:00:00Z":      "2024-06-01",
		"2024-06-01T23:30:00-05:00": "2024-06-01",
		"2024-05-26T00:00:00+02:00": "2024-05-26",
		"2024-06-01T08:00:00":       "2024-06-01",
	}
	for in, want := range testCases {
		d, err := ParseDate(in)
		if err != nil {
			t.Fatalf("ParseDate(%q): %v", in, err)
		}
		if d.String() != want {
			t.Fatalf("ParseDate(%q) = %s, want %s", in, d, want)
		}
	}
}

func TestParseDateRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "soon", "2024-13-01", "06/01/2024"} {
		if _, err := ParseDate(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestDateJSONNull(t *testing.T) {
	var d Date
	if err := d.UnmarshalJSON([]byte("null")); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if !d.IsZero() {
		t.Fatal("expected zero date")
	}
	out, _ := d.MarshalJSON()
	if string(out) != "null" {
		t.Fatalf("expected null, got %s", out)
	}
}
