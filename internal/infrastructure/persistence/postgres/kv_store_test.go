package postgres

import "testing"

func TestEscapeLike(t *testing.T) {
	cases := map[string]string{
		"pustakam-books:": "pustakam-books:",
		"a_b%":            `a\_b\%`,
		`c\d`:             `c\\d`,
	}
	for in, want := range cases {
		if got := escapeLike(in); got != want {
			t.Fatalf("escapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}
