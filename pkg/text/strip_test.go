package text

import "testing"

func TestStripMarkup(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain title", "plain title"},
		{"  spaced   out  ", "spaced out"},
		{"<b>bold</b> title", "bold title"},
		{"<p><br></p>", ""},
		{"<script>alert(1)</script>", ""},
		{"<div>a</div><div>b</div>", "a b"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := StripMarkup(tc.in); got != tc.want {
			t.Errorf("StripMarkup(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
