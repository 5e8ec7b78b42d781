package logx

import "testing"

func TestAnonymizeIP(t *testing.T) {
	cases := map[string]string{
		"203.0.113.77:51234":         "203.0.113.0",
		"127.0.0.1:80":               "127.0.0.1",
		"[2001:db8:1:2:3:4:5:6]:443": "2001:db8:1:2::",
		"not-an-ip":                  "unknown_ip",
	}

	for in, want := range cases {
		if got := anonymizeIP(in); got != want {
			t.Errorf("anonymizeIP(%q) = %q, want %q", in, got, want)
		}
	}
}
