package auth_test

import (
	"testing"

	"asirinvest/core-service/internal/auth"
)

func TestParseProxies_Rejects(t *testing.T) {
	for _, in := range []string{"gateway", "10.0.0.0/99", "10.0.0.1,,bad"} {
		if _, err := auth.ParseProxies(in); err == nil {
			t.Errorf("ParseProxies(%q) succeeded, want error", in)
		}
	}
}

func TestOrigin(t *testing.T) {
	gw, err := auth.ParseProxies("10.0.0.0/8, 192.0.2.1")
	if err != nil {
		t.Fatalf("ParseProxies: %v", err)
	}

	cases := []struct {
		name      string
		proxies   auth.Proxies
		peer      string
		forwarded string
		want      string
	}{
		{"no proxies trusted ignores header", auth.Proxies{}, "198.51.100.4:5100", "203.0.113.99", "198.51.100.4"},
		{"untrusted peer ignores header", gw, "198.51.100.4:5100", "203.0.113.99", "198.51.100.4"},
		{"trusted gateway forwards client", gw, "10.1.2.3:443", "203.0.113.9", "203.0.113.9"},
		{"client-prepended hop is skipped", gw, "10.1.2.3:443", "6.6.6.6, 203.0.113.9", "203.0.113.9"},
		{"chain of trusted hops", gw, "192.0.2.1:80", "203.0.113.9, 10.9.9.9", "203.0.113.9"},
		{"trusted peer without header", gw, "10.1.2.3:443", "", "10.1.2.3"},
		{"peer without port", auth.Proxies{}, "bufconn", "", "bufconn"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.proxies.Origin(tc.peer, tc.forwarded); got != tc.want {
				t.Errorf("Origin(%q, %q) = %q, want %q", tc.peer, tc.forwarded, got, tc.want)
			}
		})
	}
}
