package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	proxies, err := parseTrustedProxies([]string{"10.0.0.0/8", " 192.168.1.1 "})
	require.NoError(t, err)
	s := &Server{proxies: proxies}

	tests := []struct {
		name       string
		remoteAddr string
		forwarded  []string
		want       string
	}{
		{name: "direct peer", remoteAddr: "203.0.113.7:5000", want: "203.0.113.7"},
		{name: "untrusted peer cannot spoof", remoteAddr: "203.0.113.7:5000", forwarded: []string{"198.51.100.1"}, want: "203.0.113.7"},
		{name: "trusted proxy", remoteAddr: "10.1.2.3:443", forwarded: []string{"198.51.100.1"}, want: "198.51.100.1"},
		{name: "client supplied hop is skipped", remoteAddr: "10.1.2.3:443", forwarded: []string{"1.2.3.4, 198.51.100.1"}, want: "198.51.100.1"},
		{name: "proxy chain", remoteAddr: "10.1.2.3:443", forwarded: []string{"198.51.100.1, 192.168.1.1", "10.9.9.9"}, want: "198.51.100.1"},
		{name: "only proxies", remoteAddr: "10.1.2.3:443", forwarded: []string{"10.2.2.2"}, want: "10.2.2.2"},
		{name: "trusted proxy without header", remoteAddr: "192.168.1.1:80", want: "192.168.1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for _, v := range tt.forwarded {
				r.Header.Add("X-Forwarded-For", v)
			}
			require.Equal(t, tt.want, s.clientIP(r))
		})
	}
}

func TestParseTrustedProxiesRejectsGarbage(t *testing.T) {
	_, err := parseTrustedProxies([]string{"not-an-ip"})
	require.Error(t, err)
	_, err = parseTrustedProxies([]string{"10.0.0.0/99"})
	require.Error(t, err)
}
