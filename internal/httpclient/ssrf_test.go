package httpclient

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPrivateAddr(t *testing.T) {
	tests := []struct {
		name     string
		ip       string
		expected bool
	}{
		{"IPv4 loopback", "127.0.0.1", true},
		{"IPv6 loopback", "::1", true},
		{"Private 10.x.x.x", "10.0.0.1", true},
		{"Private 172.16.x.x", "172.16.0.1", true},
		{"Private 172.31.x.x edge", "172.31.255.255", true},
		{"Private 192.168.x.x", "192.168.1.1", true},
		{"Link-local IPv4", "169.254.1.1", true},
		{"Link-local IPv6", "fe80::1", true},
		{"IPv6 unique local", "fd00::1", true},
		{"Carrier-grade NAT", "100.64.0.1", true},
		{"Unspecified", "0.0.0.0", true},
		{"IPv4-mapped loopback", "::ffff:127.0.0.1", true},
		{"Public 1.1.1.1", "1.1.1.1", false},
		{"Public 172.15.0.1", "172.15.0.1", false},
		{"Public 172.32.0.1", "172.32.0.1", false},
		{"Public IPv6", "2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := netip.MustParseAddr(tt.ip)
			assert.Equal(t, tt.expected, IsPrivateAddr(addr))
		})
	}
}

func TestIsPrivateAddr_Invalid(t *testing.T) {
	assert.False(t, IsPrivateAddr(netip.Addr{}))
}

func TestNewSafeClient_BlocksLoopback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewSafeClient(5*time.Second, false)
	_, err := client.Get(server.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPrivateAddress), "expected ErrPrivateAddress, got %v", err)
}

func TestNewSafeClient_AllowPrivate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewSafeClient(5*time.Second, true)
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 5*time.Second, client.Timeout)
}
