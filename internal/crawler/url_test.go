package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "HTTPS://Example.COM:443/path#frag", want: "https://example.com/path"},
		{in: "http://example.com:80/?b=2&a=1", want: "http://example.com/?a=1&b=2"},
		{in: "  https://discord.gg/abc  ", want: "https://discord.gg/abc"},
		{in: "https://example.com:8443/x", want: "https://example.com:8443/x"},
	}
	for _, tc := range tests {
		got, err := NormalizeURL(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := NormalizeURL("/relative/path")
	assert.Error(t, err)
	_, err = NormalizeURL("://bad")
	assert.Error(t, err)
}
