package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCSSortsKeys(t *testing.T) {
	out, err := JCS(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, string(out))
}

func TestJCSNoHTMLEscaping(t *testing.T) {
	out, err := JCS(map[string]string{"url": "https://x?a=1&b=<2>"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "&b=<2>")
}

func TestJCSRespectsStructTags(t *testing.T) {
	type rec struct {
		Zeta  string `json:"zeta"`
		Alpha string `json:"alpha"`
		Skip  string `json:"-"`
	}
	out, err := JCS(rec{Zeta: "z", Alpha: "a", Skip: "hidden"})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"a","zeta":"z"}`, string(out))
}

func TestCanonicalHashDeterministic(t *testing.T) {
	v := map[string]any{"amount": 100, "merchant": "acme"}
	h1, err := CanonicalHash(v)
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]any{"merchant": "acme", "amount": 100})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Contains(t, h1, "sha256:")
}
