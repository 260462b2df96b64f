package markup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	r := New()

	out, err := r.Render("**Gate** measured at 12 ft\n<script>alert(1)</script>")
	require.NoError(t, err)
	assert.Contains(t, out, "<strong>Gate</strong>")
	assert.NotContains(t, out, "<script>")

	out, err = r.Render("[site](https://example.com/plan)")
	require.NoError(t, err)
	assert.Contains(t, out, `href="https://example.com/plan"`)
	assert.Contains(t, out, `rel="nofollow`)

	out, err = r.Render(`<a href="javascript:alert(1)">x</a>`)
	require.NoError(t, err)
	assert.NotContains(t, out, "javascript:")
}

func TestSanitize(t *testing.T) {
	r := New()
	assert.Equal(t, "Fence repair", r.Sanitize("  <b>Fence</b> repair "))
	assert.Equal(t, "", r.Sanitize("<script>alert(1)</script>"))
	assert.Equal(t, "Smith & Sons", r.Sanitize("Smith & Sons"))
}
