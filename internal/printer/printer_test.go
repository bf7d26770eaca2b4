package printer

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestPrinter(t *testing.T) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var out, errOut bytes.Buffer
	return New(&out, &errOut), &out, &errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		p, _, errOut := setupTestPrinter(t)
		err := p.Error("Gateway unreachable", "Could not reach http://localhost:8700", nil)
		require.Error(t, err)
		require.Equal(t, "Gateway unreachable", err.Error())
		assert.Equal(t, "Gateway unreachable\n\nCould not reach http://localhost:8700\n", errOut.String())
	})

	t.Run("single suggestion is printed plainly", func(t *testing.T) {
		p, _, errOut := setupTestPrinter(t)
		_ = p.Error("Bad flag", "Explanation", []string{"Try --kind semantic"})
		assert.Contains(t, errOut.String(), "\nTry --kind semantic\n")
		assert.NotContains(t, errOut.String(), "Either:")
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		p, _, errOut := setupTestPrinter(t)
		_ = p.Error("Bad flag", "Explanation", []string{"First option", "Second option"})
		assert.Contains(t, errOut.String(), "Either:\n  1. First option\n  2. Second option\n")
	})
}

func TestErrorWithContext(t *testing.T) {
	p, out, errOut := setupTestPrinter(t)

	err := p.ErrorWithContext("Store failed", "", map[string]string{
		"Topic":   "deploy",
		"Gateway": "http://localhost:8700",
	}, nil)

	require.Equal(t, "Store failed", err.Error())
	assert.Equal(t, "Store failed\n\n\n  Gateway: http://localhost:8700\n  Topic: deploy\n", errOut.String())
	assert.Empty(t, out.String())
}

func TestMessages(t *testing.T) {
	p, out, errOut := setupTestPrinter(t)

	p.Success("stored %s\n", "abc")
	p.Success("✓ already prefixed\n")
	p.Step("ingesting %d files\n", 3)
	p.Info("plain\n")
	p.Warning("buffered for retry\n")

	assert.Equal(t, "✓ stored abc\n✓ already prefixed\n→ ingesting 3 files\nplain\n", out.String())
	assert.Equal(t, "⚠️  buffered for retry\n", errOut.String())
}
