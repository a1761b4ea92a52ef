package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnowledgeBaseBuiltins(t *testing.T) {
	kb, err := NewKnowledgeBase("")
	require.NoError(t, err)

	for _, name := range []string{
		"NullPointerException",
		"IllegalStateException",
		"IllegalArgumentException",
		"RuntimeException",
		"NoSuchElementException",
	} {
		entry, ok := kb.Lookup(name)
		assert.True(t, ok, name)
		assert.NotEmpty(t, entry.Fixes, name)
	}
}

func TestKnowledgeBaseOverlayExtendsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knowledge.yaml")
	overlay := []byte(`
TimeoutException:
  commonCauses:
    - downstream latency regression
  fixes:
    - description: Raise the client timeout
      rationale: the downstream SLO changed
NullPointerException:
  fixes:
    - description: Custom org-specific guidance
      rationale: overridden by overlay
`)
	require.NoError(t, os.WriteFile(path, overlay, 0o600))

	kb, err := NewKnowledgeBase(path)
	require.NoError(t, err)

	entry, ok := kb.Lookup("TimeoutException")
	require.True(t, ok)
	assert.Equal(t, "Raise the client timeout", entry.Fixes[0].Description)

	fixes := kb.Suggest("NullPointerException")
	require.Len(t, fixes, 1)
	assert.Equal(t, "Custom org-specific guidance", fixes[0].Description)
}

func TestKnowledgeBaseMissingOverlay(t *testing.T) {
	_, err := NewKnowledgeBase(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
