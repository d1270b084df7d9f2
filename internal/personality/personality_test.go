package personality

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupModel(t *testing.T) *Model {
	t.Helper()

	m, err := New(filepath.Join(t.TempDir(), "personality.json"))
	require.NoError(t, err)
	return m
}

func TestDefaults(t *testing.T) {
	m := setupModel(t)

	assert.Equal(t, "neutral", m.Mood())
	assert.Contains(t, m.ContextPrompt(), "affection 50/100")
}

func TestAdjust(t *testing.T) {
	m := setupModel(t)

	energy := 0.9
	summary := m.Adjust(5.5, "happy", &energy)
	assert.Equal(t, "affection 55.5/100, mood happy, energy 0.9", summary)
	assert.Equal(t, "happy", m.Mood())

	// Clamped at both ends.
	m.Adjust(1000, "", nil)
	assert.Contains(t, m.ContextPrompt(), "affection 100/100")
	m.Adjust(-1000, "", nil)
	assert.Contains(t, m.ContextPrompt(), "affection 0/100")
}

func TestContextPromptToneBands(t *testing.T) {
	m := setupModel(t)

	m.Adjust(40, "", nil) // 90
	assert.Contains(t, m.ContextPrompt(), "very close")

	m.Adjust(-65, "", nil) // 25
	assert.Contains(t, m.ContextPrompt(), "distant")
}

func TestObserveMessageDrift(t *testing.T) {
	m := setupModel(t)

	for i := 0; i < 20; i++ {
		m.ObserveMessage("user", "hello there, how are you today?")
	}
	m.ObserveMessage("assistant", "I am fine") // no drift
	m.ObserveMessage("user", "   ")           // no drift

	prompt := m.ContextPrompt()
	assert.True(t, strings.Contains(prompt, "affection 51/100"),
		"expected 20 drift steps of 0.05 to land at 51, got %q", prompt)
}

func TestPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personality.json")

	m, err := New(path)
	require.NoError(t, err)
	m.Adjust(10, "content", nil)

	reloaded, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, "content", reloaded.Mood())
	assert.Contains(t, reloaded.ContextPrompt(), "affection 60/100")
}
