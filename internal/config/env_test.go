package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvManagerTypes(t *testing.T) {
	t.Setenv("ALPHAWORKER_SOME_STRING", "hello")
	t.Setenv("ALPHAWORKER_SOME_INT", "42")
	t.Setenv("ALPHAWORKER_SOME_BOOL", "true")
	t.Setenv("ALPHAWORKER_SOME_DURATION", "90s")

	em := NewEnvManager("test-key", "")
	assert.Equal(t, "hello", em.GetString("SOME_STRING", "fallback"))
	assert.Equal(t, 42, em.GetInt("SOME_INT", 0))
	assert.True(t, em.GetBool("SOME_BOOL", false))
	assert.Equal(t, 90*time.Second, em.GetDuration("SOME_DURATION", 0))

	assert.Equal(t, "fallback", em.GetString("MISSING", "fallback"))
	assert.Equal(t, 7, em.GetInt("MISSING", 7))
}

func TestEnvManagerMalformedValues(t *testing.T) {
	t.Setenv("ALPHAWORKER_BAD_INT", "not-a-number")
	t.Setenv("ALPHAWORKER_BAD_DURATION", "soon")

	em := NewEnvManager("test-key", "")
	assert.Equal(t, 9, em.GetInt("BAD_INT", 9))
	assert.Equal(t, time.Minute, em.GetDuration("BAD_DURATION", time.Minute))
}

func TestEncryptedStringRoundTrip(t *testing.T) {
	em := NewEnvManager("test-key", "ALPHAWORKER_TEST_")

	require.NoError(t, em.SetEncryptedString("PASSWORD", "hunter2"))
	t.Cleanup(func() { _ = em.SetString("PASSWORD", "") })

	stored := em.GetString("PASSWORD", "")
	assert.NotEqual(t, "hunter2", stored)
	assert.Contains(t, stored, "ENC:")

	assert.Equal(t, "hunter2", em.GetEncryptedString("PASSWORD", ""))
}

func TestEncryptedStringPlainPassthrough(t *testing.T) {
	t.Setenv("ALPHAWORKER_PLAIN_SECRET", "not-encrypted")

	em := NewEnvManager("test-key", "")
	assert.Equal(t, "not-encrypted", em.GetEncryptedString("PLAIN_SECRET", ""))
}
