package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionalStringVariable(t *testing.T) {
	assert.Equal(t, "fallback", OptionalStringVariable("KUDOS_TEST_STRING", "fallback"))

	t.Setenv("KUDOS_TEST_STRING", "set")
	assert.Equal(t, "set", OptionalStringVariable("KUDOS_TEST_STRING", "fallback"))

	// An empty value still overrides the default.
	t.Setenv("KUDOS_TEST_STRING", "")
	assert.Equal(t, "", OptionalStringVariable("KUDOS_TEST_STRING", "fallback"))
}

func TestOptionalIntVariable(t *testing.T) {
	assert.Equal(t, 42, OptionalIntVariable("KUDOS_TEST_INT", 42))

	t.Setenv("KUDOS_TEST_INT", "7")
	assert.Equal(t, 7, OptionalIntVariable("KUDOS_TEST_INT", 42))
}

func TestOptionalIntVariableRejectsGarbage(t *testing.T) {
	t.Setenv("KUDOS_TEST_INT", "not-a-number")

	original := logFatalf
	var gotFormat string
	logFatalf = func(format string, v ...any) { gotFormat = format }
	defer func() { logFatalf = original }()

	OptionalIntVariable("KUDOS_TEST_INT", 42)
	assert.Contains(t, gotFormat, "not a valid int")
}

func TestOptionalBoolVariable(t *testing.T) {
	assert.True(t, OptionalBoolVariable("KUDOS_TEST_BOOL", true))

	t.Setenv("KUDOS_TEST_BOOL", "false")
	assert.False(t, OptionalBoolVariable("KUDOS_TEST_BOOL", true))

	t.Setenv("KUDOS_TEST_BOOL", "1")
	assert.True(t, OptionalBoolVariable("KUDOS_TEST_BOOL", false))
}

func TestHasEnv(t *testing.T) {
	assert.False(t, HasEnv("KUDOS_TEST_PRESENT"))
	t.Setenv("KUDOS_TEST_PRESENT", "")
	assert.True(t, HasEnv("KUDOS_TEST_PRESENT"))
}
