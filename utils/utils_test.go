package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMust(t *testing.T) {
	assert.Equal(t, 42, Must(42, nil))
	assert.Panics(t, func() { Must(0, errors.New("boom")) })
}

func TestMustWithoutOutput(t *testing.T) {
	assert.NotPanics(t, func() { MustWithoutOutput(nil) })
	assert.Panics(t, func() { MustWithoutOutput(errors.New("boom")) })
}

func TestToPtr(t *testing.T) {
	p := ToPtr("value")
	require.NotNil(t, p)
	assert.Equal(t, "value", *p)
}
