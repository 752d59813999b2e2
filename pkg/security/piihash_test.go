package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchKeyDeterministic(t *testing.T) {
	h, err := NewPIIHasher("test-key")
	require.NoError(t, err)

	dob := time.Date(1974, 3, 12, 0, 0, 0, 0, time.UTC)
	a := h.MatchKey("Mustermann", "Erika", dob)
	b := h.MatchKey("Mustermann", "Erika", dob)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestMatchKeyNormalizesWhitespaceAndCase(t *testing.T) {
	h, err := NewPIIHasher("test-key")
	require.NoError(t, err)

	dob := time.Date(1974, 3, 12, 0, 0, 0, 0, time.UTC)
	assert.Equal(t,
		h.MatchKey("Mustermann", "Erika", dob),
		h.MatchKey("  MUSTERMANN ", "erika", dob),
	)
}

func TestMatchKeyDependsOnKeyAndFields(t *testing.T) {
	h1, err := NewPIIHasher("key-one")
	require.NoError(t, err)
	h2, err := NewPIIHasher("key-two")
	require.NoError(t, err)

	dob := time.Date(1974, 3, 12, 0, 0, 0, 0, time.UTC)
	assert.NotEqual(t, h1.MatchKey("Mustermann", "Erika", dob), h2.MatchKey("Mustermann", "Erika", dob))
	assert.NotEqual(t, h1.MatchKey("Mustermann", "Erika", dob), h1.MatchKey("Mustermann", "Erik", dob))
	assert.NotEqual(t,
		h1.MatchKey("Mustermann", "Erika", dob),
		h1.MatchKey("Mustermann", "Erika", dob.AddDate(0, 0, 1)),
	)
}

func TestEmptyKeyRejected(t *testing.T) {
	_, err := NewPIIHasher("")
	assert.ErrorIs(t, err, ErrKeyRequired)
}
