package myjwt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignerRoundTrip(t *testing.T) {
	s, err := NewSigner("secret", "TradeRAG", 1)
	require.NoError(t, err)

	tok, err := s.GenerateToken("ops")
	require.NoError(t, err)

	claims, err := s.ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Operator)
	assert.Equal(t, "TradeRAG", claims.Issuer)
}

func TestSignerRejectsForeignToken(t *testing.T) {
	a, err := NewSigner("secret-a", "TradeRAG", 1)
	require.NoError(t, err)
	b, err := NewSigner("secret-b", "TradeRAG", 1)
	require.NoError(t, err)

	tok, err := a.GenerateToken("ops")
	require.NoError(t, err)
	_, err = b.ParseToken(tok)
	assert.Error(t, err)

	other, err := NewSigner("secret-a", "other", 1)
	require.NoError(t, err)
	_, err = other.ParseToken(tok)
	assert.Error(t, err)
}

func TestNewSignerEmptyKey(t *testing.T) {
	_, err := NewSigner("  ", "x", 1)
	assert.ErrorIs(t, err, ErrKeyEmpty)
}
