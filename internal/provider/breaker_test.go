package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	breaker := newBreaker("test")
	boom := NewError(CategoryServer, "backend down", nil)

	for i := 0; i < 5; i++ {
		_, err := breaker.Execute(func() (interface{}, error) { return nil, boom })
		require.ErrorIs(t, breakerError(err), boom)
	}

	// Sixth call is rejected by the open breaker, not the backend.
	_, err := breaker.Execute(func() (interface{}, error) {
		t.Fatal("call must not reach the backend while the breaker is open")
		return nil, nil
	})
	mapped := breakerError(err)
	assert.Equal(t, CategoryServer, CategoryOf(mapped))
	assert.Contains(t, mapped.Error(), "circuit breaker open")
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	breaker := newBreaker("test")
	boom := NewError(CategoryNetwork, "timeout", nil)

	for i := 0; i < 4; i++ {
		_, _ = breaker.Execute(func() (interface{}, error) { return nil, boom })
	}
	_, err := breaker.Execute(func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)

	// The earlier failures no longer count toward tripping.
	_, err = breaker.Execute(func() (interface{}, error) { return nil, boom })
	assert.ErrorIs(t, breakerError(err), boom)
	_, err = breaker.Execute(func() (interface{}, error) { return "ok", nil })
	assert.NoError(t, err)
}
