package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimateFallback(t *testing.T) {
	var counter *TokenCounter
	require.Equal(t, 0, counter.Count(""))
	require.Equal(t, 2, counter.Count("下雨了"))
	require.Equal(t, 3, counter.Count("hello"))
}

func TestCompletionSums(t *testing.T) {
	var counter *TokenCounter
	usage := counter.Completion([]string{"ab", "abcd"})
	require.Equal(t, 3, usage.CompletionTokens)
	require.Equal(t, 3, usage.TotalTokens)
	require.False(t, usage.IsZero())
	require.True(t, TokenUsage{}.IsZero())
}

func TestCounterLoadsEncodingOffline(t *testing.T) {
	counter := NewTokenCounter("")
	require.True(t, counter.Warm())
	require.Equal(t, 2, counter.Count("hello world"))
}

func TestUnknownEncodingFallsBackToEstimate(t *testing.T) {
	counter := NewTokenCounter("no_such_encoding")
	require.False(t, counter.Warm())
	require.Equal(t, 3, counter.Count("hello"))
}
