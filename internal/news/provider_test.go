package news

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soitgoes887/tokenomics/internal/config"
)

func TestNewUnknownProvider(t *testing.T) {
	_, err := New("bloomberg", config.NewsConfig{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bloomberg")
}

func TestNewKnownProviders(t *testing.T) {
	for _, name := range []string{"alpaca", "finnhub"} {
		provider, err := New(name, config.NewsConfig{}, nil)
		require.NoError(t, err)
		assert.NotNil(t, provider)
	}
}

func TestSeenSetDedup(t *testing.T) {
	set := newSeenSet(100)

	assert.False(t, set.has("a"))
	set.add("a")
	assert.True(t, set.has("a"))

	set.add("a")
	assert.Len(t, set.list(), 1)
}

func TestSeenSetPrunesOldest(t *testing.T) {
	set := newSeenSet(3)
	for i := 0; i < 5; i++ {
		set.add(fmt.Sprintf("id-%d", i))
	}

	assert.False(t, set.has("id-0"))
	assert.False(t, set.has("id-1"))
	assert.True(t, set.has("id-2"))
	assert.True(t, set.has("id-4"))
	assert.Len(t, set.list(), 3)
}

func TestSeenSetReplace(t *testing.T) {
	set := newSeenSet(100)
	set.add("old")

	set.replace([]string{"a", "b"})

	assert.False(t, set.has("old"))
	assert.True(t, set.has("a"))
	assert.Equal(t, []string{"a", "b"}, set.list())
}

func TestIsTemporary(t *testing.T) {
	assert.True(t, isTemporary(&StatusError{Code: 429}))
	assert.True(t, isTemporary(&StatusError{Code: 503}))
	assert.False(t, isTemporary(&StatusError{Code: 401}))
	assert.False(t, isTemporary(&StatusError{Code: 404}))
	assert.False(t, isTemporary(errors.New("parse failure")))
}

func TestSplitRelated(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "MSFT"}, splitRelated("AAPL, MSFT"))
	assert.Empty(t, splitRelated(", ,"))
}
