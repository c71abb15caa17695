package xid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReturnsUUID(t *testing.T) {
	id := New()
	assert.Len(t, id, 36)
	assert.NotEqual(t, id, New())
}

func TestTransactionHashIsNamespacedByProduct(t *testing.T) {
	hash := TransactionHash("p-42")

	require.True(t, strings.HasSuffix(hash, "-p-42"))
	assert.Regexp(t, `^[0-9a-f]{32}-p-42$`, hash)
}

func TestTransactionHashIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		hash := TransactionHash("p1")
		_, dup := seen[hash]
		require.False(t, dup, "duplicate hash %s", hash)
		seen[hash] = struct{}{}
	}
}
