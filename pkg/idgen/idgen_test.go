package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorUnique(t *testing.T) {
	g, err := New(1)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := g.Next()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 4000)

	assert.True(t, strings.HasPrefix(g.NextWithPrefix("slot"), "slot-"))
}

func TestInvalidNode(t *testing.T) {
	_, err := New(4096)
	assert.Error(t, err)
}
