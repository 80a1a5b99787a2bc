package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUnique(t *testing.T) {
	gen := NewGenerator()
	assert.NotEqual(t, gen.Generate(), gen.Generate())
	assert.Len(t, gen.GenerateString(), 26)
}

func TestPrefixedIDs(t *testing.T) {
	tests := []struct {
		id     string
		prefix string
	}{
		{NewInstanceID().String(), InstancePrefix},
		{NewBootID().String(), BootPrefix},
		{NewRequestID().String(), RequestPrefix},
	}
	for _, tt := range tests {
		assert.True(t, strings.HasPrefix(tt.id, tt.prefix+"_"), tt.id)
		assert.True(t, IsValid(tt.id), tt.id)
	}
	assert.False(t, IsValid("mod_not-a-ulid"))
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, err := Timestamp(NewInstanceID().String())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = Timestamp("bogus")
	assert.Error(t, err)
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()
	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s := gen.GenerateString()
				mu.Lock()
				seen[s] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
}
