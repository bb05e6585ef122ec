package embedding

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder counts calls and returns a fixed vector per text.
type fakeEmbedder struct {
	calls atomic.Int64
	vecs  map[string][]float32
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vecs[text]; ok {
		return v, nil
	}
	return []float32{1, 2, 3}, nil
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase", "Context Pipeline!", "context pipeline!"},
		{"collapse whitespace", "a   b\t\nc", "a b c"},
		{"trim", "  hello  ", "hello"},
		{"combined", "  Fix   THE  Bug ", "fix the bug"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeKey(tt.input, DefaultKeyMaxLen))
		})
	}
}

func TestNormalizeKeyTruncates(t *testing.T) {
	long := ""
	for range 50 {
		long += "abcde "
	}
	key := NormalizeKey(long, 20)
	assert.LessOrEqual(t, len([]rune(key)), 20)
}

func TestNormalizeKeyIdempotent(t *testing.T) {
	inputs := []string{"Hello   World", "  FIX it  ", "already normal", ""}
	for _, in := range inputs {
		once := NormalizeKey(in, DefaultKeyMaxLen)
		assert.Equal(t, once, NormalizeKey(once, DefaultKeyMaxLen))
	}
}

func TestGetOrComputeCachesByNormalizedKey(t *testing.T) {
	emb := &fakeEmbedder{}
	c := NewCache(emb, Config{})

	v1, err := c.GetOrCompute(context.Background(), "Context pipeline!")
	require.NoError(t, err)

	// Different raw text, same normalized key after lowercasing.
	v2, err := c.GetOrCompute(context.Background(), "context   pipeline!")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(1), emb.calls.Load())

	hits, misses, size := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1, size)
}

func TestTTLExpiry(t *testing.T) {
	emb := &fakeEmbedder{}
	c := NewCache(emb, Config{TTL: 30 * time.Millisecond})

	_, err := c.GetOrCompute(context.Background(), "hello")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = c.GetOrCompute(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(2), emb.calls.Load(), "expired entry must be recomputed")
}

func TestEvictionKeepsBound(t *testing.T) {
	emb := &fakeEmbedder{}
	c := NewCache(emb, Config{MaxEntries: 3})

	for _, text := range []string{"a", "b", "c", "d", "e"} {
		_, err := c.GetOrCompute(context.Background(), text)
		require.NoError(t, err)
	}

	_, _, size := c.Stats()
	assert.LessOrEqual(t, size, 3)
}

func TestEvictionDropsOldest(t *testing.T) {
	emb := &fakeEmbedder{}
	c := NewCache(emb, Config{MaxEntries: 2})

	_, err := c.GetOrCompute(context.Background(), "first")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = c.GetOrCompute(context.Background(), "second")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = c.GetOrCompute(context.Background(), "third")
	require.NoError(t, err)

	// "first" was oldest and must have been evicted; re-fetching it computes.
	before := emb.calls.Load()
	_, err = c.GetOrCompute(context.Background(), "first")
	require.NoError(t, err)
	assert.Equal(t, before+1, emb.calls.Load())

	// "third" is fresh; re-fetching hits.
	before = emb.calls.Load()
	_, err = c.GetOrCompute(context.Background(), "third")
	require.NoError(t, err)
	assert.Equal(t, before, emb.calls.Load())
}

func TestEmbedderErrorNotCached(t *testing.T) {
	emb := &fakeEmbedder{err: assert.AnError}
	c := NewCache(emb, Config{})

	_, err := c.GetOrCompute(context.Background(), "hello")
	require.Error(t, err)

	_, _, size := c.Stats()
	assert.Zero(t, size)
}

func TestInvalidate(t *testing.T) {
	emb := &fakeEmbedder{}
	c := NewCache(emb, Config{})

	_, err := c.GetOrCompute(context.Background(), "hello")
	require.NoError(t, err)

	c.Invalidate()
	_, _, size := c.Stats()
	assert.Zero(t, size)

	_, err = c.GetOrCompute(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(2), emb.calls.Load())
}

func TestConcurrentSameKeyTolerated(t *testing.T) {
	emb := &fakeEmbedder{}
	c := NewCache(emb, Config{})

	done := make(chan struct{})
	for range 8 {
		go func() {
			defer func() { done <- struct{}{} }()
			_, _ = c.GetOrCompute(context.Background(), "same key")
		}()
	}
	for range 8 {
		<-done
	}

	// Duplicate computes are permitted, but the cache converges to one entry.
	_, _, size := c.Stats()
	assert.Equal(t, 1, size)
}
