package audit

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "activity.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppendAndReadBack(t *testing.T) {
	l := openTemp(t)

	require.NoError(t, l.Append(Entry{Kind: "SHELL", Content: "ls", Result: "ok"}))
	require.NoError(t, l.Append(Entry{Kind: "FUNCTION", Content: "get_time", Result: "noon"}))

	entries, err := l.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "SHELL", entries[0].Kind)
	assert.Equal(t, "get_time", entries[1].Content)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestAppendTruncates(t *testing.T) {
	l := openTemp(t)

	long := strings.Repeat("я", PreviewLimit*2)
	require.NoError(t, l.Append(Entry{Kind: "CODE", Content: long, Result: long}))

	entries, err := l.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.LessOrEqual(t, utf8.RuneCountInString(entries[0].Content), PreviewLimit)
	assert.LessOrEqual(t, utf8.RuneCountInString(entries[0].Result), PreviewLimit)
}

func TestConcurrentAppendsDoNotInterleave(t *testing.T) {
	l := openTemp(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Append(Entry{Kind: "SHELL", Content: "c", Result: "r"}))
		}()
	}
	wg.Wait()

	entries, err := l.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 20) // every line decodes, so no torn writes
}

func TestAppendAfterClose(t *testing.T) {
	l := openTemp(t)
	require.NoError(t, l.Close())
	assert.Error(t, l.Append(Entry{Kind: "SHELL"}))
}

func TestClip(t *testing.T) {
	assert.Equal(t, "abc", Clip("abc", 5))
	assert.Equal(t, "", Clip("abc", 0))
	clipped := Clip("abcdef", 3)
	assert.Equal(t, 3, utf8.RuneCountInString(clipped))
	assert.True(t, strings.HasPrefix(clipped, "ab"))
}
