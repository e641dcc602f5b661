package search

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), IndexDirName))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func doc(id, topic, content string) MessageDoc {
	return MessageDoc{
		MessageID: id,
		TopicID:   topic,
		ChannelID: "c1",
		Sender:    "alice",
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

func TestIndexQueryAndDelete(t *testing.T) {
	idx := openTestIndex(t)

	require.NoError(t, idx.Upsert(doc("m1", "t1", "the quick brown fox")))
	require.NoError(t, idx.Upsert(doc("m2", "t1", "a lazy dog sleeps")))
	require.NoError(t, idx.Upsert(doc("m3", "t2", "quick thinking wins")))

	hits, err := idx.Query("quick", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// Topic filter narrows the result.
	hits, err = idx.Query("quick", "t1", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "m1", hits[0].MessageID)

	// Delete removes the doc.
	require.NoError(t, idx.Delete("m1"))
	hits, err = idx.Query("quick", "t1", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestUpsertReplacesContent(t *testing.T) {
	idx := openTestIndex(t)

	require.NoError(t, idx.Upsert(doc("m1", "t1", "original words")))
	require.NoError(t, idx.Upsert(doc("m1", "t1", "replacement phrasing")))

	hits, err := idx.Query("original", "", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.Query("replacement", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}
