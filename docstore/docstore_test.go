package docstore

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	t.Run("PutGet", func(t *testing.T) {
		store := New()

		store.Put(7, Record{SourceID: "doc-1", Title: "Intro", Section: "1.1", Snippet: "hello"})

		record, err := store.Get(7)
		require.NoError(t, err)
		assert.Equal(t, "doc-1", record.SourceID)
		assert.Equal(t, "Intro", record.Title)
	})

	t.Run("GetMissing", func(t *testing.T) {
		store := New()

		_, err := store.Get(42)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PutReplaces", func(t *testing.T) {
		store := New()

		store.Put(1, Record{Title: "old"})
		store.Put(1, Record{Title: "new"})

		record, err := store.Get(1)
		require.NoError(t, err)
		assert.Equal(t, "new", record.Title)
		assert.Equal(t, 1, store.Count())
	})

	t.Run("Delete", func(t *testing.T) {
		store := New()

		store.Put(1, Record{Title: "a"})
		store.Delete(1)
		store.Delete(99) // no-op

		assert.False(t, store.Has(1))
		assert.Equal(t, 0, store.Count())
	})

	t.Run("IDsSorted", func(t *testing.T) {
		store := New()

		for _, id := range []uint64{5, 1, 9, 3} {
			store.Put(id, Record{})
		}

		assert.Equal(t, []uint64{1, 3, 5, 9}, store.IDs())
	})
}

func TestCSVRoundTrip(t *testing.T) {
	store := New()

	// Snippets with delimiters, quotes and newlines must survive verbatim.
	store.Put(0, Record{
		SourceID: "doc-1",
		Title:    `A "quoted" title`,
		Section:  "2.3",
		Snippet:  "first, second, third",
	})
	store.Put(1, Record{
		SourceID: "doc-2",
		Title:    "Multi\nline",
		Section:  "",
		Snippet:  "line one\nline two",
	})
	store.Put(2, Record{
		SourceID: "doc-3",
		Title:    "Plain",
		Section:  "intro",
		Snippet:  "nothing special",
	})

	var buf bytes.Buffer
	_, err := store.WriteTo(&buf)
	require.NoError(t, err)

	restored := New()
	_, err = restored.ReadFrom(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	require.Equal(t, store.Count(), restored.Count())

	for _, id := range store.IDs() {
		want, err := store.Get(id)
		require.NoError(t, err)
		got, err := restored.Get(id)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestWriteToDeterministic(t *testing.T) {
	store := New()
	for _, id := range []uint64{9, 2, 5} {
		store.Put(id, Record{SourceID: "doc", Snippet: "s"})
	}

	var first, second bytes.Buffer
	_, err := store.WriteTo(&first)
	require.NoError(t, err)
	_, err = store.WriteTo(&second)
	require.NoError(t, err)

	assert.Equal(t, first.String(), second.String())

	lines := strings.Split(strings.TrimSpace(first.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "id,source_id,title,section,snippet", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2,"))
	assert.True(t, strings.HasPrefix(lines[2], "5,"))
	assert.True(t, strings.HasPrefix(lines[3], "9,"))
}

func TestReadFromFailures(t *testing.T) {
	t.Run("InvalidHeader", func(t *testing.T) {
		store := New()

		_, err := store.ReadFrom(strings.NewReader("foo,bar\n1,2\n"))
		assert.ErrorIs(t, err, ErrInvalidHeader)
	})

	t.Run("BadID", func(t *testing.T) {
		store := New()

		_, err := store.ReadFrom(strings.NewReader(
			"id,source_id,title,section,snippet\nnope,doc,t,s,x\n"))
		assert.Error(t, err)
	})

	t.Run("DuplicateID", func(t *testing.T) {
		store := New()

		_, err := store.ReadFrom(strings.NewReader(
			"id,source_id,title,section,snippet\n1,a,t,s,x\n1,b,t,s,x\n"))
		assert.ErrorContains(t, err, "duplicate id")
	})

	t.Run("WrongFieldCount", func(t *testing.T) {
		store := New()

		_, err := store.ReadFrom(strings.NewReader(
			"id,source_id,title,section,snippet\n1,a,t\n"))
		assert.Error(t, err)
	})

	t.Run("FailureLeavesStoreUnchanged", func(t *testing.T) {
		store := New()
		store.Put(1, Record{Title: "keep"})

		_, err := store.ReadFrom(strings.NewReader(
			"id,source_id,title,section,snippet\n2,a,t,s,x\nnope,b,t,s,x\n"))
		require.Error(t, err)

		record, err := store.Get(1)
		require.NoError(t, err)
		assert.Equal(t, "keep", record.Title)
		assert.False(t, store.Has(2))
	})
}

func TestSaveLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.csv")

	store := New()
	store.Put(3, Record{SourceID: "doc-3", Title: "T", Section: "s", Snippet: "snip"})

	require.NoError(t, store.SaveToFile(path))

	restored := New()
	require.NoError(t, restored.LoadFromFile(path))
	assert.Equal(t, 1, restored.Count())

	t.Run("NoTempFilesLeft", func(t *testing.T) {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
	})

	t.Run("MissingFile", func(t *testing.T) {
		err := New().LoadFromFile(filepath.Join(dir, "missing.csv"))
		assert.Error(t, err)
	})
}
