package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*ModalityStore, string) {
	t.Helper()
	dir := t.TempDir()
	return NewModalityStore(ModalityText,
		filepath.Join(dir, "text.index"),
		filepath.Join(dir, "metadata_text.jsonl"),
		testDim), dir
}

func textEntry(id, docID string, hot int) Entry {
	return Entry{
		Vector: unitVector(hot),
		Record: Record{ID: id, DocumentID: docID, Modality: ModalityText, Source: "a.pdf", Text: id},
	}
}

func TestModalityStore_AppendAndSearch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	assert.False(t, store.Exists())
	hits, err := store.Search(ctx, unitVector(1), 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, store.Append(ctx, []Entry{
		textEntry("r1", "doc-a", 1),
		textEntry("r2", "doc-a", 2),
	}))
	assert.True(t, store.Exists())

	hits, err = store.Search(ctx, unitVector(2), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "r2", hits[0].Record.ID)
	assert.Equal(t, 1, hits[0].Position)

	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestModalityStore_RejectsWrongDimension(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()

	bad := textEntry("r1", "doc-a", 1)
	bad.Vector = bad.Vector[:10]
	err := store.Append(ctx, []Entry{textEntry("r0", "doc-a", 0), bad})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	// 整批拒绝，磁盘上不留任何痕迹
	assert.False(t, store.Exists())
	_, statErr := os.Stat(filepath.Join(dir, "metadata_text.jsonl"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestModalityStore_RejectsWrongModality(t *testing.T) {
	store, _ := newTestStore(t)
	e := textEntry("r1", "doc-a", 1)
	e.Record.Modality = ModalityImage
	assert.Error(t, store.Append(context.Background(), []Entry{e}))
}

func TestModalityStore_ReloadRepairsUncommittedTail(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, []Entry{textEntry("r1", "doc-a", 1)}))

	// 模拟日志已写入但索引未提交
	log := NewMetadataLog(filepath.Join(dir, "metadata_text.jsonl"))
	require.NoError(t, log.Append([]Record{{ID: "orphan", Modality: ModalityText}}))

	reopened := NewModalityStore(ModalityText, filepath.Join(dir, "text.index"), filepath.Join(dir, "metadata_text.jsonl"), testDim)
	records, err := reopened.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r1", records[0].ID)

	onDisk, err := log.LoadAll()
	require.NoError(t, err)
	assert.Len(t, onDisk, 1)
}

func TestModalityStore_MisalignedIndexIsFatal(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, []Entry{textEntry("r1", "doc-a", 1), textEntry("r2", "doc-a", 2)}))

	require.NoError(t, NewMetadataLog(filepath.Join(dir, "metadata_text.jsonl")).TruncateRecords(1))

	reopened := NewModalityStore(ModalityText, filepath.Join(dir, "text.index"), filepath.Join(dir, "metadata_text.jsonl"), testDim)
	_, err := reopened.Len()
	assert.ErrorIs(t, err, ErrIndexMisaligned)
}

func TestModalityStore_Reset(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, []Entry{textEntry("r1", "doc-a", 1)}))

	require.NoError(t, store.Reset())
	assert.False(t, store.Exists())
	n, err := store.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestModalityStore_EmptyAppend(t *testing.T) {
	store, _ := newTestStore(t)
	assert.ErrorIs(t, store.Append(context.Background(), nil), ErrEmptyAppend)
}

func TestModalityStore_InvalidateSeesOtherWriters(t *testing.T) {
	store, dir := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, []Entry{textEntry("r1", "doc-a", 1)}))

	other := NewModalityStore(ModalityText, filepath.Join(dir, "text.index"), filepath.Join(dir, "metadata_text.jsonl"), testDim)
	require.NoError(t, other.Append(ctx, []Entry{textEntry("r2", "doc-b", 2)}))

	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	store.Invalidate()
	n, err = store.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestModalityStore_SearchWhileInvalidating(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, []Entry{
		textEntry("r1", "doc-a", 1),
		textEntry("r2", "doc-a", 2),
	}))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				store.Invalidate()
			}
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	for i := 0; i < 500; i++ {
		hits, err := store.Search(ctx, unitVector(2), 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "r2", hits[0].Record.ID)

		n, err := store.Len()
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		records, err := store.Records()
		require.NoError(t, err)
		assert.Len(t, records, 2)
	}
}
