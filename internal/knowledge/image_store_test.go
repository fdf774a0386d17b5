package knowledge

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalImageStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "images")
	store, err := NewLocalImageStore(dir)
	require.NoError(t, err)

	path, err := store.Save(ctx, "abc.png", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, "/images/abc.png", path)

	rc, err := store.Open(ctx, "abc.png")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	require.NoError(t, store.Clear(ctx))
	_, err = store.Open(ctx, "abc.png")
	assert.True(t, os.IsNotExist(err))
}

func TestLocalImageStore_Remove(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalImageStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save(ctx, "abc.png", []byte("data"))
	require.NoError(t, err)
	require.NoError(t, store.Remove(ctx, "abc.png"))
	_, err = store.Open(ctx, "abc.png")
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, store.Remove(ctx, "abc.png"))
	assert.ErrorIs(t, store.Remove(ctx, "../abc.png"), ErrInvalidImageName)
}

func TestLocalImageStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocalImageStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "../secret.png", "a/b.png", ".hidden"} {
		_, err := store.Save(context.Background(), name, []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidImageName, name)
		_, err = store.Open(context.Background(), name)
		assert.ErrorIs(t, err, ErrInvalidImageName, name)
	}
}

func TestIngestionReport_NilSafe(t *testing.T) {
	var report *IngestionReport
	report.Skip(1, 0, "x")
	report.addText(2)
	assert.False(t, report.Indexed())

	report = NewIngestionReport("doc", "a.pdf")
	report.addImages(1)
	assert.True(t, report.Indexed())
}
