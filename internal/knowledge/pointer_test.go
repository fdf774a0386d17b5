package knowledge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePointer(t *testing.T) {
	ctx := context.Background()
	pointer := NewFilePointer(filepath.Join(t.TempDir(), "state", "latest_doc_id.txt"))

	id, err := pointer.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, pointer.Set(ctx, "doc-a"))
	require.NoError(t, pointer.Set(ctx, "doc-b"))
	id, err = pointer.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "doc-b", id)

	require.NoError(t, pointer.Clear(ctx))
	require.NoError(t, pointer.Clear(ctx))
	id, err = pointer.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)
}
