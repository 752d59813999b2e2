package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStoreRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	ref, err := store.Put(ctx, "reports/2024/abc.pdf", []byte("report-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "reports/2024/abc.pdf", ref)

	data, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("report-bytes"), data)
}

func TestFSStoreMissingObject(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "reports/nope.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStoreRejectsTraversal(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../escape", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = store.Get(context.Background(), "/etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
