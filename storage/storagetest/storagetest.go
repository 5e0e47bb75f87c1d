// Package storagetest checks that a storage.Blob behaves the way collections
// rely on.
package storagetest

import (
	"context"
	"testing"

	"github.com/cyp0633/localcal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a fresh, empty backend returned by newBlob.
func Run(t *testing.T, newBlob func(t *testing.T) storage.Blob) {
	t.Run("LoadMissing", func(t *testing.T) {
		b := newBlob(t)
		_, _, err := b.Load(context.Background(), "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = b.Stat(context.Background(), "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, b.Delete(context.Background(), "missing"), storage.ErrNotFound)
	})

	t.Run("SaveLoad", func(t *testing.T) {
		ctx := context.Background()
		b := newBlob(t)
		data := []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n")

		info, err := b.Save(ctx, "calendar", data)
		require.NoError(t, err)
		assert.Equal(t, "calendar", info.Name)
		assert.Equal(t, storage.ETag(data), info.ETag)
		assert.Equal(t, int64(len(data)), info.Size)

		got, loaded, err := b.Load(ctx, "calendar")
		require.NoError(t, err)
		assert.Equal(t, data, got)
		assert.Equal(t, info.ETag, loaded.ETag)

		stat, err := b.Stat(ctx, "calendar")
		require.NoError(t, err)
		assert.Equal(t, info.ETag, stat.ETag)
		assert.Equal(t, info.Size, stat.Size)
	})

	t.Run("Replace", func(t *testing.T) {
		ctx := context.Background()
		b := newBlob(t)
		first, err := b.Save(ctx, "calendar", []byte("one"))
		require.NoError(t, err)
		second, err := b.Save(ctx, "calendar", []byte("two"))
		require.NoError(t, err)
		assert.NotEqual(t, first.ETag, second.ETag)

		got, _, err := b.Load(ctx, "calendar")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), got)
	})

	t.Run("LoadReturnsCopy", func(t *testing.T) {
		ctx := context.Background()
		b := newBlob(t)
		data := []byte("content")
		_, err := b.Save(ctx, "calendar", data)
		require.NoError(t, err)
		data[0] = 'X'

		got, _, err := b.Load(ctx, "calendar")
		require.NoError(t, err)
		assert.Equal(t, []byte("content"), got)
	})

	t.Run("EmptyDocument", func(t *testing.T) {
		ctx := context.Background()
		b := newBlob(t)
		_, err := b.Save(ctx, "empty", nil)
		require.NoError(t, err)
		got, info, err := b.Load(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Equal(t, int64(0), info.Size)
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		ctx := context.Background()
		b := newBlob(t)
		for _, name := range []string{"todo.chores", "calendar", "todo.shopping"} {
			_, err := b.Save(ctx, name, []byte(name))
			require.NoError(t, err)
		}

		infos, err := b.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"calendar", "todo.chores", "todo.shopping"}, names(infos))

		require.NoError(t, b.Delete(ctx, "todo.chores"))
		infos, err = b.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"calendar", "todo.shopping"}, names(infos))
		_, _, err = b.Load(ctx, "todo.chores")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("InvalidName", func(t *testing.T) {
		ctx := context.Background()
		b := newBlob(t)
		_, err := b.Save(ctx, "../escape", []byte("x"))
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
		_, _, err = b.Load(ctx, "")
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		b := newBlob(t)
		_, err := b.Save(ctx, "calendar", []byte("x"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func names(infos []storage.Info) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}
