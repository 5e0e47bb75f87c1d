package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cyp0633/localcal/storage"
	"github.com/cyp0633/localcal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlob(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Blob { return New() })
}

func TestBlob_Modified(t *testing.T) {
	b := New()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return at }

	info, err := b.Save(context.Background(), "calendar", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, at, info.Modified)
}

func TestBlob_Concurrent(t *testing.T) {
	b := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := b.Save(ctx, "calendar", []byte{byte(i), byte(j)})
				assert.NoError(t, err)
				_, _, err = b.Load(ctx, "calendar")
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	infos, err := b.List(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}
