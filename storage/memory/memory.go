// memory based implementation for tests and embedding
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cyp0633/localcal/storage"
)

type document struct {
	data []byte
	info storage.Info
}

// Blob implements storage.Blob using an in-memory map
type Blob struct {
	mu   sync.RWMutex
	docs map[string]document
	now  func() time.Time
}

// New creates a new in-memory storage
func New() *Blob {
	return &Blob{
		docs: make(map[string]document),
		now:  time.Now,
	}
}

func (b *Blob) Load(ctx context.Context, name string) ([]byte, storage.Info, error) {
	if err := check(ctx, name); err != nil {
		return nil, storage.Info{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	doc, ok := b.docs[name]
	if !ok {
		return nil, storage.Info{}, storage.ErrNotFound
	}
	return slices.Clone(doc.data), doc.info, nil
}

func (b *Blob) Save(ctx context.Context, name string, data []byte) (storage.Info, error) {
	if err := check(ctx, name); err != nil {
		return storage.Info{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	info := storage.Info{
		Name:     name,
		ETag:     storage.ETag(data),
		Size:     int64(len(data)),
		Modified: b.now(),
	}
	b.docs[name] = document{data: slices.Clone(data), info: info}
	return info, nil
}

func (b *Blob) Stat(ctx context.Context, name string) (storage.Info, error) {
	if err := check(ctx, name); err != nil {
		return storage.Info{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	doc, ok := b.docs[name]
	if !ok {
		return storage.Info{}, storage.ErrNotFound
	}
	return doc.info, nil
}

func (b *Blob) Delete(ctx context.Context, name string) error {
	if err := check(ctx, name); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.docs[name]; !ok {
		return storage.ErrNotFound
	}
	delete(b.docs, name)
	return nil
}

func (b *Blob) List(ctx context.Context) ([]storage.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	infos := make([]storage.Info, 0, len(b.docs))
	for _, doc := range b.docs {
		infos = append(infos, doc.info)
	}
	slices.SortFunc(infos, func(x, y storage.Info) int { return strings.Compare(x.Name, y.Name) })
	return infos, nil
}

func check(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return storage.ValidateName(name)
}
