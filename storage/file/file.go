// Package file stores each document as an .ics file in one directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cyp0633/localcal/storage"
)

// Ext is appended to document names to form file names.
const Ext = ".ics"

// Blob implements storage.Blob on a directory.
type Blob struct {
	dir string
}

// New returns a Blob storing documents in dir, which is created when missing.
func New(dir string) (*Blob, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty directory", storage.ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
	}
	return &Blob{dir: dir}, nil
}

// Dir returns the directory documents are stored in.
func (b *Blob) Dir() string { return b.dir }

func (b *Blob) path(name string) string {
	return filepath.Join(b.dir, name+Ext)
}

func (b *Blob) Load(ctx context.Context, name string) ([]byte, storage.Info, error) {
	if err := check(ctx, name); err != nil {
		return nil, storage.Info{}, err
	}
	data, err := os.ReadFile(b.path(name))
	if err != nil {
		return nil, storage.Info{}, wrap(err)
	}
	st, err := os.Stat(b.path(name))
	if err != nil {
		return nil, storage.Info{}, wrap(err)
	}
	return data, info(name, data, st), nil
}

// Save writes the document atomically: data goes to a temp file in the same
// directory which then replaces the old file.
func (b *Blob) Save(ctx context.Context, name string, data []byte) (storage.Info, error) {
	if err := check(ctx, name); err != nil {
		return storage.Info{}, err
	}

	tmp, err := os.CreateTemp(b.dir, ".localcal-*.tmp")
	if err != nil {
		return storage.Info{}, wrap(err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return storage.Info{}, wrap(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return storage.Info{}, wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return storage.Info{}, wrap(err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return storage.Info{}, wrap(err)
	}
	if err := os.Rename(tmpName, b.path(name)); err != nil {
		return storage.Info{}, wrap(err)
	}

	st, err := os.Stat(b.path(name))
	if err != nil {
		return storage.Info{}, wrap(err)
	}
	return info(name, data, st), nil
}

// Stat reads the file to compute its entity tag.
func (b *Blob) Stat(ctx context.Context, name string) (storage.Info, error) {
	_, info, err := b.Load(ctx, name)
	return info, err
}

func (b *Blob) Delete(ctx context.Context, name string) error {
	if err := check(ctx, name); err != nil {
		return err
	}
	return wrap(os.Remove(b.path(name)))
}

func (b *Blob) List(ctx context.Context) ([]storage.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, wrap(err)
	}

	var infos []storage.Info
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), Ext)
		if !ok || e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		inf, err := b.Stat(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			continue // removed meanwhile
		}
		if err != nil {
			return nil, err
		}
		infos = append(infos, inf)
	}
	slices.SortFunc(infos, func(x, y storage.Info) int { return strings.Compare(x.Name, y.Name) })
	return infos, nil
}

func info(name string, data []byte, st fs.FileInfo) storage.Info {
	return storage.Info{
		Name:     name,
		ETag:     storage.ETag(data),
		Size:     int64(len(data)),
		Modified: st.ModTime(),
	}
}

func check(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return storage.ValidateName(name)
}

func wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", storage.ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
	}
}
