// Package storage persists collection documents as named blobs. Backends
// store whole documents; they know nothing about their content.
package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Blob connects a collection with its durable storage (a directory, a
// database). Please use the error values provided.
type Blob interface {
	// Load returns the document stored under name, or ErrNotFound.
	Load(ctx context.Context, name string) ([]byte, Info, error)
	// Save replaces the document stored under name, creating it if needed.
	// Either the old or the new document must be readable at all times.
	Save(ctx context.Context, name string, data []byte) (Info, error)
	// Stat describes the document without loading it.
	Stat(ctx context.Context, name string) (Info, error)
	// Delete removes the document, or returns ErrNotFound.
	Delete(ctx context.Context, name string) error
	// List describes all documents, sorted by name.
	List(ctx context.Context) ([]Info, error)
}

// Info describes a stored document.
type Info struct {
	Name string
	// ETag changes whenever the content changes. Backends derive it from the
	// content with ETag, so equal documents have equal tags everywhere.
	ETag     string
	Size     int64
	Modified time.Time
}

var (
	// ErrNotFound is returned when a requested document doesn't exist
	ErrNotFound = errors.New("document not found")
	// ErrInvalidInput is returned when the input parameters are invalid
	ErrInvalidInput = errors.New("invalid input parameters")
	// ErrStorageUnavailable is returned when the storage backend is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ETag computes the entity tag of a document.
func ETag(data []byte) string {
	hash := sha1.Sum(data)
	return `"` + hex.EncodeToString(hash[:]) + `"`
}

// ValidateName rejects names that cannot be used as a file name on every
// backend.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: document name %q", ErrInvalidInput, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: document name %q contains a path separator", ErrInvalidInput, name)
	}
	return nil
}
