package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockBlob implements the Blob interface for testing
type MockBlob struct {
	mock.Mock
}

func (m *MockBlob) Load(ctx context.Context, name string) ([]byte, Info, error) {
	args := m.Called(ctx, name)
	data, _ := args.Get(0).([]byte)
	return data, args.Get(1).(Info), args.Error(2)
}

func (m *MockBlob) Save(ctx context.Context, name string, data []byte) (Info, error) {
	args := m.Called(ctx, name, data)
	return args.Get(0).(Info), args.Error(1)
}

func (m *MockBlob) Stat(ctx context.Context, name string) (Info, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(Info), args.Error(1)
}

func (m *MockBlob) Delete(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockBlob) List(ctx context.Context) ([]Info, error) {
	args := m.Called(ctx)
	infos, _ := args.Get(0).([]Info)
	return infos, args.Error(1)
}

// NewInfo describes data stored under name, for use as a mock return value.
func NewInfo(name string, data []byte) Info {
	return Info{Name: name, ETag: ETag(data), Size: int64(len(data))}
}
