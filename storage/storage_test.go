package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestETag(t *testing.T) {
	a := ETag([]byte("BEGIN:VCALENDAR"))
	assert.Equal(t, a, ETag([]byte("BEGIN:VCALENDAR")))
	assert.NotEqual(t, a, ETag([]byte("BEGIN:VCALENDAR\r\n")))
	assert.Len(t, a, 42)
	assert.Equal(t, byte('"'), a[0])
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"calendar", false},
		{"todo.shopping_list", false},
		{"", true},
		{".", true},
		{"..", true},
		{"a/b", true},
		{`a\b`, true},
		{"a\x00b", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			assert.NoError(t, err)
		})
	}
}
