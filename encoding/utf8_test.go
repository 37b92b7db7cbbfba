package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateUTF8String(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{"empty", []byte{}, nil},
		{"ascii", []byte("hello/world"), nil},
		{"multibyte", []byte("température"), nil},
		{"emoji", []byte("🚀"), nil},
		{"null_character", []byte{'a', 0x00, 'b'}, ErrNullCharacter},
		{"invalid_utf8", []byte{0xFF, 0xFE}, ErrInvalidUTF8},
		{"overlong_encoding", []byte{0xC0, 0x80}, ErrInvalidUTF8},
		{"noncharacter_fffe", []byte{0xEF, 0xBF, 0xBE}, ErrNonCharacterCodePoint},
		{"noncharacter_ffff", []byte{0xEF, 0xBF, 0xBF}, ErrNonCharacterCodePoint},
		{"noncharacter_fdd0", []byte{0xEF, 0xB7, 0x90}, ErrNonCharacterCodePoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUTF8String(tt.input)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				assert.True(t, IsValidUTF8String(tt.input))
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, IsValidUTF8String(tt.input))
			}
		})
	}
}
