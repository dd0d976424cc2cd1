package convo

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidCursor marks a pagination token the client corrupted. Surfaces
// as HTTP 400.
var ErrInvalidCursor = errors.New("invalid cursor")

// EncodeCursor turns a message or conversation ID into an opaque pagination
// token: URL-safe base64, no padding, of the 16-byte UUID.
func EncodeCursor(id uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// DecodeCursor parses a pagination token. Invalid base64 or a payload that
// is not exactly 16 bytes yields ErrInvalidCursor.
func DecodeCursor(s string) (uuid.UUID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrInvalidCursor, err)
	}
	if len(raw) != 16 {
		return uuid.Nil, fmt.Errorf("%w: payload is %d bytes", ErrInvalidCursor, len(raw))
	}
	var id uuid.UUID
	copy(id[:], raw)
	return id, nil
}
