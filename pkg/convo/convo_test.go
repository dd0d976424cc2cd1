package convo

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCursorRoundTrip(t *testing.T) {
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("failed to generate id: %v", err)
	}

	token := EncodeCursor(id)
	if strings.ContainsAny(token, "+/=") {
		t.Fatalf("cursor %q is not URL-safe unpadded base64", token)
	}

	decoded, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded != id {
		t.Fatalf("round trip mismatch: %s != %s", decoded, id)
	}
}

func TestDecodeCursorRejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
	}{
		{name: "not base64", cursor: "not-base64!!"},
		{name: "wrong length", cursor: "aGVsbG8"},
		{name: "empty", cursor: ""},
		{name: "padded", cursor: "aGVsbG8gd29ybGQgMTIzNA=="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCursor(tt.cursor)
			if !errors.Is(err, ErrInvalidCursor) {
				t.Fatalf("got %v, want ErrInvalidCursor", err)
			}
		})
	}
}

func TestCursorOrderMatchesIDOrder(t *testing.T) {
	a, _ := uuid.NewV7()
	b, _ := uuid.NewV7()
	if !(a.String() < b.String()) {
		t.Fatal("UUIDv7 generation order must match lexicographic order")
	}
}

func TestPartValidate(t *testing.T) {
	tests := []struct {
		name    string
		part    Part
		wantErr bool
	}{
		{name: "text", part: Part{Type: PartText, Text: "hello"}},
		{name: "file with uri", part: Part{Type: PartFile, File: &FilePart{URI: "s3://bucket/key"}}},
		{name: "file with bytes", part: Part{Type: PartFile, File: &FilePart{Bytes: []byte{1}}}},
		{name: "file with both", part: Part{Type: PartFile, File: &FilePart{URI: "x", Bytes: []byte{1}}}, wantErr: true},
		{name: "file with neither", part: Part{Type: PartFile, File: &FilePart{}}, wantErr: true},
		{name: "file without payload", part: Part{Type: PartFile}, wantErr: true},
		{name: "data", part: Part{Type: PartData, Data: json.RawMessage(`{"k":1}`)}},
		{name: "empty data", part: Part{Type: PartData}, wantErr: true},
		{name: "unknown type", part: Part{Type: "audio"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.part.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateID(t *testing.T) {
	v7, _ := uuid.NewV7()
	if err := ValidateID(v7); err != nil {
		t.Fatalf("fresh UUIDv7 must validate: %v", err)
	}
	if err := ValidateID(uuid.Nil); err == nil {
		t.Fatal("nil id must be rejected")
	}
	if err := ValidateID(uuid.New()); err == nil {
		t.Fatal("UUIDv4 must be rejected")
	}
	if err := ValidateID(v7At(time.Now().Add(-48 * time.Hour))); err == nil {
		t.Fatal("heavily backdated UUIDv7 must be rejected")
	}
	if err := ValidateID(v7At(time.Now().Add(time.Hour))); err == nil {
		t.Fatal("far-future UUIDv7 must be rejected")
	}
	if err := ValidateID(v7At(time.Now().Add(-time.Hour))); err != nil {
		t.Fatalf("recent retry-aged UUIDv7 must validate: %v", err)
	}
}

// v7At builds a UUIDv7 whose embedded timestamp is ts.
func v7At(ts time.Time) uuid.UUID {
	id, _ := uuid.NewV7()
	ms := uint64(ts.UnixMilli())
	id[0] = byte(ms >> 40)
	id[1] = byte(ms >> 32)
	id[2] = byte(ms >> 24)
	id[3] = byte(ms >> 16)
	id[4] = byte(ms >> 8)
	id[5] = byte(ms)
	return id
}

func TestMessageValidate(t *testing.T) {
	conv, _ := uuid.NewV7()
	id, _ := uuid.NewV7()

	msg := Message{
		MessageID:      id,
		ConversationID: conv,
		Author:         Author{Role: RoleUser},
		Parts:          []Part{{Type: PartText, Text: "hi"}},
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}

	bad := msg
	bad.Author.Role = "system"
	if err := bad.Validate(); err == nil {
		t.Fatal("unknown role must be rejected")
	}

	bad = msg
	bad.Parts = nil
	if err := bad.Validate(); err == nil {
		t.Fatal("empty message must be rejected")
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{in: "", want: Backward},
		{in: "backward", want: Backward},
		{in: "forward", want: Forward},
		{in: "sideways", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDirection(tt.in)
		if tt.wantErr != (err != nil) {
			t.Fatalf("%q: err = %v", tt.in, err)
		}
		if err == nil && got != tt.want {
			t.Fatalf("%q: got %q, want %q", tt.in, got, tt.want)
		}
	}
}
