package util

import (
	"fmt"

	"github.com/google/uuid"
)

// Namespace for deterministic text-unit IDs. Re-delivery of the same review
// must produce the same unit IDs so vector upserts stay idempotent.
var textUnitNamespace = uuid.MustParse("5ba3d7a0-52fb-4c0e-9c5a-0d9e2b6f1c44")

// NewV7 returns a new UUIDv7 string. UUIDv7 is time-ordered, so
// lexicographic comparison of IDs generated by one process agrees with
// generation order; cursor pagination depends on this.
func NewV7() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Only possible if the random source fails.
		panic(fmt.Sprintf("uuidv7 generation failed: %v", err))
	}
	return id.String()
}

// DeterministicUnitID derives a stable UUIDv5 from a text unit's readable ID.
func DeterministicUnitID(readableID string) string {
	return uuid.NewSHA1(textUnitNamespace, []byte(readableID)).String()
}

// BlobName builds an artefact blob name of the form {kind}_{uuidv7}.parquet.
func BlobName(kind string) string {
	return fmt.Sprintf("%s_%s.parquet", kind, NewV7())
}

// ParseUUID validates s as a UUID and returns it canonicalized.
func ParseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid uuid %q: %w", s, err)
	}
	return id, nil
}
