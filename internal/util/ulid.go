package util

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// New generates a new ULID string. IDs made in the same millisecond are
// monotonic, so they sort in creation order.
func New() string {
	return NewAt(time.Now())
}

// NewAt generates a ULID carrying t as its timestamp.
func NewAt(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}
