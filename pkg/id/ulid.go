// Package id generates time-sortable identifiers for jobs and dead-lettered messages.
package id

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"strings"
	"time"
)

// Crockford's Base32 alphabet (excludes I, L, O, U).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// ULIDLength is the length of a ULID string.
const ULIDLength = 26

// ErrInvalidULID is returned when a string cannot be decoded as a ULID.
var ErrInvalidULID = errors.New("id: invalid ulid")

// NewULID returns a ULID for the current time.
func NewULID() string {
	return NewULIDAt(time.Now())
}

// NewULIDAt returns a ULID whose timestamp component is t.
// Ids created at different milliseconds sort lexicographically by time.
func NewULIDAt(t time.Time) string {
	var raw [16]byte
	binary.BigEndian.PutUint64(raw[0:8], uint64(t.UnixMilli())<<16)
	if _, err := rand.Read(raw[6:]); err != nil {
		binary.BigEndian.PutUint64(raw[8:], uint64(time.Now().UnixNano()))
	}

	hi := binary.BigEndian.Uint64(raw[0:8])
	lo := binary.BigEndian.Uint64(raw[8:16])

	// 128 bits are encoded as 26 base32 chars: the first char carries
	// the top 3 bits, every following char 5 bits.
	var out [ULIDLength]byte
	for i := ULIDLength - 1; i >= 0; i-- {
		out[i] = crockfordBase32[lo&0x1F]
		lo = lo>>5 | hi<<59
		hi >>= 5
	}
	return string(out[:])
}

// ULIDTime extracts the millisecond timestamp encoded in a ULID.
func ULIDTime(s string) (time.Time, error) {
	if len(s) != ULIDLength {
		return time.Time{}, ErrInvalidULID
	}
	var ms uint64
	for i := range 10 {
		v := strings.IndexByte(crockfordBase32, s[i])
		if v < 0 {
			return time.Time{}, ErrInvalidULID
		}
		ms = ms<<5 | uint64(v)
	}
	// The first char carries two zero bits above the 48-bit timestamp.
	return time.UnixMilli(int64(ms & (1<<48 - 1))), nil
}
