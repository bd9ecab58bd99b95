// Package digest defines the content fingerprint used as the identity of
// stored objects. Two byte sequences are "the same object" if and only if
// their digests match; file names, sizes and timestamps play no part in that
// decision.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
)

// MetadataKey is the object-store metadata key under which the digest of an
// object's bytes is recorded, so later listings can skip re-downloading the
// content. The value is the lowercase hex SHA-256 of the exact stored bytes.
const MetadataKey = "sha256"

// Digest is the lowercase hex encoding of the SHA-256 of an object's bytes.
type Digest string

// digestRegexp matches valid lowercase hex SHA-256 strings.
var digestRegexp = regexp.MustCompile(`^[a-f0-9]{64}$`)

// ErrUnreadable is returned when there are no bytes to fingerprint.
var ErrUnreadable = errors.New("no readable content to digest")

// FromBytes computes the Digest of b. Empty or nil input returns
// ErrUnreadable; a zero-byte upload is never a valid object.
func FromBytes(b []byte) (Digest, error) {
	if len(b) == 0 {
		return "", ErrUnreadable
	}
	sum := sha256.Sum256(b)
	return Digest(hex.EncodeToString(sum[:])), nil
}

// Valid returns true if d is a well-formed digest string.
func (d Digest) Valid() bool {
	return digestRegexp.MatchString(string(d))
}
