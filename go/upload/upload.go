// Package upload holds the types shared between the deduplication layer and
// the upload pipeline: the per-file outcome of a submission and the reasons a
// file can be rejected.
package upload

import (
	"fmt"

	"github.com/stable-delusion/imagestore/go/digest"
)

// OutcomeKind says what happened to one submitted file.
type OutcomeKind string

const (
	// Stored means the bytes were new and were written to the store.
	Stored OutcomeKind = "stored"
	// Deduplicated means byte-identical content already existed; nothing
	// was written and Key names the existing object.
	Deduplicated OutcomeKind = "deduplicated"
	// Rejected means this file was not stored; Reason and Err say why.
	// A rejection never affects the other files of a batch.
	Rejected OutcomeKind = "rejected"
)

// RejectReason classifies a Rejected outcome so callers can branch on it
// without string-matching error messages.
type RejectReason string

const (
	// ReasonStoreUnavailable: the hash cache was never built, or the
	// listing that builds it failed. No dedup decision can be trusted.
	ReasonStoreUnavailable RejectReason = "store-unavailable"
	// ReasonStoreWriteFailed: the object write did not complete durably.
	ReasonStoreWriteFailed RejectReason = "store-write-failed"
	// ReasonUnoptimizable: the image exceeds the byte budget at the lowest
	// quality this pipeline is willing to encode.
	ReasonUnoptimizable RejectReason = "unoptimizable"
	// ReasonDigestFailed: the input bytes could not be fingerprinted.
	ReasonDigestFailed RejectReason = "digest-failed"
	// ReasonCanceled: the caller's context was canceled before this file
	// was processed.
	ReasonCanceled RejectReason = "canceled"
	// ReasonInternal: anything that does not fit the taxonomy above.
	ReasonInternal RejectReason = "internal"
)

// Outcome is the result for a single file. Exactly one Outcome is produced
// per input file; Outcomes are returned to the caller and never persisted.
type Outcome struct {
	// Name is the file name as supplied by the caller, for reporting.
	Name string
	// Kind is Stored, Deduplicated or Rejected.
	Kind OutcomeKind
	// Key is the store key holding the content: the newly written key for
	// Stored, the pre-existing canonical key for Deduplicated, empty for
	// Rejected.
	Key string
	// Digest is the content fingerprint, when it could be computed.
	Digest digest.Digest
	// Reason is set if and only if Kind is Rejected.
	Reason RejectReason
	// Err is the underlying error for a Rejected outcome.
	Err error
}

// String renders the outcome for log lines.
func (o Outcome) String() string {
	switch o.Kind {
	case Rejected:
		return fmt.Sprintf("%s: rejected (%s): %v", o.Name, o.Reason, o.Err)
	default:
		return fmt.Sprintf("%s: %s as %s (digest %s)", o.Name, o.Kind, o.Key, o.Digest)
	}
}
