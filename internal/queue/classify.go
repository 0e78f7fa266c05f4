package queue

import (
	"errors"
	"strings"
)

// Category buckets a job failure for retry-policy purposes. Unlike the
// teacher's HTTP-status-code classification, remote failures here arrive
// as plain error strings from a narrow Client interface with no
// guaranteed status code, so classification matches on substrings of
// the error text instead.
type Category string

const (
	// CategoryNetwork covers transport-level failures expected to clear
	// up on their own: timeouts, connection resets, DNS failures.
	CategoryNetwork Category = "NETWORK"
	// CategoryReuploadNeeded covers failures where the remote rejected
	// stale or now-invalid content and a fresh upload is required
	// (expired upload session, content hash mismatch after a race).
	CategoryReuploadNeeded Category = "REUPLOAD_NEEDED"
	// CategoryOther covers every failure that doesn't match a more
	// specific category: permission errors, quota errors, malformed
	// names, and anything unrecognized.
	CategoryOther Category = "OTHER"
)

// Classifier assigns a Category to a job failure. A seam so the
// substring heuristics below can be swapped for a smarter classifier
// without touching the retry scheduler.
type Classifier interface {
	Classify(err error) Category
}

// networkSubstrings and reuploadSubstrings are matched case-insensitively
// against the error's message. Order matters: network patterns are
// checked first since "connection reset" and similar phrases are
// unambiguous, while reupload patterns are checked next as a narrower,
// more specific bucket than the OTHER catch-all.
var (
	networkSubstrings = []string{
		"econnrefused", "econnreset", "etimedout", "enotfound", "eai_again",
		"enetunreach", "ehostunreach", "socket hang up",
		"network", "timeout", "connection",
	}

	reuploadSubstrings = []string{
		"upload session expired", "upload session not found",
		"content hash mismatch", "stale upload", "session invalid",
	}
)

// DowngradedError marks a failure that already went through
// REUPLOAD_NEEDED self-healing (a DELETE+CREATE attempt) and that
// self-heal itself failed. A failed recovery attempt is downgraded to a
// standard retry: Classify always reports CategoryOther for a
// DowngradedError regardless of its underlying message. Only the failure
// it wraps is downgraded; the job's next failure is classified afresh.
type DowngradedError struct {
	Err error
}

func (e *DowngradedError) Error() string { return e.Err.Error() }
func (e *DowngradedError) Unwrap() error { return e.Err }

// DefaultClassifier implements Classifier via the substring heuristics
// above.
type DefaultClassifier struct{}

// Classify implements Classifier.
func (DefaultClassifier) Classify(err error) Category {
	if err == nil {
		return CategoryOther
	}

	var downgraded *DowngradedError
	if errors.As(err, &downgraded) {
		return CategoryOther
	}

	msg := strings.ToLower(err.Error())

	for _, s := range networkSubstrings {
		if strings.Contains(msg, s) {
			return CategoryNetwork
		}
	}

	for _, s := range reuploadSubstrings {
		if strings.Contains(msg, s) {
			return CategoryReuploadNeeded
		}
	}

	return CategoryOther
}
