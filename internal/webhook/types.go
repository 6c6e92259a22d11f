package webhook

import (
	"context"
)

// FinalizeHandler reacts to a submission being sent by its team. It
// reports whether scoring was enqueued.
type FinalizeHandler interface {
	OnFinalized(ctx context.Context, submissionID string) (bool, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen string
	// Path receives the finalization callback.
	Path string
	// Secret is the HMAC secret for signature verification.
	Secret string
	// SignatureHeader carries "sha256=<hex>" or plain hex.
	SignatureHeader string
	MaxBodySize     int64
}

// FinalizedRequest is the body the platform posts when a team sends a
// submission.
type FinalizedRequest struct {
	SubmissionID string `json:"submission_id"`
}

// FinalizedResponse is the JSON response for accepted callbacks.
type FinalizedResponse struct {
	SubmissionID string `json:"submission_id"`
	Enqueued     bool   `json:"enqueued"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultPath            = "/hooks/submission-finalized"
	DefaultSignatureHeader = "X-Hackscore-Signature"
)
