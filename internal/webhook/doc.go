// Package webhook receives the platform's submission-finalized callback and
// turns it into a scoring trigger.
//
// Every request must carry an HMAC-SHA256 signature of the raw body, keyed
// with the shared secret, in the configured header ("sha256=<hex>" or plain
// hex). Comparison is constant time and failures always answer a generic
// 403.
//
// # Configuration
//
//	webhooks:
//	  listen: "127.0.0.1:8081"
//	  path: /hooks/submission-finalized
//	  secret: ${HACKSCORE_WEBHOOK_SECRET}
//	  signature_header: X-Hackscore-Signature
//	  max_body_size: 64KB
//
// # Request Flow
//
//  1. POST arrives at the configured path with {"submission_id": "..."}
//  2. Body size checked (413 if too large)
//  3. Signature verified (403 if missing or wrong)
//  4. The submission is enqueued if its hackathon has auto scoring enabled
//  5. 202 Accepted with {"submission_id", "enqueued"}
//
// # Error Responses
//
//   - 400 Bad Request: malformed body or submission not finalized
//   - 403 Forbidden: invalid or missing signature
//   - 404 Not Found: unknown submission
//   - 413 Payload Too Large: body exceeds max_body_size
//   - 500 Internal Server Error: enqueue failed
package webhook
