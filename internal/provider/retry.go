package provider

import "time"

// MaxRetries is the number of additional attempts made after an initial
// unary call answers with HTTP 429, per spec §4.5/§4.6. Streaming calls
// are never retried — partial bytes may already be in flight to the
// caller by the time a failure is observed.
const MaxRetries = 3

const maxRetryDelay = 30 * time.Second

// RetryDelay returns the backoff before retry attempt n (1-based): 2^(n-1)
// seconds, capped. Attempt 1's delay is 1s, attempt 2's is 2s, attempt 3's
// is 4s — the first two delays alone already satisfy the spec's rate-limit
// scenario (S6: two 429s then success, elapsed >= 1+2 = 3s).
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Second << (attempt - 1)
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}
