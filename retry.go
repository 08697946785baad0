package bleu

import "time"

// retrySchedule is the peripheral→central Response-notification backoff
// from §4.3 "Retry policy": attempt 0 fires immediately, attempt 1 waits
// 50ms, attempt 2 waits 100ms; the counter advances after the delay, so at
// most 3 attempts and ≤150ms of added latency (§8 property 8). A caller
// configuring more attempts than this schedule has entries for (via
// WithMaxRetries) gets no added delay on those extra attempts.
var retrySchedule = [...]time.Duration{0, 50 * time.Millisecond, 100 * time.Millisecond}

// maxRetryAttempts is the default attempt cap (§4.3 "Retry policy"'s
// default of 3); WithMaxRetries overrides it per-System via cfg.maxRetries.
const maxRetryAttempts = len(retrySchedule)

// retryDelay returns the delay to wait before making send attempt n
// (0-indexed). Out-of-range n (including n >= maxRetryAttempts) returns 0.
func retryDelay(attempt int) time.Duration {
	if attempt < 0 || attempt >= len(retrySchedule) {
		return 0
	}
	return retrySchedule[attempt]
}

// sendWithRetry runs send up to maxAttempts times following retryDelay,
// stopping at the first nil error. onFinalFailure runs once if every
// attempt failed, so the caller can push an immediate error-response
// notification instead of waiting on the deadline (§4.3 "On final failure,
// send an immediate error-response notification").
func sendWithRetry(maxAttempts int, send func(attempt int) error, onFinalFailure func(lastErr error)) error {
	if maxAttempts <= 0 {
		maxAttempts = maxRetryAttempts
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if d := retryDelay(attempt); d > 0 {
			time.Sleep(d)
		}
		if err := send(attempt); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if onFinalFailure != nil {
		onFinalFailure(lastErr)
	}
	return lastErr
}
