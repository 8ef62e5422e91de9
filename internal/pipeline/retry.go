package pipeline

import "time"

// RetryPolicy decides whether and when a degraded session may restart.
//
// Authorization failures are never resolved by retrying. Network failures
// benefit from exponential backoff but get their own small cap, independent
// of the overall restart ceiling. Structural failures (bad stream, failed
// decryption, plain crashes) are usually transient tool hiccups worth a
// bounded number of fixed-delay retries.
type RetryPolicy struct {
	RestartCeiling  int
	NetworkRetryCap int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	RetryDelay      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RestartCeiling:  5,
		NetworkRetryCap: 2,
		BackoffBase:     2 * time.Second,
		BackoffMax:      60 * time.Second,
		RetryDelay:      time.Second,
	}
}

type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide computes the retry decision for an error kind given the session's
// restart count and its count of network-caused retries so far.
func (p RetryPolicy) Decide(kind Kind, restartCount, networkRetries int) Decision {
	if kind == KindAuth {
		return Decision{}
	}
	if restartCount >= p.RestartCeiling {
		return Decision{}
	}

	if kind == KindNetwork {
		if networkRetries >= p.NetworkRetryCap {
			return Decision{}
		}
		return Decision{Retry: true, Delay: p.backoff(networkRetries + 1)}
	}

	return Decision{Retry: true, Delay: p.RetryDelay}
}

// backoff returns min(base * 2^(attempt-1), max).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if delay > p.BackoffMax {
		return p.BackoffMax
	}
	return delay
}
