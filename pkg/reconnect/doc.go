// Package reconnect restores client sessions after a connection loss.
//
// The transport core never retries. This package sits above the session
// manager and redials with exponential backoff:
//
//  1. Initial delay: retry_delay (1s)
//  2. Exponential increase: 2s, 4s, ...
//  3. Maximum delay: reconnect_delay (5s)
//  4. Give up after retry_attempts failed dials (0 retries forever)
//  5. Reset on a successful dial
//
// Each delay carries up to 25% jitter:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// A local Disconnect never triggers a reconnect.
package reconnect
