// Package bitsacco is the client for the upstream Bitsacco account API:
// user lookup, OTP authentication, balances, savings initiation, and
// transaction history.
//
// All calls go through one retry policy. Network failures, timeouts, and
// 5xx responses are retried with bounded exponential backoff; 401/403
// and 404 are terminal and returned immediately as typed errors, and any
// other 4xx surfaces as a ClientError. Once retries are exhausted the
// caller receives a TransientError wrapping the last underlying cause,
// so "upstream is down" is distinguishable from "you are not allowed".
//
// Side-effecting POSTs (send OTP, initiate savings) carry an
// Idempotency-Key header generated once per logical call and resent
// verbatim on every retry, letting the upstream collapse duplicate
// deliveries of the same request.
package bitsacco
