// Package dispatch runs the ingestion loop that bridges the message
// transport and the conversation machine.
//
// The loop polls the transport on a fixed cadence, discards duplicate
// deliveries, and fans messages out to per-sender workers. Messages
// from one sender are applied strictly in receipt order; different
// senders proceed in parallel up to a concurrency bound. A failing
// poll backs off with a capped delay and never terminates the loop.
package dispatch
