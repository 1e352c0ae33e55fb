// Package bridge is an HTTP webhook implementation of the dispatch
// transport. Gateways POST inbound messages to the bridge; outbound
// replies are forwarded to a configured webhook. It stands in for any
// WhatsApp gateway that speaks webhooks, keeping the engine itself
// transport-agnostic.
package bridge
