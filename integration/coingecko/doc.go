// Package coingecko looks up the current Bitcoin price from the
// CoinGecko public API, with a short-lived in-process cache so a burst
// of "price" commands does not hammer the upstream.
//
// When the upstream is unreachable and a cached price is still on hand,
// the stale value is served rather than failing the user's request; a
// cold cache plus an unreachable upstream yields ErrUnavailable.
package coingecko
