// Package conversation implements the per-user state machine that turns
// inbound message text into session transitions and outbound replies.
//
// The machine is the single writer of a session's state. Applying a
// message is synchronous and never blocks except on the declared
// collaborator calls (account API, price oracle, AI responder). A panic
// while computing a transition leaves the session unchanged and yields
// a generic apology, so one bad message can never corrupt user state.
package conversation
