// Package vault owns the authoritative copy of every channel's OAuth
// credential. Each channel gets its own actor goroutine; all reads,
// refreshes and writes for that channel are serialized through it, so a
// token is refreshed at most once no matter how many request handlers
// ask for it at the same moment. Channels never block each other.
package vault
