// Package domain holds the core types and the closed error taxonomy
// shared across the application. It has no dependencies on transport,
// storage or the Twitch API.
package domain
