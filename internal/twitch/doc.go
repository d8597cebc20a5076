// Package twitch talks to the Twitch identity and Helix APIs: the OAuth
// token endpoint, the current-user lookup, channel followers, and
// EventSub subscription management.
package twitch
