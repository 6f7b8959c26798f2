// Package sretry paces reconnection attempts.
//
// A [Policy] is the immutable description of how long to wait between
// attempts; it is what configuration files and server URLs carry.
// Calling [Policy.Backoff] yields a [Backoff],
// an infinite sequence of waits whose only state is the number of draws so far.
// A Backoff cannot be rewound; start over by calling Policy.Backoff again.
//
// Nothing here sleeps. Callers decide when to wait and when to give up.
package sretry
