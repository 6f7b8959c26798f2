// Package spubsub contains types for in-application
// publish-subscribe patterns.
//
// The [Stream] type specifically simplifies the pattern of
// a single publisher with many concurrent subscribers,
// who all need to observe the same sequence of values,
// such as the state transitions of a connection.
package spubsub
