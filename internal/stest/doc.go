// Package stest contains helpers shared by tests across the module.
//
// The channel helpers all use short, fixed timeouts,
// so that a test which would otherwise hang fails quickly instead.
package stest
