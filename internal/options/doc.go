// Package options holds the option values attached to host patterns and the
// pure fold that merges them.
//
// A [Set] is an insertion-ordered mapping from option name to [Value]. Values
// are a small tagged variant (scalar, list or nested map). Sets behave as
// values: every operation that changes a Set returns a new one, so a Set
// shared by a loaded configuration can be read from many goroutines.
package options
