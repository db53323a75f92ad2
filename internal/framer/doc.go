// Package framer turns an unaligned bit stream into fixed-length frames that
// start on a known synchronization pattern.
//
// The framer is resumable: input may arrive in chunks of any size and the
// bit cursor carries over between calls, so the same bit sequence always
// yields the same frames regardless of how it was split.
package framer
