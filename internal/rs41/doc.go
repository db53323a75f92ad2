// Package rs41 decodes Vaisala RS41 radiosonde frames.
//
// A frame, once aligned by the framer, is descrambled, corrected with the
// interleaved Reed-Solomon code, and walked subframe by subframe. Each
// subframe carries its own CRC-16; only subframes that pass it contribute to
// the telemetry record handed to the caller. Calibration data arrives a
// fragment at a time in status subframes and is reassembled across frames.
package rs41
