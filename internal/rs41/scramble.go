package rs41

import "math/bits"

const prnPeriod = 64

// prn is the whitening sequence, obtained by autocorrelating the extra data
// at the end of frames from a sonde carrying an ozone sensor.
var prn = [prnPeriod]byte{
	0x96, 0x83, 0x3e, 0x51, 0xb1, 0x49, 0x08, 0x98,
	0x32, 0x05, 0x59, 0x0e, 0xf9, 0x44, 0xc6, 0x26,
	0x21, 0x60, 0xc2, 0xea, 0x79, 0x5d, 0x6d, 0xa1,
	0x54, 0x69, 0x47, 0x0c, 0xdc, 0xe8, 0x5c, 0xf1,
	0xf7, 0x76, 0x82, 0x7f, 0x07, 0x99, 0xa2, 0x2c,
	0x93, 0x7c, 0x30, 0x63, 0xf5, 0x10, 0x2e, 0x61,
	0xd0, 0xbc, 0xb4, 0xb6, 0x06, 0xaa, 0xf4, 0x23,
	0x78, 0x6e, 0x3b, 0xae, 0xbf, 0x7b, 0x4c, 0xc1,
}

// Descramble undoes the transmitter whitening in place: each byte is bit
// reversed, then XORed with the PRN sequence and inverted.
func Descramble(frame []byte) {
	for i, b := range frame {
		frame[i] = 0xFF ^ bits.Reverse8(b) ^ prn[i%prnPeriod]
	}
}

// Scramble is the inverse of Descramble.
func Scramble(frame []byte) {
	for i, b := range frame {
		frame[i] = bits.Reverse8(0xFF ^ b ^ prn[i%prnPeriod])
	}
}
