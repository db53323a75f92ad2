package rs41

import "github.com/sigurn/crc16"

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// CRC16 computes CRC-16/CCITT-FALSE (polynomial 0x1021, initial value
// 0xFFFF, no reflection, no final XOR) as used by RS41 subframes.
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}
