package rs41

// Frame layout, in bytes from the first sync byte.
const (
	SyncWord uint64 = 0x086D53884469481F
	SyncBits        = 64

	FrameLen    = 320 // normal frame
	ExtFrameLen = 518 // frame with extended data
	MaxFrameLen = ExtFrameLen

	syncLen      = 8
	parityOffset = syncLen
	flagOffset   = parityOffset + rsRoots*rsInterleave
	dataOffset   = flagOffset + 1

	DataLen  = FrameLen - dataOffset
	XDataLen = ExtFrameLen - FrameLen

	FlagNormal   byte = 0x0F
	FlagExtended byte = 0xF0
)

// Reed-Solomon parameters. The codeword message starts at the flag byte and
// is interleaved with a stride of rsInterleave; normal frames zero-pad each
// codeword after normalChunk symbols.
const (
	rsPoly       = 0x11D
	rsFirstRoot  = 0
	rsRootSkip   = 1
	rsRoots      = 24
	rsN          = 255
	rsK          = rsN - rsRoots
	rsInterleave = 2

	normalChunk = (DataLen + 1) / rsInterleave
)

// Subframe types.
const (
	SubframeEmpty   byte = 0x76
	SubframeStatus  byte = 0x79
	SubframePTU     byte = 0x7A
	SubframeGPSPos  byte = 0x7B
	SubframeGPSInfo byte = 0x7C
	SubframeGPSRaw  byte = 0x7D
	SubframeXData   byte = 0x7E
)

// subframeOverhead is the type and length header plus the trailing CRC.
const subframeOverhead = 4
