package ftrace

// Magic separates the textual trace header from the binary entries.
var Magic = []byte("FTRACE\x00\x01")

const (
	entrySize   = 8
	depthShift  = 56
	payloadMask = 0x00FF_FFFF_FFFF_FFFF
)

// RawEntry is a single 64-bit trace word. The top byte holds the nesting
// depth (0 for an end marker), the remaining 56 bits hold either the
// function address (start) or the elapsed nanoseconds (end).
type RawEntry uint64

func NewStartEntry(depth uint8, addr uint64) RawEntry {
	return RawEntry(uint64(depth)<<depthShift | addr&payloadMask)
}

func NewEndEntry(elapsedNs uint64) RawEntry {
	return RawEntry(elapsedNs & payloadMask)
}

func (e RawEntry) Depth() uint8 {
	return uint8(uint64(e) >> depthShift)
}

func (e RawEntry) Payload() uint64 {
	return uint64(e) & payloadMask
}

func (e RawEntry) IsStart() bool {
	return e.Depth() != 0
}

func (e RawEntry) IsEnd() bool {
	return e.Depth() == 0
}
