package wire

import (
	"encoding/binary"
	"unsafe"
)

// Order is the byte order used to encode every wire message: the host's
// native byte order, detected at process start rather than hardcoded.
// A cluster's nodes must all run on architectures sharing the same
// native order, or the wire format won't decode cleanly across them.
var Order binary.ByteOrder = detectNativeEndian()

func detectNativeEndian() binary.ByteOrder {
	var buf [2]byte
	*(*uint16)(unsafe.Pointer(&buf[0])) = uint16(0xABCD)
	switch buf[0] {
	case 0xCD:
		return binary.LittleEndian
	case 0xAB:
		return binary.BigEndian
	default:
		panic("wire: could not determine native byte order")
	}
}
