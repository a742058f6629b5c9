package pool

import "unsafe"

// unsafeBytes views a page handed out by AllocPage as a byte slice for
// test assertions. Production callers never do this: the extension
// only ever sees virt as an address to hand to the guest, never as a
// Go slice.
func unsafeBytes(virt uintptr, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(virt)), length)
}
