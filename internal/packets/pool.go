package packets

import "sync"

const defaultBufferSize = 4096

// bufferPool holds 4KB buffers, enough for control packets and small messages.
// Larger packets allocate.
var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, defaultBufferSize)
		return &buf
	},
}

func getBuffer(size int) *[]byte {
	if size > defaultBufferSize {
		buf := make([]byte, size)
		return &buf
	}
	return bufferPool.Get().(*[]byte)
}

// putBuffer returns a pooled buffer. Oversized buffers are left to the GC,
// including ones that grew during Encode.
func putBuffer(bufPtr *[]byte) {
	if cap(*bufPtr) != defaultBufferSize {
		return
	}
	*bufPtr = (*bufPtr)[:defaultBufferSize]
	bufferPool.Put(bufPtr)
}
