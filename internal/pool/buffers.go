// Package pool provides sync.Pool-backed byte buffers sized for DNS
// datagrams, cutting down on GC pressure in the dispatcher's hot path.
//
// Adapted from internal/pool/buffers.go: the original pools *dns.Msg
// values from github.com/miekg/dns; this forwarder's codec works
// directly on []byte, so only the buffer-sizing half of that file
// survives, generalized to the wire package's own message size limit.
package pool

import "sync"

// Buffer sizes for different use cases.
const (
	SmallBufferSize  = 512   // Typical UDP DNS query/response
	MediumBufferSize = 4096  // Larger responses
	LargeBufferSize  = 65535 // Maximum DNS message size
)

var smallPool = sync.Pool{New: func() interface{} { buf := make([]byte, SmallBufferSize); return &buf }}
var mediumPool = sync.Pool{New: func() interface{} { buf := make([]byte, MediumBufferSize); return &buf }}
var largePool = sync.Pool{New: func() interface{} { buf := make([]byte, LargeBufferSize); return &buf }}

// GetSmallBuffer returns a 512-byte buffer.
func GetSmallBuffer() []byte {
	p := smallPool.Get().(*[]byte)
	return (*p)[:SmallBufferSize]
}

// PutSmallBuffer returns a buffer to the small pool.
func PutSmallBuffer(buf []byte) {
	if cap(buf) < SmallBufferSize {
		return
	}
	buf = buf[:cap(buf)]
	smallPool.Put(&buf)
}

// GetMediumBuffer returns a 4096-byte buffer.
func GetMediumBuffer() []byte {
	p := mediumPool.Get().(*[]byte)
	return (*p)[:MediumBufferSize]
}

// PutMediumBuffer returns a buffer to the medium pool.
func PutMediumBuffer(buf []byte) {
	if cap(buf) < MediumBufferSize {
		return
	}
	buf = buf[:cap(buf)]
	mediumPool.Put(&buf)
}

// GetLargeBuffer returns a 65535-byte buffer.
func GetLargeBuffer() []byte {
	p := largePool.Get().(*[]byte)
	return (*p)[:LargeBufferSize]
}

// PutLargeBuffer returns a buffer to the large pool.
func PutLargeBuffer(buf []byte) {
	if cap(buf) < LargeBufferSize {
		return
	}
	buf = buf[:cap(buf)]
	largePool.Put(&buf)
}

// GetBuffer picks the smallest pool that can hold size bytes.
func GetBuffer(size int) []byte {
	switch {
	case size <= SmallBufferSize:
		return GetSmallBuffer()
	case size <= MediumBufferSize:
		return GetMediumBuffer()
	default:
		return GetLargeBuffer()
	}
}

// PutBuffer returns buf to the pool matching its capacity, or drops it
// on the floor if it doesn't match any pooled size.
func PutBuffer(buf []byte) {
	switch cap(buf) {
	case SmallBufferSize:
		PutSmallBuffer(buf)
	case MediumBufferSize:
		PutMediumBuffer(buf)
	case LargeBufferSize:
		PutLargeBuffer(buf)
	}
}
