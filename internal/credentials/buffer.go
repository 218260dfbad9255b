package credentials

import "fmt"

// Buffer is a fixed-capacity byte buffer holding key material.
//
// len(Bytes()) never exceeds Cap(). A Buffer is not safe for concurrent use;
// it belongs to whoever loaded it.
type Buffer struct {
	data []byte
	n    int
}

// NewBuffer allocates a buffer with the given capacity. A negative capacity
// is treated as zero.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Len returns the number of valid bytes.
func (b *Buffer) Len() int {
	return b.n
}

// Bytes returns the valid bytes. The slice aliases the buffer and is only
// valid until the next Fill.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.n]
}

// Fill replaces the contents with src. If src does not fit the buffer is left
// unchanged and ErrBufferTooSmall is returned.
func (b *Buffer) Fill(src []byte) error {
	if len(src) > len(b.data) {
		return fmt.Errorf("%w: %d bytes, capacity %d", ErrBufferTooSmall, len(src), len(b.data))
	}
	copy(b.data, src)
	// Zero the tail so stale key bytes from a longer previous fill do not linger.
	for i := len(src); i < b.n; i++ {
		b.data[i] = 0
	}
	b.n = len(src)
	return nil
}

// Wipe zeroes the buffer and sets its length to zero.
func (b *Buffer) Wipe() {
	for i := range b.data {
		b.data[i] = 0
	}
	b.n = 0
}
