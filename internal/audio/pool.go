package audio

import (
	"errors"
	"unsafe"
)

// poolAlignment is the byte alignment of the usable pool region, 128 bits.
const poolAlignment = 16

// pool is the arena backing every device buffer of a session. It owns one
// contiguous allocation; chunks handed out by slice are non-owning views
// that the pool strictly outlives. The arena is released exactly once per
// session, at close.
type pool struct {
	raw  []byte
	data []byte
}

// newPool allocates totalBytes with alignment slack and returns the pool
// with its usable region aligned and zeroed.
func newPool(totalBytes, alignment int) (*pool, error) {
	if totalBytes <= 0 {
		return nil, errors.New("pool size must be positive")
	}
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		return nil, errors.New("alignment must be a power of two")
	}

	raw := make([]byte, totalBytes+alignment)
	base := uintptr(unsafe.Pointer(&raw[0]))
	offset := int((uintptr(alignment) - base&uintptr(alignment-1)) & uintptr(alignment-1))

	return &pool{
		raw:  raw,
		data: raw[offset : offset+totalBytes],
	}, nil
}

// slice divides the usable region into n equal contiguous chunks, in
// order. The chunk length must divide evenly; the engine validates that
// at configuration time.
func (p *pool) slice(n int) [][]byte {
	chunkLen := len(p.data) / n
	chunks := make([][]byte, n)
	for i := 0; i < n; i++ {
		chunks[i] = p.data[i*chunkLen : (i+1)*chunkLen : (i+1)*chunkLen]
	}
	return chunks
}

// release drops the allocation. Safe to call on a nil or already-released
// pool.
func (p *pool) release() {
	if p == nil {
		return
	}
	p.raw = nil
	p.data = nil
}

// released reports whether the allocation has been dropped.
func (p *pool) released() bool {
	return p == nil || p.raw == nil
}
