package venvpipe

import "io"

// bufferPool recycles fixed size copy buffers between streams. It is safe
// for concurrent use.
type bufferPool struct {
	pool    chan []byte
	bufSize int
}

// copyBuffers backs the stderr drain of every Stream.
var copyBuffers = newBufferPool(32<<10, 16)

func newBufferPool(bufSize, count int) *bufferPool {
	return &bufferPool{
		pool:    make(chan []byte, count),
		bufSize: bufSize,
	}
}

// Get returns a pooled buffer or allocates a new one.
func (bp *bufferPool) Get() []byte {
	select {
	case buf := <-bp.pool:
		return buf
	default:
		return make([]byte, bp.bufSize)
	}
}

// Put returns buf to the pool. Buffers of the wrong capacity, or that do not
// fit, are dropped.
func (bp *bufferPool) Put(buf []byte) {
	if cap(buf) != bp.bufSize {
		return
	}
	select {
	case bp.pool <- buf[:bp.bufSize]:
	default:
	}
}

// copyPooled is io.Copy through a pooled buffer.
func (bp *bufferPool) copyPooled(dst io.Writer, src io.Reader) (int64, error) {
	buf := bp.Get()
	defer bp.Put(buf)
	// hide WriterTo so the pooled buffer is actually used
	return io.CopyBuffer(dst, struct{ io.Reader }{src}, buf)
}
