package utils

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

var ErrPipeClosed = errors.New("byte pipe closed")

// BytePipe is an in-memory pipe where writes never block. Readers wait until there
// is data or the pipe is closed. Used to feed a player while audio is still arriving.
type BytePipe struct {
	buf    bytes.Buffer
	mu     sync.Mutex
	closed bool
	cond   *sync.Cond
}

func NewBytePipe() *BytePipe {
	bp := &BytePipe{}
	bp.cond = sync.NewCond(&bp.mu)
	return bp
}

func (bp *BytePipe) Write(p []byte) (n int, err error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.closed {
		return 0, ErrPipeClosed
	}
	n, err = bp.buf.Write(p)
	bp.cond.Broadcast()
	return
}

// Read blocks until data is available, then returns io.EOF once closed and drained.
func (bp *BytePipe) Read(p []byte) (n int, err error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for bp.buf.Len() == 0 && !bp.closed {
		bp.cond.Wait()
	}
	if bp.buf.Len() == 0 {
		return 0, io.EOF
	}
	return bp.buf.Read(p)
}

// Len is the number of unread bytes.
func (bp *BytePipe) Len() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.buf.Len()
}

// Close makes further writes fail. Pending data can still be read.
func (bp *BytePipe) Close() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.closed = true
	bp.cond.Broadcast()
	return nil
}
