package rpc

import (
	"io"
	"sync"
)

// pipeConn is an in-memory duplex channel for transport tests. Closing
// either end fails both directions, mirroring a dropped socket.
type pipeConn struct {
	in   chan []byte
	out  chan []byte
	done chan struct{}
	once *sync.Once
}

func newPipePair() (*pipeConn, *pipeConn) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &pipeConn{in: ba, out: ab, done: done, once: once}
	b := &pipeConn{in: ab, out: ba, done: done, once: once}
	return a, b
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *pipeConn) WriteMessage(data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return io.ErrClosedPipe
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
