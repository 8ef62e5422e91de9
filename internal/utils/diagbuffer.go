package utils

import (
	"strings"
	"sync"
)

const defaultDiagCapacity = 8 * 1024

// DiagBuffer is a bounded, concurrency-safe buffer keeping the tail of a
// process's diagnostic output for later classification.
type DiagBuffer struct {
	mu  sync.Mutex
	buf []byte
	cap int
}

func NewDiagBuffer() *DiagBuffer {
	return &DiagBuffer{cap: defaultDiagCapacity}
}

func (d *DiagBuffer) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf = append(d.buf, p...)
	if len(d.buf) > d.cap {
		d.buf = d.buf[len(d.buf)-d.cap:]
	}
	return len(p), nil
}

func (d *DiagBuffer) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return strings.TrimSpace(string(d.buf))
}
