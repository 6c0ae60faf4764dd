package winc

import (
	"errors"
	"io"
)

// Sticky-error wrapper around the programmer serial stream. Lets a
// command exchange be written as straight-line WritePass/ReadPass calls
// and checked once at the end; after the first failure every later call
// is a no-op returning nothing.
type ReadWriteErrorPass struct {
	rw  io.ReadWriter
	err error
}

func (rwep *ReadWriteErrorPass) loop(b []byte, f func([]byte) (int, error)) (int, error) {
	if rwep.err != nil {
		return 0, rwep.err
	}
	total := 0
	slice := b
	for total < len(b) {
		count, err := f(slice)
		if err != nil {
			rwep.err = err
			return total, err
		}
		if count == 0 {
			rwep.err = errors.New("PROGRAM ERROR: serial transfer made no progress!")
			return total, rwep.err
		}
		total += count
		slice = slice[count:]
	}
	return total, nil
}

// Write the whole buffer or record the failure (blocking).
func (rwep *ReadWriteErrorPass) Write(b []byte) (int, error) {
	return rwep.loop(b, rwep.rw.Write)
}

// Fill the whole buffer or record the failure (blocking).
func (rwep *ReadWriteErrorPass) Read(b []byte) (int, error) {
	return rwep.loop(b, rwep.rw.Read)
}

func (rwep *ReadWriteErrorPass) WritePass(b []byte) int {
	val, _ := rwep.Write(b)
	return val
}

func (rwep *ReadWriteErrorPass) ReadPass(b []byte) int {
	val, _ := rwep.Read(b)
	return val
}

func (rwep *ReadWriteErrorPass) IsPass() error {
	return rwep.err
}
