// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package uplink

// Chunk is the body of one upload request: newline-terminated records,
// always shorter than its ceiling. The backing array is allocated once.
type Chunk struct {
	buf     []byte
	ceiling int
}

// NewChunk returns an empty chunk that holds fewer than ceiling bytes.
func NewChunk(ceiling int) *Chunk {
	return &Chunk{buf: make([]byte, 0, ceiling), ceiling: ceiling}
}

// Fits reports whether record plus its newline can be appended while
// staying below the ceiling.
func (c *Chunk) Fits(record string) bool {
	return len(c.buf)+len(record)+1 < c.ceiling
}

// Append adds record and a newline if it fits, and reports whether it did.
func (c *Chunk) Append(record string) bool {
	if !c.Fits(record) {
		return false
	}
	c.buf = append(c.buf, record...)
	c.buf = append(c.buf, '\n')
	return true
}

func (c *Chunk) Reset()        { c.buf = c.buf[:0] }
func (c *Chunk) Len() int      { return len(c.buf) }
func (c *Chunk) Bytes() []byte { return c.buf }
