package indexer

// HeightCursor walks the heights (watermark, finalized] in increasing order, optionally capped
// to a number of heights per run. It holds no state worth persisting: a new run builds a new
// cursor from the stored watermark.
type HeightCursor struct {
	next uint64
	last uint64
	done bool
}

// NewHeightCursor returns a cursor over [watermark+1, finalized]. A limit of zero means no cap.
func NewHeightCursor(watermark, finalized, limit uint64) *HeightCursor {
	c := &HeightCursor{next: watermark + 1, last: finalized}
	if finalized <= watermark {
		c.done = true
		return c
	}
	if limit > 0 && finalized-watermark > limit {
		c.last = watermark + limit
	}
	return c
}

// Next returns the next height, or false once the range is exhausted.
func (c *HeightCursor) Next() (uint64, bool) {
	if c.done || c.next > c.last {
		c.done = true
		return 0, false
	}
	h := c.next
	c.next++
	return h, true
}

// Remaining is the number of heights Next will still return.
func (c *HeightCursor) Remaining() uint64 {
	if c.done || c.next > c.last {
		return 0
	}
	return c.last - c.next + 1
}

// Last is the final height of the range.
func (c *HeightCursor) Last() uint64 {
	return c.last
}
