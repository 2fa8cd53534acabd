package realtime

import "encoding/json"

// StrokePayload is the body of a stroke_added event.
type StrokePayload struct {
	TurnNumber  int             `json:"turn_number"`
	Seq         int             `json:"seq"`
	Epoch       int             `json:"epoch"`
	StrokeIndex int             `json:"stroke_index"`
	Clear       bool            `json:"clear"`
	UserID      string          `json:"user_id"`
	Data        json.RawMessage `json:"stroke_data,omitempty"`
}

// CanvasReplay rebuilds the visible canvas of the current turn from stroke
// events that may arrive duplicated or out of order. A clear carries the
// epoch it opens; anything from an older epoch or with an index not above
// the last one applied is ignored.
type CanvasReplay struct {
	turn      int
	epoch     int
	lastIndex int
	strokes   []StrokePayload
}

func NewCanvasReplay() *CanvasReplay {
	return &CanvasReplay{lastIndex: -1}
}

// Apply feeds one event and reports whether it changed the canvas.
func (c *CanvasReplay) Apply(p StrokePayload) bool {
	switch {
	case p.TurnNumber < c.turn:
		return false
	case p.TurnNumber > c.turn:
		c.turn = p.TurnNumber
		c.reset(0)
	}

	if p.Epoch < c.epoch {
		return false
	}
	if p.Clear {
		if p.Epoch == c.epoch {
			return false
		}
		c.reset(p.Epoch)
		return true
	}
	if p.Epoch > c.epoch {
		// the clear that opened this epoch has not arrived yet
		c.reset(p.Epoch)
	}
	if p.StrokeIndex <= c.lastIndex {
		return false
	}
	c.lastIndex = p.StrokeIndex
	c.strokes = append(c.strokes, p)
	return true
}

func (c *CanvasReplay) reset(epoch int) {
	c.epoch = epoch
	c.lastIndex = -1
	c.strokes = nil
}

// Strokes returns the strokes currently visible, oldest first.
func (c *CanvasReplay) Strokes() []StrokePayload {
	out := make([]StrokePayload, len(c.strokes))
	copy(out, c.strokes)
	return out
}

func (c *CanvasReplay) Turn() int  { return c.turn }
func (c *CanvasReplay) Epoch() int { return c.epoch }
