package ubx

// Result is the outcome of feeding one byte to a Parser.
type Result uint8

const (
	// Incomplete means more bytes are needed.
	Incomplete Result = iota
	// Complete means Frame() holds a valid frame.
	Complete
	// Resync means a frame failed its checksum and was discarded.
	Resync
)

func (r Result) String() string {
	switch r {
	case Incomplete:
		return "incomplete"
	case Complete:
		return "complete"
	case Resync:
		return "resync"
	default:
		return "unknown"
	}
}

type parserState uint8

const (
	stateSync1 parserState = iota
	stateSync2
	stateClass
	stateID
	stateLen1
	stateLen2
	statePayload
	stateCkA
	stateCkB
)

// ParserStats counts parser outcomes since creation.
type ParserStats struct {
	Frames    uint64
	Resyncs   uint64
	Truncated uint64
}

// Parser decodes a UBX byte stream one byte at a time. Malformed input never
// produces an error: the parser drops the frame and looks for the next sync.
//
// The zero value is ready to use.
type Parser struct {
	state    parserState
	frame    Frame
	count    int
	ckA, ckB byte
	rxCkA    byte
	stats    ParserStats
}

// Push consumes one byte.
func (p *Parser) Push(b byte) Result {
	switch p.state {
	case stateSync1:
		if b == Sync1 {
			p.state = stateSync2
		}
	case stateSync2:
		switch b {
		case Sync2:
			p.state = stateClass
		case Sync1:
			// B5 B5 62: the second B5 may start the frame.
		default:
			p.state = stateSync1
		}
	case stateClass:
		p.frame.Class = b
		p.frame.ID = 0
		p.frame.Length = 0
		p.frame.Stored = 0
		p.count = 0
		p.ckA, p.ckB = 0, 0
		p.sum(b)
		p.state = stateID
	case stateID:
		p.frame.ID = b
		p.sum(b)
		p.state = stateLen1
	case stateLen1:
		p.frame.Length = uint16(b)
		p.sum(b)
		p.state = stateLen2
	case stateLen2:
		p.frame.Length |= uint16(b) << 8
		p.sum(b)
		if p.frame.Length == 0 {
			p.state = stateCkA
		} else {
			p.state = statePayload
		}
	case statePayload:
		p.sum(b)
		if p.count < len(p.frame.Payload) {
			p.frame.Payload[p.count] = b
			p.frame.Stored++
		}
		p.count++
		if p.count >= int(p.frame.Length) {
			p.state = stateCkA
		}
	case stateCkA:
		p.rxCkA = b
		p.state = stateCkB
	case stateCkB:
		p.state = stateSync1
		if p.rxCkA != p.ckA || b != p.ckB {
			p.stats.Resyncs++
			return Resync
		}
		p.stats.Frames++
		if p.frame.Truncated() {
			p.stats.Truncated++
		}
		return Complete
	}
	return Incomplete
}

func (p *Parser) sum(b byte) {
	p.ckA += b
	p.ckB += p.ckA
}

// Frame returns the last completed frame. It is only meaningful right after
// Push returned Complete and is overwritten by the next frame.
func (p *Parser) Frame() *Frame {
	return &p.frame
}

// Reset drops any partially parsed frame.
func (p *Parser) Reset() {
	p.state = stateSync1
	p.count = 0
}

func (p *Parser) Stats() ParserStats {
	return p.stats
}
