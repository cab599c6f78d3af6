package streaming

import "strings"

// DonePayload is the SSE sentinel that signals stream end (§6, §4.6).
const DonePayload = "[DONE]"

// Frame is one fully-parsed SSE event: the accumulated "data:" payload
// (multi-line values concatenated with "\n") and the optional "event:"
// field.
type Frame struct {
	Event string
	Data  string
}

// MalformedLine records a line the framer could not classify as a
// recognized SSE field. It is never fatal: the framer drops the line
// and continues (§4.6 point 3).
type MalformedLine struct {
	Line string
}

// Framer is an incremental, byte-fed SSE state machine. It does not
// line-buffer against a fixed-size scanner the way a bufio.Scanner
// does; it accumulates exactly the bytes needed for the current line
// across calls to Feed, so it has no maximum line length and is a pure
// left fold: Feed(a++b) observes the same frames, in the same order,
// as Feed(a) followed by Feed(b), regardless of where the boundary
// between a and b falls (R2).
type Framer struct {
	pending []byte // bytes since the last terminated line

	curEvent     string
	curData      []string
	sawAnyField  bool
}

// NewFramer returns a fresh Framer with empty internal state.
func NewFramer() *Framer {
	return &Framer{}
}

// Feed appends chunk to the framer's internal buffer, extracts any
// complete lines, and returns the frames and malformed lines produced.
// Partial trailing lines are retained for the next Feed call.
func (f *Framer) Feed(chunk []byte) (frames []Frame, malformed []MalformedLine) {
	f.pending = append(f.pending, chunk...)

	start := 0
	buf := f.pending
scan:
	for i := 0; i < len(buf); i++ {
		switch buf[i] {
		case '\n':
			line := buf[start:i]
			if fr, bad, ok := f.consumeLine(trimCR(line)); ok {
				frames = append(frames, fr)
			} else if bad != nil {
				malformed = append(malformed, *bad)
			}
			start = i + 1
		case '\r':
			// A \r as the last buffered byte may be the first half of a
			// \r\n pair whose \n arrives in the next Feed call. Hold it
			// unconsumed until the following byte decides; emitting now
			// would make framing depend on read boundaries.
			if i+1 >= len(buf) {
				break scan
			}
			// \r followed by \n: let the \n case handle the pair
			// (trimCR strips the trailing \r there).
			if buf[i+1] == '\n' {
				continue
			}
			// Stray \r is itself a line terminator.
			line := buf[start:i]
			if fr, bad, ok := f.consumeLine(line); ok {
				frames = append(frames, fr)
			} else if bad != nil {
				malformed = append(malformed, *bad)
			}
			start = i + 1
		}
	}
	// Retain only the unterminated tail.
	if start > 0 {
		f.pending = append([]byte(nil), buf[start:]...)
	}
	return frames, malformed
}

func trimCR(line []byte) []byte {
	if len(line) > 0 && line[len(line)-1] == '\r' {
		return line[:len(line)-1]
	}
	return line
}

// consumeLine processes one terminated line against the in-progress
// event. A blank line ends the event and, if any field was seen,
// returns the assembled Frame.
func (f *Framer) consumeLine(line []byte) (frame Frame, malformed *MalformedLine, emitted bool) {
	s := string(line)
	if s == "" {
		if !f.sawAnyField {
			return Frame{}, nil, false
		}
		frame = Frame{Event: f.curEvent, Data: strings.Join(f.curData, "\n")}
		f.curEvent = ""
		f.curData = nil
		f.sawAnyField = false
		return frame, nil, true
	}

	if strings.HasPrefix(s, ":") {
		// SSE comment line; ignored, not malformed.
		return Frame{}, nil, false
	}

	field, value, hasColon := strings.Cut(s, ":")
	if hasColon {
		value = strings.TrimPrefix(value, " ")
	}
	switch field {
	case "data":
		f.curData = append(f.curData, value)
		f.sawAnyField = true
	case "event":
		f.curEvent = value
		f.sawAnyField = true
	case "id", "retry":
		// Recognized SSE fields the provider formats don't use; accepted
		// and ignored rather than treated as malformed.
		f.sawAnyField = true
	default:
		return Frame{}, &MalformedLine{Line: s}, false
	}
	return Frame{}, nil, false
}

// FeedRaw appends chunk to the framer's line buffer and returns the
// complete lines, without SSE field grouping. Newline-delimited JSON
// streams use this mode; the boundary-independence property of Feed
// holds here too.
func (f *Framer) FeedRaw(chunk []byte) [][]byte {
	f.pending = append(f.pending, chunk...)

	var lines [][]byte
	start := 0
	buf := f.pending
	for i := 0; i < len(buf); i++ {
		if buf[i] == '\n' {
			line := trimCR(buf[start:i])
			lines = append(lines, append([]byte(nil), line...))
			start = i + 1
		}
	}
	if start > 0 {
		f.pending = append([]byte(nil), buf[start:]...)
	}
	return lines
}

// IsDone reports whether a frame's payload is the end-of-stream sentinel.
func IsDone(frame Frame) bool {
	return strings.TrimSpace(frame.Data) == DonePayload
}
