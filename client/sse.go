package client

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/hupe1980/agentrelay/core"
)

// sseFrame is one Server-Sent Event read off the wire. Data joins all data
// lines of the frame with newlines, per the SSE specification.
type sseFrame struct {
	Type string
	Data string
}

// sseScanner reads Server-Sent Events from an io.Reader. Frames are
// delimited by blank lines; "data:" lines accumulate the payload, "event:"
// sets the frame type, comment lines (leading ":") and unknown fields are
// skipped.
type sseScanner struct {
	reader  *bufio.Reader
	current sseFrame
	err     error
}

func newSSEScanner(r io.Reader) *sseScanner {
	return &sseScanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next frame, reporting false at end of stream. Err
// distinguishes clean EOF from transport errors afterwards.
func (s *sseScanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.current = sseFrame{}

	var dataLines []string
	var frameType string

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			// A frame that was still accumulating when the stream
			// ended is emitted before reporting the end.
			if err == io.EOF && len(dataLines) > 0 {
				s.current = sseFrame{Type: frameType, Data: strings.Join(dataLines, "\n")}
				s.err = io.EOF
				return true
			}
			s.err = err
			return false
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if len(dataLines) > 0 {
				s.current = sseFrame{Type: frameType, Data: strings.Join(dataLines, "\n")}
				return true
			}
			frameType = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			// One leading space after the colon is part of the
			// delimiter, not the value.
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
		case "event":
			frameType = value
		}
	}
}

// Frame returns the most recently scanned frame. Valid only after Next
// reported true.
func (s *sseScanner) Frame() sseFrame {
	return s.current
}

// Err returns the first transport error; nil when the stream ended cleanly.
func (s *sseScanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}

// EventStream iterates over the client events of one response. Frames that
// do not decode as client events are skipped, so interleaved comments or
// foreign frame types never abort a response.
type EventStream struct {
	body    io.ReadCloser
	scanner *sseScanner
	current core.ClientEvent
}

func newEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{body: body, scanner: newSSEScanner(body)}
}

// Next advances to the next event, reporting false when the stream ends.
func (s *EventStream) Next() bool {
	for s.scanner.Next() {
		var ev core.ClientEvent
		if err := json.Unmarshal([]byte(s.scanner.Frame().Data), &ev); err != nil {
			continue
		}
		s.current = ev
		return true
	}
	return false
}

// Event returns the most recently decoded event. Valid only after Next
// reported true.
func (s *EventStream) Event() core.ClientEvent {
	return s.current
}

// Err returns the first transport error; nil when the stream ended cleanly.
func (s *EventStream) Err() error {
	return s.scanner.Err()
}

// Close releases the underlying connection. Closing mid-stream cancels the
// response on the server.
func (s *EventStream) Close() error {
	return s.body.Close()
}
