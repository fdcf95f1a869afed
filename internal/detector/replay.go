package detector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ReplaySource reads recorded landmark frames from a JSON-lines stream.
//
// Each line is one frame and holds either:
//
//	null                                  no hand detected
//	[[x,y,z], ... 21 triples]             bare landmark list
//	{"points":[{"x":..,"y":..,"z":..}...]} a HandLandmarks object
//
// Blank lines are skipped. Next returns ErrSourceClosed after the last frame.
type ReplaySource struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
}

// NewReplaySource reads frames from r. If r is an io.Closer it is closed by Close.
func NewReplaySource(r io.Reader) *ReplaySource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	s := &ReplaySource{scanner: scanner}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenReplayFile opens a JSON-lines landmark recording.
func OpenReplayFile(path string) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	return NewReplaySource(f), nil
}

// Next returns the next recorded frame.
func (s *ReplaySource) Next(ctx context.Context) (*HandLandmarks, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("read replay line %d: %w", s.line+1, err)
			}
			return nil, ErrSourceClosed
		}
		s.line++

		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		hand, err := parseFrame(line)
		if err != nil {
			return nil, fmt.Errorf("replay line %d: %w", s.line, err)
		}
		return hand, nil
	}
}

// Close closes the underlying reader when it owns one.
func (s *ReplaySource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func parseFrame(line []byte) (*HandLandmarks, error) {
	switch line[0] {
	case 'n':
		if string(line) != "null" {
			return nil, fmt.Errorf("unexpected token %q", line)
		}
		return nil, nil

	case '[':
		var triples [][3]float64
		if err := json.Unmarshal(line, &triples); err != nil {
			return nil, fmt.Errorf("parse landmark list: %w", err)
		}
		points := make([]Point3D, len(triples))
		for i, t := range triples {
			points[i] = Point3D{X: t[0], Y: t[1], Z: t[2]}
		}
		return FromPoints(points)

	case '{':
		var raw struct {
			Points     []Point3D `json:"points"`
			Handedness string    `json:"handedness"`
			Score      float64   `json:"score"`
		}
		if err := json.Unmarshal(line, &raw); err != nil {
			return nil, fmt.Errorf("parse landmark object: %w", err)
		}
		hand, err := FromPoints(raw.Points)
		if err != nil {
			return nil, err
		}
		hand.Handedness = raw.Handedness
		hand.Score = raw.Score
		return hand, nil
	}

	return nil, fmt.Errorf("unexpected frame encoding starting with %q", line[0])
}
