// Package transcript implements the budget-critical caption acquisition
// pipeline: persona-based video-info retrieval, isolated caption download,
// payload decoding, and the last-resort audio transcription fallback.
package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/revradar/retrieval-engine/internal/retrieval"
)

// Segment is one timed caption cue. Produced only by successful decoding;
// an empty segment list is a failure, never an empty success.
type Segment struct {
	Start    time.Duration
	Duration time.Duration
	Text     string
}

// Decode parses a caption payload into ordered segments, detecting the
// format: a JSON event list or a subtitle cue file. Empty decode output is a
// DecodeFailure.
func Decode(payload []byte) ([]Segment, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, retrieval.NewFailure(retrieval.DecodeFailure, "empty caption payload")
	}

	var (
		segments []Segment
		err      error
	)
	switch {
	case trimmed[0] == '{':
		segments, err = decodeJSONEvents(trimmed)
	case bytes.HasPrefix(trimmed, []byte("WEBVTT")):
		segments, err = decodeVTT(trimmed)
	default:
		return nil, retrieval.NewFailure(retrieval.DecodeFailure, "unrecognized caption format")
	}
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, retrieval.NewFailure(retrieval.DecodeFailure, "caption payload decoded to zero segments")
	}
	return segments, nil
}

// jsonEvents is the JSON event-list caption format: events carry a start
// offset, duration, and text runs.
type jsonEvents struct {
	Events []struct {
		StartMs    int64 `json:"tStartMs"`
		DurationMs int64 `json:"dDurationMs"`
		Segs       []struct {
			Text string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

func decodeJSONEvents(payload []byte) ([]Segment, error) {
	var decoded jsonEvents
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, retrieval.NewFailure(retrieval.DecodeFailure, "parse caption json: %v", err)
	}
	segments := make([]Segment, 0, len(decoded.Events))
	for _, ev := range decoded.Events {
		var sb strings.Builder
		for _, seg := range ev.Segs {
			sb.WriteString(seg.Text)
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			Start:    time.Duration(ev.StartMs) * time.Millisecond,
			Duration: time.Duration(ev.DurationMs) * time.Millisecond,
			Text:     text,
		})
	}
	return segments, nil
}

// decodeVTT parses the subtitle cue format: a WEBVTT header followed by
// "start --> end" cue blocks.
func decodeVTT(payload []byte) ([]Segment, error) {
	var segments []Segment
	lines := strings.Split(string(payload), "\n")
	i := 0
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		i++
		if !strings.Contains(line, "-->") {
			continue
		}
		parts := strings.SplitN(line, "-->", 2)
		endFields := strings.Fields(strings.TrimSpace(parts[1]))
		if len(endFields) == 0 {
			return nil, retrieval.NewFailure(retrieval.DecodeFailure, "malformed cue timing %q", line)
		}
		start, serr := parseVTTTimestamp(strings.TrimSpace(parts[0]))
		end, eerr := parseVTTTimestamp(endFields[0])
		if serr != nil || eerr != nil {
			return nil, retrieval.NewFailure(retrieval.DecodeFailure, "malformed cue timing %q", line)
		}

		var textLines []string
		for i < len(lines) {
			t := strings.TrimSpace(lines[i])
			if t == "" {
				break
			}
			textLines = append(textLines, stripCueMarkup(t))
			i++
		}
		text := strings.TrimSpace(strings.Join(textLines, " "))
		if text == "" {
			continue
		}
		dur := end - start
		if dur < 0 {
			dur = 0
		}
		segments = append(segments, Segment{Start: start, Duration: dur, Text: text})
	}
	return segments, nil
}

// parseVTTTimestamp parses "HH:MM:SS.mmm" or "MM:SS.mmm".
func parseVTTTimestamp(raw string) (time.Duration, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("timestamp %q", raw)
	}
	var hours, minutes int
	var secs float64
	var err error
	idx := 0
	if len(parts) == 3 {
		if hours, err = strconv.Atoi(parts[0]); err != nil {
			return 0, fmt.Errorf("timestamp %q: %w", raw, err)
		}
		idx = 1
	}
	if minutes, err = strconv.Atoi(parts[idx]); err != nil {
		return 0, fmt.Errorf("timestamp %q: %w", raw, err)
	}
	if secs, err = strconv.ParseFloat(parts[idx+1], 64); err != nil {
		return 0, fmt.Errorf("timestamp %q: %w", raw, err)
	}
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(secs*float64(time.Second)), nil
}

// stripCueMarkup removes inline cue tags like <c> and timing tags.
func stripCueMarkup(s string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// JoinText concatenates segment text in order, space-separated.
func JoinText(segments []Segment) string {
	var sb strings.Builder
	for _, seg := range segments {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(seg.Text)
	}
	return sb.String()
}
