package rag

import (
	"fmt"
	"strings"
)

// MergeSegments groups one recording's ordered segments into passages of
// groupSize segments each; the last passage holds the remainder.
// Every passage carries the number and title of the recording's first segment.
func MergeSegments(segments []Segment, groupSize int) ([]Passage, error) {
	if groupSize <= 0 {
		return nil, fmt.Errorf("%w: group size must be positive, got %d", ErrInvalidArgument, groupSize)
	}
	if len(segments) == 0 {
		return []Passage{}, nil
	}

	first := segments[0]
	passages := make([]Passage, 0, (len(segments)+groupSize-1)/groupSize)
	texts := make([]string, 0, groupSize)

	for lo := 0; lo < len(segments); lo += groupSize {
		hi := min(lo+groupSize, len(segments))
		group := segments[lo:hi]

		texts = texts[:0]
		for _, s := range group {
			texts = append(texts, s.Text)
		}

		passages = append(passages, Passage{
			RecordingNumber: first.RecordingNumber,
			Title:           first.Title,
			Start:           group[0].Start,
			End:             group[len(group)-1].End,
			Text:            strings.Join(texts, " "),
		})
	}

	return passages, nil
}
