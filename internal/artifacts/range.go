package artifacts

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Span is an inclusive byte range.
type Span struct {
	First int64
	Last  int64
}

func (s Span) Length() int64 { return s.Last - s.First + 1 }

func (s Span) Header(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", s.First, s.Last, total)
}

// ParseRange reads a single-range Range header. Only the first range of a
// multi-range request is honoured. An empty header yields nil.
func ParseRange(header string, size int64) (*Span, error) {
	if header == "" {
		return nil, nil
	}
	rangeSet, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, ErrInvalidRange
	}
	rangeSet, _, _ = strings.Cut(rangeSet, ",")
	from, to, ok := strings.Cut(strings.TrimSpace(rangeSet), "-")
	if !ok {
		return nil, ErrInvalidRange
	}

	var span Span
	if from == "" {
		n, err := strconv.ParseInt(to, 10, 64)
		if err != nil || n <= 0 {
			return nil, ErrInvalidRange
		}
		span = Span{First: max(size-n, 0), Last: size - 1}
	} else {
		first, err := strconv.ParseInt(from, 10, 64)
		if err != nil || first < 0 {
			return nil, ErrInvalidRange
		}
		last := size - 1
		if to != "" {
			if last, err = strconv.ParseInt(to, 10, 64); err != nil {
				return nil, ErrInvalidRange
			}
		}
		span = Span{First: first, Last: last}
	}

	if span.First > span.Last || span.First >= size {
		return nil, ErrUnsatisfiable
	}
	span.Last = min(span.Last, size-1)
	return &span, nil
}
