package zendesk

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Cursor is the opaque continuation token returned by the export endpoint.
// Only the upstream API advances it.
type Cursor string

// Position identifies a stream page request, by cursor or by start time when
// no cursor exists yet, plus how many raw items of that page were already
// consumed. Positions are values: FetchPage takes one and returns new ones.
type Position struct {
	Cursor    Cursor
	StartTime time.Time
	Offset    int
}

// IsZero reports whether the position names no request at all.
func (p Position) IsZero() bool {
	return p.Cursor == "" && p.StartTime.IsZero() && p.Offset == 0
}

// WithOffset returns the same page request with a different offset.
func (p Position) WithOffset(offset int) Position {
	p.Offset = offset
	return p
}

// SamePage reports whether p and o address the same page request.
func (p Position) SamePage(o Position) bool {
	return p.Cursor == o.Cursor && p.StartTime.Equal(o.StartTime)
}

func (p Position) String() string {
	switch {
	case p.Cursor != "":
		return fmt.Sprintf("cursor:%s+%d", p.Cursor, p.Offset)
	case !p.StartTime.IsZero():
		return fmt.Sprintf("start_time:%d+%d", p.StartTime.Unix(), p.Offset)
	default:
		return "start"
	}
}

// query returns the request parameters. The cursor wins over the start time.
func (p Position) query() url.Values {
	q := url.Values{}
	if p.Cursor != "" {
		q.Set("cursor", string(p.Cursor))
	} else {
		q.Set("start_time", strconv.FormatInt(p.StartTime.Unix(), 10))
	}
	return q
}
