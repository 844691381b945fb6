// Package models defines the ticket record shared by the source, the sink
// adapter and every storage backend, plus the column schema of the raw
// tickets table.
package models

import (
	"time"

	"github.com/ajitpratap0/deskstream/pkg/json"
	"github.com/guregu/null"
)

// Ticket is one support ticket as ingested from upstream.
type Ticket struct {
	// ID is the upstream ticket id, unique in the sink
	ID int64 `json:"ticket_id"`

	Subject        null.String `json:"subject"`
	Description    null.String `json:"description"`
	Channel        null.String `json:"channel"`
	Status         null.String `json:"status"`
	Priority       null.String `json:"priority"`
	RequesterEmail null.String `json:"requester_email"`
	AssigneeID     null.Int    `json:"assignee_id"`

	// Comments in upstream order
	Comments []Comment `json:"comments"`
	Tags     []string  `json:"tags"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// IngestedAt is stamped by the sink adapter at write time
	IngestedAt time.Time `json:"ingested_at"`
}

// Comment is a single ticket comment.
type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	AuthorID  int64     `json:"author_id"`
	Public    bool      `json:"public"`
	CreatedAt null.Time `json:"created_at"`
}

// CommentsJSON renders the comments column. An empty thread renders as "[]".
func (t *Ticket) CommentsJSON() (string, error) {
	if len(t.Comments) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(t.Comments)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// TagsOrEmpty never returns nil, REPEATED and array columns reject NULL.
func (t *Ticket) TagsOrEmpty() []string {
	if t.Tags == nil {
		return []string{}
	}
	return t.Tags
}

// IDs returns the ticket ids in batch order.
func IDs(tickets []*Ticket) []int64 {
	ids := make([]int64, len(tickets))
	for i, t := range tickets {
		ids[i] = t.ID
	}
	return ids
}
