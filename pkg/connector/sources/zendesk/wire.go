package zendesk

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"github.com/ajitpratap0/deskstream/pkg/json"
	"github.com/ajitpratap0/deskstream/pkg/models"
	"github.com/guregu/null"
	"github.com/tidwall/gjson"
)

// ticketPage is one response of the incremental cursor export. Pages carry
// their items under "tickets"; "items" is accepted as well.
type ticketPage struct {
	Tickets     []json.RawMessage `json:"tickets"`
	Items       []json.RawMessage `json:"items"`
	AfterCursor *string           `json:"after_cursor"`
	EndOfStream bool              `json:"end_of_stream"`
}

func (p *ticketPage) raw() []json.RawMessage {
	if len(p.Tickets) > 0 {
		return p.Tickets
	}
	return p.Items
}

type wireVia struct {
	Channel null.String `json:"channel"`
}

type wireTicket struct {
	ID          int64           `json:"id"`
	Subject     null.String     `json:"subject"`
	Description null.String     `json:"description"`
	Status      null.String     `json:"status"`
	Priority    null.String     `json:"priority"`
	Tags        []string        `json:"tags"`
	Via         *wireVia        `json:"via"`
	AssigneeID  null.Int        `json:"assignee_id"`
	Requester   json.RawMessage `json:"requester"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

type commentsPage struct {
	Comments []wireComment `json:"comments"`
	NextPage *string       `json:"next_page"`
}

type wireComment struct {
	ID        int64   `json:"id"`
	Body      string  `json:"body"`
	AuthorID  int64   `json:"author_id"`
	Public    *bool   `json:"public"`
	CreatedAt *string `json:"created_at"`
}

// decodeTicket decodes and validates one raw stream item. Every failure is a
// data error.
func decodeTicket(raw json.RawMessage) (*models.Ticket, error) {
	var w wireTicket
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeData, "malformed ticket")
	}
	if w.ID <= 0 {
		return nil, deskerrors.New(deskerrors.ErrorTypeData, "ticket id missing or not positive")
	}

	createdAt, err := parseTimestamp("created_at", w.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTimestamp("updated_at", w.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t := &models.Ticket{
		ID:          w.ID,
		Subject:     w.Subject,
		Description: w.Description,
		Status:      w.Status,
		Priority:    w.Priority,
		AssigneeID:  w.AssigneeID,
		Tags:        w.Tags,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if w.Via != nil {
		t.Channel = w.Via.Channel
	}
	// requester is only an object when sideloaded
	if req := gjson.ParseBytes(w.Requester); req.IsObject() {
		if email := req.Get("email"); email.Type == gjson.String {
			t.RequesterEmail = null.StringFrom(email.String())
		}
	}
	return t, nil
}

func parseTimestamp(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, deskerrors.Newf(deskerrors.ErrorTypeData, "%s missing", field)
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, deskerrors.Wrap(err, deskerrors.ErrorTypeData, fmt.Sprintf("invalid %s", field))
	}
	return ts.UTC(), nil
}

func (c wireComment) toModel() models.Comment {
	m := models.Comment{
		ID:       c.ID,
		Body:     c.Body,
		AuthorID: c.AuthorID,
		Public:   true,
	}
	if c.Public != nil {
		m.Public = *c.Public
	}
	if c.CreatedAt != nil {
		if ts, err := time.Parse(time.RFC3339, *c.CreatedAt); err == nil {
			m.CreatedAt = null.TimeFrom(ts.UTC())
		}
	}
	return m
}

// rawTicketID pulls the id out of an item that failed to decode, for logs.
func rawTicketID(raw json.RawMessage) string {
	id := gjson.GetBytes(raw, "id")
	if !id.Exists() {
		return "unknown"
	}
	return id.String()
}
