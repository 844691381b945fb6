package zendesk

import (
	"strconv"
	"testing"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"github.com/ajitpratap0/deskstream/pkg/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseInt(t *testing.T, s string) int64 {
	t.Helper()
	n, err := strconv.ParseInt(s, 10, 64)
	require.NoError(t, err)
	return n
}

func TestDecodeTicket(t *testing.T) {
	raw := json.RawMessage(`{
		"id": 42,
		"subject": "Refund",
		"description": null,
		"status": "pending",
		"tags": ["billing", "vip"],
		"via": {"channel": "web"},
		"assignee_id": null,
		"requester": {"email": "jo@example.com"},
		"created_at": "2024-01-02T03:04:05Z",
		"updated_at": "2024-01-03T03:04:05+02:00"
	}`)

	ticket, err := decodeTicket(raw)
	require.NoError(t, err)

	assert.Equal(t, int64(42), ticket.ID)
	assert.Equal(t, "Refund", ticket.Subject.String)
	assert.False(t, ticket.Description.Valid)
	assert.False(t, ticket.Priority.Valid)
	assert.False(t, ticket.AssigneeID.Valid)
	assert.Equal(t, "web", ticket.Channel.String)
	assert.Equal(t, "jo@example.com", ticket.RequesterEmail.String)
	assert.Equal(t, []string{"billing", "vip"}, ticket.Tags)
	assert.Equal(t, time.Date(2024, 1, 3, 1, 4, 5, 0, time.UTC), ticket.UpdatedAt)
}

func TestDecodeTicketRequesterNotObject(t *testing.T) {
	ticket, err := decodeTicket(json.RawMessage(
		`{"id":1,"requester":17,"created_at":"2024-01-02T03:04:05Z","updated_at":"2024-01-02T03:04:05Z"}`))
	require.NoError(t, err)
	assert.False(t, ticket.RequesterEmail.Valid)
	assert.False(t, ticket.Channel.Valid)
	assert.Equal(t, []string{}, ticket.Tags)
}

func TestDecodeTicketRejects(t *testing.T) {
	tests := map[string]string{
		"not json":        `{"id":`,
		"no id":           `{"created_at":"2024-01-02T03:04:05Z","updated_at":"2024-01-02T03:04:05Z"}`,
		"negative id":     `{"id":-1,"created_at":"2024-01-02T03:04:05Z","updated_at":"2024-01-02T03:04:05Z"}`,
		"string id":       `{"id":"x","created_at":"2024-01-02T03:04:05Z","updated_at":"2024-01-02T03:04:05Z"}`,
		"missing updated": `{"id":1,"created_at":"2024-01-02T03:04:05Z"}`,
		"bad created":     `{"id":1,"created_at":"Jan 2","updated_at":"2024-01-02T03:04:05Z"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := decodeTicket(json.RawMessage(raw))
			require.Error(t, err)
			assert.True(t, deskerrors.IsType(err, deskerrors.ErrorTypeData))
		})
	}
}

func TestCommentDefaults(t *testing.T) {
	c := wireComment{ID: 1, Body: "hi"}.toModel()
	assert.True(t, c.Public, "public defaults to true")
	assert.False(t, c.CreatedAt.Valid)
}

func TestRawTicketID(t *testing.T) {
	assert.Equal(t, "17", rawTicketID(json.RawMessage(`{"id":17}`)))
	assert.Equal(t, "unknown", rawTicketID(json.RawMessage(`{"subject":"x"}`)))
}

func TestPositionQuery(t *testing.T) {
	st := time.Unix(1700000000, 0)
	assert.Equal(t, "start_time=1700000000", Position{StartTime: st}.query().Encode())
	assert.Equal(t, "cursor=abc", Position{Cursor: "abc", StartTime: st}.query().Encode())
	assert.True(t, Position{}.IsZero())
	assert.False(t, Position{Offset: 3}.IsZero())
	assert.Equal(t, "cursor:abc+2", Position{Cursor: "abc", Offset: 2}.String())
}
