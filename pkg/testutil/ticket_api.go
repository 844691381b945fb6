package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/json"
)

// StreamPath and the comments path pattern served by TicketAPI.
const (
	StreamPath   = "/incremental/tickets/cursor.json"
	CommentsPath = "/tickets/%d/comments.json"
)

// BaseTime is the created_at of the first generated ticket.
var BaseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	id        int64
	updatedAt time.Time
	raw       string // replaces the generated JSON when set
}

// TicketAPI is an httptest fake of the incremental ticket export. The stream
// is append-only: a cursor "c<N>" addresses the Nth entry, so cursors stay
// valid when tickets are touched or added. ServeLatestOnly switches to an
// export without cursors.
type TicketAPI struct {
	Server *httptest.Server

	mu       sync.Mutex
	entries  []fixture
	pageSize int
	itemsKey string
	latest   bool

	splitComments   map[int64]bool
	missingComments map[int64]bool
	failComments    map[int64]int

	failAfter  int // stream pages served before failures start, -1 disables
	failStatus int
	failTimes  int // 0 fails forever
	failed     int

	remaining string // X-Rate-Limit-Remaining on every response

	streamRequests  []url.Values
	commentRequests int
	auth            []string
}

// NewTicketAPI serves n generated tickets with ids 1..n, pageSize per page.
// The server is closed when the test ends.
func NewTicketAPI(t *testing.T, n, pageSize int) *TicketAPI {
	t.Helper()

	api := &TicketAPI{
		pageSize:        pageSize,
		itemsKey:        "tickets",
		splitComments:   make(map[int64]bool),
		missingComments: make(map[int64]bool),
		failComments:    make(map[int64]int),
		failAfter:       -1,
	}
	for i := 1; i <= n; i++ {
		api.entries = append(api.entries, fixture{
			id:        int64(i),
			updatedAt: BaseTime.Add(time.Duration(i) * time.Minute),
		})
	}

	api.Server = httptest.NewServer(http.HandlerFunc(api.handle))
	t.Cleanup(api.Server.Close)
	return api
}

// URL is the API root to configure the transport with.
func (a *TicketAPI) URL() string {
	return a.Server.URL
}

// UseItemsKey serves pages under "items" instead of "tickets".
func (a *TicketAPI) UseItemsKey() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.itemsKey = "items"
}

// SetRaw replaces the JSON of the ticket with the given id.
func (a *TicketAPI) SetRaw(id int64, raw string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.entries {
		if a.entries[i].id == id {
			a.entries[i].raw = raw
		}
	}
}

// Touch appends a newer version of ticket id to the stream.
func (a *TicketAPI) Touch(id int64, updatedAt time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, fixture{id: id, updatedAt: updatedAt})
}

// ServeLatestOnly lists every ticket once at its newest version, ordered by
// updated_at, and answers after_cursor null. Only start_time pages the
// export, so the position of a ticket moves when an earlier one is touched.
func (a *TicketAPI) ServeLatestOnly() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latest = true
}

// SplitComments serves the comments of id over two pages.
func (a *TicketAPI) SplitComments(id int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.splitComments[id] = true
}

// MissingComments answers 404 for the comments of id.
func (a *TicketAPI) MissingComments(id int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.missingComments[id] = true
}

// FailComments answers status to every comments request of id.
func (a *TicketAPI) FailComments(id int64, status int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failComments[id] = status
}

// FailStream answers status to stream requests once pages pages were served.
// times bounds the number of failures, 0 fails forever.
func (a *TicketAPI) FailStream(pages, status, times int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failAfter = pages
	a.failStatus = status
	a.failTimes = times
	a.failed = 0
}

// SetRemaining sets the remaining-quota header of every response.
func (a *TicketAPI) SetRemaining(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.remaining = strconv.Itoa(n)
}

// StreamRequests returns the query of every stream request.
func (a *TicketAPI) StreamRequests() []url.Values {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]url.Values(nil), a.streamRequests...)
}

// CommentRequests counts comment requests.
func (a *TicketAPI) CommentRequests() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.commentRequests
}

// AuthUsers returns the basic-auth user of every request.
func (a *TicketAPI) AuthUsers() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.auth...)
}

// Len is the number of stream entries.
func (a *TicketAPI) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func (a *TicketAPI) handle(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	user, _, _ := r.BasicAuth()
	a.auth = append(a.auth, user)
	if a.remaining != "" {
		w.Header().Set("X-Rate-Limit-Remaining", a.remaining)
	}

	switch {
	case r.URL.Path == StreamPath:
		a.serveStream(w, r)
	case strings.HasPrefix(r.URL.Path, "/tickets/") && strings.HasSuffix(r.URL.Path, "/comments.json"):
		a.serveComments(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (a *TicketAPI) serveStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a.streamRequests = append(a.streamRequests, q)

	served := len(a.streamRequests) - 1 - a.failed
	if a.failAfter >= 0 && served >= a.failAfter && (a.failTimes == 0 || a.failed < a.failTimes) {
		a.failed++
		http.Error(w, `{"error":"injected"}`, a.failStatus)
		return
	}

	entries := a.entries
	if a.latest {
		entries = a.latestEntries()
	}

	start := 0
	if c := q.Get("cursor"); c != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(c, "c"))
		if err != nil || n < 0 {
			http.Error(w, `{"error":"InvalidCursor"}`, http.StatusBadRequest)
			return
		}
		start = n
	} else if st := q.Get("start_time"); st != "" {
		unix, err := strconv.ParseInt(st, 10, 64)
		if err != nil {
			http.Error(w, `{"error":"InvalidStartTime"}`, http.StatusBadRequest)
			return
		}
		from := time.Unix(unix, 0)
		start = len(entries)
		for i, e := range entries {
			if !e.updatedAt.Before(from) {
				start = i
				break
			}
		}
	}
	start = min(start, len(entries))
	end := min(start+a.pageSize, len(entries))

	items := make([]json.RawMessage, 0, end-start)
	for _, e := range entries[start:end] {
		items = append(items, json.RawMessage(a.render(e)))
	}

	var after interface{} = fmt.Sprintf("c%d", end)
	if a.latest {
		after = nil
	}
	body := map[string]interface{}{
		a.itemsKey:      items,
		"after_cursor":  after,
		"end_of_stream": end >= len(entries),
	}
	writeJSON(w, body)
}

// latestEntries keeps the newest version of every ticket, oldest update first.
func (a *TicketAPI) latestEntries() []fixture {
	newest := make(map[int64]int, len(a.entries))
	for i, e := range a.entries {
		newest[e.id] = i
	}
	view := make([]fixture, 0, len(newest))
	for i, e := range a.entries {
		if newest[e.id] == i {
			view = append(view, e)
		}
	}
	sort.SliceStable(view, func(i, j int) bool {
		return view[i].updatedAt.Before(view[j].updatedAt)
	})
	return view
}

func (a *TicketAPI) serveComments(w http.ResponseWriter, r *http.Request) {
	a.commentRequests++

	idText := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/tickets/"), "/comments.json")
	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil || a.missingComments[id] {
		http.Error(w, `{"error":"RecordNotFound"}`, http.StatusNotFound)
		return
	}
	if status, ok := a.failComments[id]; ok {
		http.Error(w, `{"error":"injected"}`, status)
		return
	}

	comment := func(n int64) map[string]interface{} {
		return map[string]interface{}{
			"id":         id*100 + n,
			"body":       fmt.Sprintf("comment %d on ticket %d", n, id),
			"author_id":  500 + id,
			"public":     n == 1,
			"created_at": BaseTime.Add(time.Duration(n) * time.Second).Format(time.RFC3339),
		}
	}

	var next interface{}
	comments := []interface{}{comment(1)}
	if a.splitComments[id] {
		if r.URL.Query().Get("page") == "2" {
			comments = []interface{}{comment(2)}
		} else {
			next = fmt.Sprintf("%s/tickets/%d/comments.json?page=2", a.Server.URL, id)
		}
	}

	writeJSON(w, map[string]interface{}{
		"comments":  comments,
		"next_page": next,
	})
}

func (a *TicketAPI) render(e fixture) string {
	if e.raw != "" {
		return e.raw
	}
	data, _ := json.Marshal(map[string]interface{}{
		"id":          e.id,
		"subject":     fmt.Sprintf("Ticket %d", e.id),
		"description": fmt.Sprintf("Description of ticket %d", e.id),
		"status":      "open",
		"priority":    "normal",
		"tags":        []string{"imported"},
		"via":         map[string]interface{}{"channel": "email"},
		"assignee_id": 1000 + e.id,
		"requester":   map[string]interface{}{"email": fmt.Sprintf("user%d@example.com", e.id)},
		"created_at":  BaseTime.Add(time.Duration(e.id) * time.Minute).Format(time.RFC3339),
		"updated_at":  e.updatedAt.Format(time.RFC3339),
	})
	return string(data)
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
