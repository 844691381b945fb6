// Package zendesk streams tickets from the Zendesk incremental cursor export.
//
// The Paginator turns the paged endpoint into a lazy sequence of tickets.
// Each yielded Item carries the exact Position to resume from after it, so a
// checkpoint taken in the middle of a page never skips uncommitted tickets:
//
//	for item, err := range paginator.Stream(ctx, from) {
//	    if err != nil {
//	        return err
//	    }
//	    batch = append(batch, item.Ticket)
//	    resume = item.Next
//	}
//
// Items that cannot be decoded, or whose comments are gone upstream, are
// logged and skipped. Transport failures end the stream with the error.
package zendesk

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"github.com/ajitpratap0/deskstream/pkg/json"
	"github.com/ajitpratap0/deskstream/pkg/metrics"
	"github.com/ajitpratap0/deskstream/pkg/models"
	"go.uber.org/zap"
)

// maxCommentPages bounds next_page following for one ticket.
const maxCommentPages = 1000

// Executor performs one upstream request. *clients.Transport implements it.
type Executor interface {
	Execute(ctx context.Context, method, path string, params url.Values, out any) error
}

// Config configures a Paginator.
type Config struct {
	StreamPath   string
	CommentsPath string // format string taking the ticket id
	// Lookback bounds a stream started from the zero Position
	Lookback time.Duration
	// PageSize is sent as per_page when positive
	PageSize int
	// SkipComments disables the comment sub-requests
	SkipComments bool
}

// DefaultConfig returns the export endpoint of the v2 API.
func DefaultConfig() Config {
	return Config{
		StreamPath:   "/incremental/tickets/cursor.json",
		CommentsPath: "/tickets/%d/comments.json",
		Lookback:     365 * 24 * time.Hour,
	}
}

// Item is one ticket of the stream.
type Item struct {
	Ticket *models.Ticket
	// Cursor is the page-level continuation returned with the ticket's page
	Cursor Cursor
	// Next is where to resume once this ticket is committed
	Next Position
}

// Page is one raw page of the export, as returned by FetchPage.
type Page struct {
	Request Position
	// Raw holds every item of the page, including those before Request.Offset
	Raw         []json.RawMessage
	AfterCursor Cursor
	EndOfStream bool
	// Next is the position after the whole page
	Next Position
	// Done is set when there is no further page to request
	Done bool
}

// Stats counts stream activity.
type Stats struct {
	PagesFetched int64
	ItemsYielded int64
	ItemsSkipped int64
	CommentPages int64
}

// Paginator reads the ticket stream through an Executor.
type Paginator struct {
	exec   Executor
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	stats    Stats
	position Position
}

// NewPaginator creates a paginator. now defaults to time.Now.
func NewPaginator(exec Executor, config Config, logger *zap.Logger, now func() time.Time) *Paginator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	if config.StreamPath == "" {
		config.StreamPath = DefaultConfig().StreamPath
	}
	if config.CommentsPath == "" {
		config.CommentsPath = DefaultConfig().CommentsPath
	}
	return &Paginator{
		exec:   exec,
		config: config,
		logger: logger.With(zap.String("component", "paginator")),
		now:    now,
	}
}

// Stats returns a snapshot of the counters.
func (p *Paginator) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Position returns the resume point after everything consumed so far. After a
// stream completes it lies past trailing skipped items.
func (p *Paginator) Position() Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Start resolves the zero position to now minus the lookback.
func (p *Paginator) Start(from Position) Position {
	if from.IsZero() {
		return Position{StartTime: p.now().Add(-p.config.Lookback).Truncate(time.Second)}
	}
	return from
}

// Stream yields tickets from the given position in upstream order. Tickets
// are materialized one at a time, so comments are only fetched for tickets the
// consumer actually pulls. A non-nil error is always the last element.
func (p *Paginator) Stream(ctx context.Context, from Position) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		pos := p.Start(from)
		p.setPosition(pos)

		for {
			if err := ctx.Err(); err != nil {
				yield(Item{}, err)
				return
			}

			page, err := p.FetchPage(ctx, pos)
			if err != nil {
				yield(Item{}, err)
				return
			}

			if !p.yieldPage(ctx, page, yield) {
				return
			}
			p.setPosition(page.Next)

			if page.Done {
				return
			}
			if page.Next.SamePage(pos) && page.Next.Offset == pos.Offset {
				p.logger.Warn("stream made no progress, stopping", zap.Stringer("position", pos))
				return
			}
			pos = page.Next
		}
	}
}

// yieldPage yields the tickets of page from its request offset on. It
// reports false when the stream must stop.
func (p *Paginator) yieldPage(ctx context.Context, page Page, yield func(Item, error) bool) bool {
	pos := page.Request
	start := min(pos.Offset, len(page.Raw))

	// Decoding is local and cheap; it tells which ticket closes the page.
	tickets := make([]*models.Ticket, len(page.Raw))
	last := -1
	for i := start; i < len(page.Raw); i++ {
		ticket, err := decodeTicket(page.Raw[i])
		if err != nil {
			p.skip(page.Raw[i], i, pos, err)
			continue
		}
		tickets[i] = ticket
		last = i
	}

	for i := start; i <= last; i++ {
		ticket := tickets[i]
		if ticket == nil {
			continue
		}
		if err := p.attachComments(ctx, ticket); err != nil {
			if !skippable(err) {
				yield(Item{}, err)
				return false
			}
			p.skip(page.Raw[i], i, pos, err)
			continue
		}

		next := pos.WithOffset(i + 1)
		// only skipped items follow the last ticket
		if i == last {
			next = page.Next
		}

		p.mu.Lock()
		p.stats.ItemsYielded++
		p.position = next
		p.mu.Unlock()

		if !yield(Item{Ticket: ticket, Cursor: page.AfterCursor, Next: next}, nil) {
			return false
		}
	}
	return true
}

// FetchPage requests the raw page at pos. It does not decode items.
func (p *Paginator) FetchPage(ctx context.Context, pos Position) (Page, error) {
	params := pos.query()
	if p.config.PageSize > 0 {
		params.Set("per_page", strconv.Itoa(p.config.PageSize))
	}

	var body ticketPage
	if err := p.exec.Execute(ctx, http.MethodGet, p.config.StreamPath, params, &body); err != nil {
		return Page{}, fmt.Errorf("fetch page at %s: %w", pos, err)
	}

	p.mu.Lock()
	p.stats.PagesFetched++
	p.mu.Unlock()
	metrics.PagesFetched.Inc()

	page := Page{
		Request:     pos,
		Raw:         body.raw(),
		EndOfStream: body.EndOfStream,
	}
	if body.AfterCursor != nil {
		page.AfterCursor = Cursor(*body.AfterCursor)
	}
	page.Done = page.EndOfStream || page.AfterCursor == ""
	if page.AfterCursor != "" {
		page.Next = Position{Cursor: page.AfterCursor}
	} else {
		page.Next = pos.WithOffset(len(page.Raw))
	}
	return page, nil
}

func (p *Paginator) attachComments(ctx context.Context, ticket *models.Ticket) error {
	if p.config.SkipComments {
		ticket.Comments = []models.Comment{}
		return nil
	}
	comments, err := p.fetchComments(ctx, ticket.ID)
	if err != nil {
		return err
	}
	ticket.Comments = comments
	return nil
}

func (p *Paginator) skip(raw json.RawMessage, index int, pos Position, err error) {
	p.mu.Lock()
	p.stats.ItemsSkipped++
	p.mu.Unlock()
	metrics.ItemsSkipped.Inc()
	p.logger.Warn("skipping ticket",
		zap.String("ticket_id", rawTicketID(raw)),
		zap.Int("page_index", index),
		zap.Stringer("position", pos),
		zap.Error(err))
}

// fetchComments follows next_page links until the thread is complete.
func (p *Paginator) fetchComments(ctx context.Context, ticketID int64) ([]models.Comment, error) {
	path := fmt.Sprintf(p.config.CommentsPath, ticketID)
	comments := []models.Comment{}
	seen := make(map[string]bool)

	for pages := 0; path != ""; pages++ {
		if pages >= maxCommentPages || seen[path] {
			return nil, deskerrors.Newf(deskerrors.ErrorTypeData, "comment pagination of ticket %d does not terminate", ticketID)
		}
		seen[path] = true

		var body commentsPage
		if err := p.exec.Execute(ctx, http.MethodGet, path, nil, &body); err != nil {
			return nil, fmt.Errorf("fetch comments of ticket %d: %w", ticketID, err)
		}
		p.mu.Lock()
		p.stats.CommentPages++
		p.mu.Unlock()

		for _, c := range body.Comments {
			comments = append(comments, c.toModel())
		}

		path = ""
		if body.NextPage != nil {
			path = *body.NextPage
		}
	}
	return comments, nil
}

func (p *Paginator) setPosition(pos Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = pos
}

// skippable reports whether an item failure should drop only that item: a
// payload that does not decode, or comments the upstream no longer has.
func skippable(err error) bool {
	if deskerrors.IsType(err, deskerrors.ErrorTypeData) {
		return true
	}
	return deskerrors.IsType(err, deskerrors.ErrorTypeUpstream) &&
		deskerrors.StatusCode(err) == http.StatusNotFound
}
