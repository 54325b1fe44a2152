// Package joplin reads notes, notebooks and resources from the Joplin data API.
package joplin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/starford/decksync/internal/apperr"
	"github.com/starford/decksync/internal/models"
	"github.com/starford/decksync/internal/request"
)

// PingResponse is the literal body the data API answers /ping with.
const PingResponse = "JoplinClipperServer"

const (
	defaultPageSize  = 100
	defaultPageDelay = 100 * time.Millisecond
)

// Client is a Joplin data API client.
type Client struct {
	base      string
	token     string
	req       *request.Client
	pageSize  int
	pageDelay time.Duration
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithPageDelay sets the pause between consecutive page requests.
func WithPageDelay(d time.Duration) Option {
	return func(c *Client) { c.pageDelay = d }
}

// WithPageSize sets the page limit.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the API at baseURL.
func New(baseURL, token string, rc *request.Client, opts ...Option) *Client {
	c := &Client{
		base:      strings.TrimRight(baseURL, "/"),
		token:     token,
		req:       rc,
		pageSize:  defaultPageSize,
		pageDelay: defaultPageDelay,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping checks that the data API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	body, err := c.get(ctx, "/ping", nil)
	if err != nil {
		return err
	}
	if got := strings.TrimSpace(string(body)); got != PingResponse {
		return fmt.Errorf("%w: %q", apperr.ErrUnexpectedPing, got)
	}
	return nil
}

// Folders returns every notebook.
func (c *Client) Folders(ctx context.Context) ([]models.Folder, error) {
	q := url.Values{"fields": {"id,title,parent_id"}}
	return paged[models.Folder](ctx, c, "/folders", q, nil)
}

// NotesSince returns notes modified at or after since, newest first. A zero
// since returns every note.
func (c *Client) NotesSince(ctx context.Context, since time.Time) ([]models.Note, error) {
	q := url.Values{
		"fields":    {"id,title,body,parent_id,updated_time"},
		"order_by":  {"updated_time"},
		"order_dir": {"DESC"},
	}
	var stop func(models.Note) bool
	if !since.IsZero() {
		cutoff := since.UnixMilli()
		stop = func(n models.Note) bool { return n.UpdatedTime < cutoff }
	}
	return paged(ctx, c, "/notes", q, stop)
}

type tag struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// NoteTags returns the tag titles attached to a note.
func (c *Client) NoteTags(ctx context.Context, noteID string) ([]string, error) {
	q := url.Values{"fields": {"id,title"}}
	tags, err := paged[tag](ctx, c, "/notes/"+url.PathEscape(noteID)+"/tags", q, nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.Title)
	}
	return out, nil
}

// NoteResources returns the resources attached to a note.
func (c *Client) NoteResources(ctx context.Context, noteID string) ([]models.Resource, error) {
	q := url.Values{"fields": {"id,title,file_extension"}}
	return paged[models.Resource](ctx, c, "/notes/"+url.PathEscape(noteID)+"/resources", q, nil)
}

// Detail fills the note's tags and resources.
func (c *Client) Detail(ctx context.Context, n *models.Note) error {
	tags, err := c.NoteTags(ctx, n.ID)
	if err != nil {
		return fmt.Errorf("joplin: tags of %s: %w", n.ID, err)
	}
	res, err := c.NoteResources(ctx, n.ID)
	if err != nil {
		return fmt.Errorf("joplin: resources of %s: %w", n.ID, err)
	}
	n.Tags = tags
	n.Resources = res
	return nil
}

// ResourceData downloads a resource's file and returns it base64-encoded.
func (c *Client) ResourceData(ctx context.Context, resourceID string) (string, error) {
	body, err := c.get(ctx, "/resources/"+url.PathEscape(resourceID)+"/file", nil)
	if err != nil {
		return "", fmt.Errorf("joplin: resource %s: %w", resourceID, err)
	}
	return base64.StdEncoding.EncodeToString(body), nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if q == nil {
		q = url.Values{}
	}
	q.Set("token", c.token)
	return c.req.Execute(ctx, request.Spec{
		Method: http.MethodGet,
		URL:    c.base + path + "?" + q.Encode(),
	})
}

type page[T any] struct {
	Items   []T  `json:"items"`
	HasMore bool `json:"has_more"`
}

// paged walks a paginated collection sequentially, pausing between pages. If
// stop returns true for an item, that item is dropped and paging ends.
func paged[T any](ctx context.Context, c *Client, path string, q url.Values, stop func(T) bool) ([]T, error) {
	var out []T
	for pageNum := 1; ; pageNum++ {
		pq := url.Values{}
		for k, v := range q {
			pq[k] = v
		}
		pq.Set("page", strconv.Itoa(pageNum))
		pq.Set("limit", strconv.Itoa(c.pageSize))

		body, err := c.get(ctx, path, pq)
		if err != nil {
			return nil, err
		}
		var p page[T]
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("joplin: decode %s page %d: %w", path, pageNum, err)
		}
		for _, item := range p.Items {
			if stop != nil && stop(item) {
				return out, nil
			}
			out = append(out, item)
		}
		c.logger.Debug("joplin: page fetched",
			slog.String("path", path),
			slog.Int("page", pageNum),
			slog.Int("items", len(p.Items)))
		if !p.HasMore {
			return out, nil
		}

		t := time.NewTimer(c.pageDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
