// Package anki talks to Anki through the AnkiConnect action protocol.
package anki

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/starford/decksync/internal/apperr"
	"github.com/starford/decksync/internal/request"
)

// ProtocolVersion is sent with every action.
const ProtocolVersion = 6

// Client is an AnkiConnect client. The deck cache lives as long as the
// client, which is one run.
type Client struct {
	url    string
	req    *request.Client
	logger *slog.Logger

	mu          sync.Mutex
	decks       map[string]struct{}
	decksLoaded bool
}

// New creates a Client for the AnkiConnect endpoint at url.
func New(url string, rc *request.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    url,
		req:    rc,
		logger: logger,
		decks:  make(map[string]struct{}),
	}
}

type envelope struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

// Invoke runs one action and decodes its result into out (which may be nil).
// A non-null error in the response is returned as *apperr.ProtocolError.
func (c *Client) Invoke(ctx context.Context, action string, params, out any) error {
	body, err := json.Marshal(envelope{Action: action, Version: ProtocolVersion, Params: params})
	if err != nil {
		return fmt.Errorf("anki: encode %s: %w", action, err)
	}
	raw, err := c.req.Execute(ctx, request.Spec{
		Method: http.MethodPost,
		URL:    c.url,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("anki: %s: %w", action, err)
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("anki: decode %s: %w", action, err)
	}
	if resp.Error != nil {
		return &apperr.ProtocolError{Op: "anki " + action, Message: *resp.Error}
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("anki: decode %s result: %w", action, err)
		}
	}
	return nil
}

// Version returns the AnkiConnect protocol version.
func (c *Client) Version(ctx context.Context) (int, error) {
	var v int
	if err := c.Invoke(ctx, "version", nil, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// DeckNames lists every deck.
func (c *Client) DeckNames(ctx context.Context) ([]string, error) {
	var names []string
	err := c.Invoke(ctx, "deckNames", nil, &names)
	return names, err
}

// EnsureDeck creates the deck unless it is already known to exist. Known
// decks are cached for the life of the client.
func (c *Client) EnsureDeck(ctx context.Context, name string) error {
	c.mu.Lock()
	_, known := c.decks[name]
	loaded := c.decksLoaded
	c.mu.Unlock()
	if known {
		return nil
	}

	if !loaded {
		names, err := c.DeckNames(ctx)
		if err != nil {
			return err
		}
		c.mu.Lock()
		for _, n := range names {
			c.decks[n] = struct{}{}
		}
		c.decksLoaded = true
		_, known = c.decks[name]
		c.mu.Unlock()
		if known {
			return nil
		}
	}

	if err := c.Invoke(ctx, "createDeck", map[string]string{"deck": name}, nil); err != nil {
		return err
	}
	c.logger.Info("anki: deck created", slog.String("deck", name))

	c.mu.Lock()
	c.decks[name] = struct{}{}
	c.mu.Unlock()
	return nil
}

// HasMedia reports whether a media file with this name is already stored.
func (c *Client) HasMedia(ctx context.Context, filename string) (bool, error) {
	var raw json.RawMessage
	if err := c.Invoke(ctx, "retrieveMediaFile", map[string]string{"filename": filename}, &raw); err != nil {
		return false, err
	}
	var present bool
	if err := json.Unmarshal(raw, &present); err == nil {
		return present, nil
	}
	return true, nil
}

// StoreMedia uploads base64-encoded data under filename.
func (c *Client) StoreMedia(ctx context.Context, filename, data string) error {
	return c.Invoke(ctx, "storeMediaFile", map[string]string{"filename": filename, "data": data}, nil)
}

// Sync asks Anki to synchronize its collection with AnkiWeb. It satisfies
// runner.SyncEngine.
func (c *Client) Sync(ctx context.Context) error {
	if err := c.Invoke(ctx, "sync", nil, nil); err != nil {
		return err
	}
	c.logger.Info("anki: collection synced")
	return nil
}
