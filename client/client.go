// Package client implements the storage contract against a remote famsync
// backend, so a mediator can run in a different process than its storage.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/famkit/famsync"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	client    *http.Client
	cache     *cache.Cache
	baseURL   string
	userAgent string

	mu         sync.Mutex
	registered string
}

func New(baseURL string) *Client {
	httpClient := &http.Client{
		Timeout: defaultTimeout,
	}

	c := &Client{
		client:    httpClient,
		cache:     cache.New(30*time.Second, time.Minute),
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: "famsync-client",
	}
	httpClient.Transport = c
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	return http.DefaultTransport.RoundTrip(req)
}

// Register records the key of interest for change-stream filtering. No result
// is produced.
func (c *Client) Register(key string) {
	c.mu.Lock()
	c.registered = key
	c.mu.Unlock()
}

func (c *Client) registeredKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

func (c *Client) Create(ctx context.Context, info famsync.FamilyInfo) (string, error) {
	var res struct {
		Key string `json:"key"`
	}
	err := c.do(ctx, http.MethodPost, "/storage/family", info, &res)
	if err != nil {
		return "", famsync.StorageError{Kind: famsync.ErrorKindCreationFailed, Cause: err}
	}
	return res.Key, nil
}

func (c *Client) Update(ctx context.Context, key string, patch map[string]any) error {
	err := c.do(ctx, http.MethodPatch, "/storage/family/"+key, patch, nil)
	if err != nil {
		return err
	}
	c.cache.Delete(key)
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	err := c.do(ctx, http.MethodDelete, "/storage/family/"+key, nil, nil)
	if err != nil {
		if errors.Is(err, famsync.ErrNotFound) {
			return err
		}
		return famsync.StorageError{Kind: famsync.ErrorKindDeletionFailed, Cause: err}
	}
	c.cache.Delete(key)
	return nil
}

// Get reads a family snapshot, served from the local cache when fresh.
func (c *Client) Get(ctx context.Context, key string) (*famsync.FamilyState, error) {
	if x, found := c.cache.Get(key); found {
		return x.(*famsync.FamilyState), nil
	}

	var state famsync.FamilyState
	if err := c.do(ctx, http.MethodGet, "/api/v1/family/"+key, nil, &state); err != nil {
		return nil, err
	}
	c.cache.Set(key, &state, cache.DefaultExpiration)
	return &state, nil
}

// changeMessage mirrors the backend's change-socket wire format.
type changeMessage struct {
	Key   string               `json:"key,omitempty"`
	State *famsync.FamilyState `json:"state,omitempty"`
	Error string               `json:"error,omitempty"`
}

// ChangeListener streams change events from the backend's change socket.
// Events for keys other than the registered one are skipped; while no key is
// registered every event passes through.
func (c *Client) ChangeListener(ctx context.Context) (<-chan famsync.ChangeEvent, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.socketURL(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial change socket")
	}

	ch := make(chan famsync.ChangeEvent, 64)
	go func() {
		defer close(ch)
		defer ws.Close()

		go func() {
			<-ctx.Done()
			ws.Close()
		}()

		for {
			var msg changeMessage
			if err := ws.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil {
					ch <- famsync.ChangeEvent{Err: errors.Wrap(err, "read change socket")}
				}
				return
			}
			if registered := c.registeredKey(); registered != "" && msg.Key != "" && msg.Key != registered {
				continue
			}
			ev := famsync.ChangeEvent{Key: msg.Key, State: msg.State}
			if msg.Error != "" {
				ev.Err = errors.New(msg.Error)
			}
			ch <- ev
		}
	}()

	return ch, nil
}

func (c *Client) socketURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/storage/changes"
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return famsync.StorageError{Kind: famsync.ErrorKindEncoding, Cause: err}
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "perform request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return famsync.StorageError{Kind: famsync.ErrorKindNotFound}
	case resp.StatusCode == http.StatusBadRequest:
		return famsync.StorageError{Kind: famsync.ErrorKindDecoding, Cause: fmt.Errorf("backend rejected request")}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return famsync.StorageError{Kind: famsync.ErrorKindDecoding, Cause: err}
	}
	return nil
}
