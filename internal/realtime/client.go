// Package realtime is a websocket client for the OpenAI Realtime API.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	DefaultURL          = "wss://api.openai.com/v1/realtime"
	DefaultModel        = "gpt-4o-realtime-preview-2024-10-01"
	DefaultWriteTimeout = 5 * time.Second
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("realtime: client is closed")

// Config holds connection settings.
type Config struct {
	APIKey           string
	URL              string // Optional endpoint override
	Model            string
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each Send. A peer that stops reading fails the
	// write instead of blocking the caller.
	WriteTimeout     time.Duration
}

// Client is one realtime session. Events are delivered in arrival order on
// Events(), which is closed once the socket stops reading.
type Client struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	events       chan ServerEvent
	done         chan struct{}
	closing      chan struct{}
	closeOnce    sync.Once
	mu           sync.Mutex // serializes writes
	wg           sync.WaitGroup
	logger       zerolog.Logger

	errMu sync.Mutex
	err   error
}

// Dial opens a realtime session.
func Dial(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("realtime: missing API key")
	}
	endpoint := cfg.URL
	if endpoint == "" {
		endpoint = DefaultURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("realtime: bad url: %w", err)
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := *websocket.DefaultDialer
	if cfg.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = cfg.HandshakeTimeout
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to realtime API (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to realtime API: %w", err)
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}

	c := &Client{
		conn:         conn,
		writeTimeout: writeTimeout,
		events:       make(chan ServerEvent, 256),
		done:         make(chan struct{}),
		closing:      make(chan struct{}),
		logger:       logger.With().Str("component", "realtime").Logger(),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

// Events returns the server event stream.
func (c *Client) Events() <-chan ServerEvent {
	return c.events
}

// Done is closed when the read loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the socket stopped. It is nil after a local Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Send writes one client event as JSON.
func (c *Client) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: encode event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("realtime: set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("realtime: write: %w", err)
	}
	return nil
}

// Close ends the session. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)

		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()

		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.done)
	defer close(c.events)

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
			default:
				c.setErr(fmt.Errorf("realtime: read: %w", err))
			}
			return
		}

		var ev ServerEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			c.logger.Warn().Err(err).Msg("failed to parse server event")
			continue
		}
		ev.Raw = msg

		select {
		case c.events <- ev:
		case <-c.closing:
			return
		}
	}
}
