// Package convo is a best-effort client for the external conversation
// store. Messages are queued and shipped by a background worker; the
// foreground chat flow never blocks on it and never sees its failures.
package convo

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const queueDepth = 256

type message struct {
	UserID  string `json:"user_id"`
	ChatID  string `json:"chat_id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client ships chat messages to the conversation store.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client

	queue   chan message
	dropped atomic.Int64
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a Client and starts its worker. Returns nil when endpoint
// is empty; callers treat a nil client as no sink.
func New(endpoint, apiKey string) *Client {
	if endpoint == "" {
		return nil
	}
	c := &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 10 * time.Second},
		queue:    make(chan message, queueDepth),
		done:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.worker()
	return c
}

// SaveMessage enqueues a message. On a full queue the message is
// dropped and counted; persistence here is best effort.
func (c *Client) SaveMessage(userID, chatID, role, content string) {
	select {
	case c.queue <- message{UserID: userID, ChatID: chatID, Role: role, Content: content}:
	default:
		n := c.dropped.Add(1)
		slog.Warn("conversation queue full, message dropped", "dropped_total", n)
	}
}

// Close drains the queue and stops the worker.
func (c *Client) Close() {
	close(c.done)
	c.wg.Wait()
}

func (c *Client) worker() {
	defer c.wg.Done()
	for {
		select {
		case msg := <-c.queue:
			c.send(msg)
		case <-c.done:
			for {
				select {
				case msg := <-c.queue:
					c.send(msg)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) send(msg message) {
	body, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		slog.Warn("conversation store request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("conversation store send failed", "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Warn("conversation store rejected message", "status", resp.StatusCode)
	}
}
