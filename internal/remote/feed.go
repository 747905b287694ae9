package remote

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/Harinder441/daily-notes-ai/internal/notes"
)

const (
	feedBufferSize = 16

	// A JSON-escaped control character takes six bytes, plus room for the event envelope.
	feedReadLimit = 6*notes.MaxContentBytes + 4096
)

// Subscribe opens the change feed and keeps it open, reconnecting with backoff, until ctx is
// done or the returned cancel function is called. The channel closes after teardown.
func (c *Client) Subscribe(ctx context.Context) (<-chan notes.ChangeEvent, func()) {
	feedCtx, cancel := context.WithCancel(ctx)
	events := make(chan notes.ChangeEvent, feedBufferSize)
	var done sync.WaitGroup
	done.Add(1)
	go func() {
		defer done.Done()
		defer close(events)
		c.runFeed(feedCtx, events)
	}()
	var once sync.Once
	return events, func() {
		once.Do(func() {
			cancel()
			done.Wait()
		})
	}
}

func (c *Client) runFeed(ctx context.Context, events chan<- notes.ChangeEvent) {
	backoff := c.backoff()
	for {
		delivered, err := c.readFeed(ctx, events)
		if ctx.Err() != nil {
			return
		}
		if delivered {
			backoff.Reset()
		}
		delay := backoff.Next()
		c.logger.Debug("change feed disconnected",
			zap.Error(err),
			zap.Duration("retry_in", delay),
			zap.Int("attempt", backoff.Attempts()))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// readFeed holds one websocket session. connected reports whether the dial succeeded.
func (c *Client) readFeed(ctx context.Context, events chan<- notes.ChangeEvent) (connected bool, err error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.Dial(ctx, c.streamURL(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return false, err
	}
	defer conn.CloseNow()
	conn.SetReadLimit(feedReadLimit)
	c.logger.Debug("change feed connected")

	for {
		var event notes.ChangeEvent
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			return true, err
		}
		select {
		case events <- event:
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return true, ctx.Err()
		}
	}
}

func (c *Client) streamURL() string {
	target := c.endpoint("/notes/stream")
	switch {
	case strings.HasPrefix(target, "https://"):
		return "wss://" + strings.TrimPrefix(target, "https://")
	case strings.HasPrefix(target, "http://"):
		return "ws://" + strings.TrimPrefix(target, "http://")
	}
	return target
}
