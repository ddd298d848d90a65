// Package client is the participant side of the signaling channel.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = protocol.MaxFrameSize
	queueSize      = 64
)

var ErrClosed = errors.New("client closed")

// Client manages the WebSocket connection to the meeting server.
type Client struct {
	conn     *websocket.Conn
	outgoing chan []byte
	incoming chan any
	done     chan struct{}
	once     sync.Once
}

// Dial connects to serverURL (ws:// or wss://).
func Dial(ctx context.Context, serverURL string) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &Client{
		conn:     conn,
		outgoing: make(chan []byte, queueSize),
		incoming: make(chan any, queueSize),
		done:     make(chan struct{}),
	}, nil
}

// Run pumps frames until the connection drops, Close is called or ctx ends.
// Incoming is closed when Run returns.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readPump() })
	g.Go(func() error { return c.writePump(ctx) })
	err := g.Wait()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Events delivers decoded server events.
func (c *Client) Events() <-chan any { return c.incoming }

func (c *Client) readPump() error {
	defer func() {
		close(c.incoming)
		c.Close()
	}()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return ErrClosed
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrClosed
			}
			return fmt.Errorf("read: %w", err)
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad server frame")
			continue
		}
		select {
		case c.incoming <- ev:
		case <-c.done:
			return ErrClosed
		}
	}
}

func (c *Client) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		case <-c.done:
			c.flush()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ErrClosed
		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		}
	}
}

// flush writes whatever is still queued, e.g. a leave-meeting sent right
// before Close.
func (c *Client) flush() {
	for {
		select {
		case data := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues one message. It blocks while the queue is full.
func (c *Client) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) Join(sid domain.SessionID, who domain.Identity) error {
	return c.Send(protocol.JoinMeetingMessage{
		Type:      protocol.MsgTypeJoinMeeting,
		SessionID: sid,
		Name:      who.Name,
		Email:     who.Email,
		IsHost:    who.IsHost,
	})
}

func (c *Client) Chat(sid domain.SessionID, text string) error {
	return c.Send(protocol.ChatMessage{Type: protocol.MsgTypeChatMessage, SessionID: sid, Message: text})
}

func (c *Client) Leave(sid domain.SessionID) error {
	return c.Send(protocol.SessionMessage{Type: protocol.MsgTypeLeaveMeeting, SessionID: sid})
}

func (c *Client) End(sid domain.SessionID) error {
	return c.Send(protocol.SessionMessage{Type: protocol.MsgTypeEndMeeting, SessionID: sid})
}

// SendSignal relays a negotiation envelope through the server.
func (c *Client) SendSignal(env domain.Envelope) error {
	return c.Send(protocol.NewSignal(env))
}

// Close ends both pumps. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}
