// Package gateway implements the WebSocket transport between the whiteboard
// client and the tutoring backend.
//
// A [Conn] wraps one accepted WebSocket connection with a read loop that
// decodes client messages onto a channel and a write loop that drains a
// bounded outbound queue. Outbound messages are tagged with the turn epoch
// they belong to; when the barge-in controller advances the active epoch,
// queued messages from superseded turns are discarded instead of reaching the
// client. Epoch zero marks epoch-independent messages (errors, interim
// transcripts, the handshake) that are never filtered.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const (
	// outboundQueueSize bounds the write queue. Audio chunks dominate; TTS
	// paces production, so the queue only grows when the client socket is
	// slow to drain.
	outboundQueueSize = 256

	// writeTimeout is the per-message write deadline. A client that cannot
	// accept a frame within this window is treated as gone.
	writeTimeout = 10 * time.Second
)

// ErrConnClosed is returned by [Conn.Send] after the connection closed.
var ErrConnClosed = errors.New("gateway: connection closed")

// Config holds gateway acceptance options.
type Config struct {
	// OriginPatterns is the list of allowed origins for the WebSocket
	// handshake, as understood by [websocket.AcceptOptions].
	OriginPatterns []string

	// Logger is used for connection lifecycle and protocol warnings.
	// Defaults to [slog.Default].
	Logger *slog.Logger
}

// Conn is one live client connection.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	inbound  chan Inbound
	outbound chan outboundItem

	// activeEpoch is the newest turn epoch. Messages tagged with an older
	// non-zero epoch are stale output of an interrupted turn.
	activeEpoch atomic.Uint64

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// outboundItem pairs a payload with the turn epoch that produced it.
type outboundItem struct {
	epoch   uint64
	payload any
}

// Accept upgrades the request to a WebSocket connection and starts the read
// and write loops. The caller owns the returned [Conn] and must call
// [Conn.Close] when done.
func Accept(w http.ResponseWriter, r *http.Request, cfg Config) (*Conn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: cfg.OriginPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: accept: %w", err)
	}
	return newConn(ws, cfg.Logger), nil
}

func newConn(ws *websocket.Conn, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		ws:       ws,
		logger:   logger,
		inbound:  make(chan Inbound, 64),
		outbound: make(chan outboundItem, outboundQueueSize),
		done:     make(chan struct{}),
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	return c
}

// Inbound returns the channel of decoded client messages. The channel is
// closed when the client disconnects or the connection is closed.
func (c *Conn) Inbound() <-chan Inbound {
	return c.inbound
}

// Done returns a channel closed when the connection shuts down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Send enqueues payload for delivery, tagged with the given turn epoch.
// Messages whose epoch is already superseded are dropped silently. Send
// blocks when the outbound queue is full and returns [ErrConnClosed] once
// the connection is closed.
func (c *Conn) Send(epoch uint64, payload any) error {
	if stale(epoch, c.activeEpoch.Load()) {
		return nil
	}
	select {
	case c.outbound <- outboundItem{epoch: epoch, payload: payload}:
		return nil
	case <-c.done:
		return ErrConnClosed
	}
}

// SendError sends an epoch-independent error message to the client.
func (c *Conn) SendError(message string) error {
	return c.Send(0, NewError(message))
}

// SetActiveEpoch records the newest turn epoch. Queued and future messages
// from older epochs will be discarded.
func (c *Conn) SetActiveEpoch(epoch uint64) {
	c.activeEpoch.Store(epoch)
}

// ActiveEpoch returns the current active turn epoch.
func (c *Conn) ActiveEpoch() uint64 {
	return c.activeEpoch.Load()
}

// Close shuts down both loops and closes the underlying WebSocket with the
// given status. Safe to call multiple times.
func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.ws.Close(code, reason)
		c.wg.Wait()
	})
	return err
}

// stale reports whether a message tagged with epoch is output of a
// superseded turn. Epoch zero is epoch-independent.
func stale(epoch, active uint64) bool {
	return epoch > 0 && epoch < active
}

// readLoop decodes client frames onto the inbound channel until the
// connection fails or is closed.
func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer close(c.inbound)

	ctx := context.Background()
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Info("client disconnected", slog.String("error", err.Error()))
			}
			return
		}

		var msg Inbound
		if typ == websocket.MessageBinary {
			// Binary frames are raw audio without the base64 envelope.
			msg = Inbound{Type: TypeAudioData, Binary: data}
		} else if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("malformed client message", slog.String("error", err.Error()))
			_ = c.SendError("malformed message")
			continue
		}
		if msg.Type == "" {
			_ = c.SendError("missing message type")
			continue
		}

		select {
		case c.inbound <- msg:
		case <-c.done:
			return
		}
	}
}

// writeLoop drains the outbound queue, applying the epoch filter a second
// time at dequeue so messages that went stale while queued never hit the
// wire.
func (c *Conn) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case item := <-c.outbound:
			if stale(item.epoch, c.activeEpoch.Load()) {
				continue
			}
			data, err := json.Marshal(item.payload)
			if err != nil {
				c.logger.Error("marshal outbound message", slog.String("error", err.Error()))
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err = c.ws.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				select {
				case <-c.done:
				default:
					c.logger.Warn("write to client failed", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}
