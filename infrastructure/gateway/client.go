package gateway

import (
	"context"
	"log/slog"
	"school-pickup/domain"
	"school-pickup/domain/event"
	"school-pickup/services"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// client is one websocket connection and the session it drives.
// Frames are written by a single goroutine; session events and error replies
// are queued on outbound.
type client struct {
	log         *slog.Logger
	conn        *websocket.Conn
	service     services.IChannelService
	cfg         Config
	outbound    chan Frame
	done        chan struct{}
	closing     chan struct{}
	closeOnce   sync.Once
	closeReason string
}

func newClient(log *slog.Logger, conn *websocket.Conn, service services.IChannelService, cfg Config) *client {
	return &client{
		log:      log,
		conn:     conn,
		service:  service,
		cfg:      cfg,
		outbound: make(chan Frame, cfg.OutboundSize),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
	}
}

// run drives the connection and returns once both the reader and the writer
// have stopped, so the connection is never touched after the handler returns.
func (c *client) run() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()
	c.readLoop()
	<-writerDone
}

// closeFor asks the writer to close the websocket once queued frames are out.
// The browser is expected to open a new connection, hence a new session.
func (c *client) closeFor(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		close(c.closing)
	})
}

// Consume turns session events into frames. A client too slow to keep up
// loses events rather than stalling the other sinks.
func (c *client) Consume(ctx context.Context, e event.DomainEvent) error {
	frame, ok := FrameFor(e)
	if !ok {
		return nil
	}
	if changed, isState := e.(event.ConnectionStateChanged); isState &&
		changed.To == domain.Disconnected && changed.Cause != nil {
		defer c.closeFor(changed.Cause.Error())
	}
	select {
	case c.outbound <- frame:
		return nil
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.log.Warn("Websocket client too slow, dropping frame", "type", frame.Type)
		return ctx.Err()
	}
}

func (c *client) reply(frame Frame) {
	select {
	case c.outbound <- frame:
	case <-c.done:
	case <-time.After(c.cfg.WriteWait):
		c.log.Warn("Cannot queue reply", "type", frame.Type)
	}
}

// readLoop decodes drafts until the connection closes.
func (c *client) readLoop() {
	defer close(c.done)
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		var draft domain.Draft
		if err := c.conn.ReadJSON(&draft); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("Websocket read error", "error", err)
			} else {
				c.log.Debug("Websocket closed", "error", err)
			}
			return
		}
		if _, err := c.service.Send(draft); err != nil {
			c.reply(errorFrame(err))
		}
	}
}

// writeLoop writes frames and pings until the reader stops or the session
// ends on a fault. On a write failure the connection is closed so that the
// reader stops too.
func (c *client) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.outbound:
			if err := c.write(frame); err != nil {
				c.log.Warn("Websocket write error", "error", err)
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Warn("Websocket ping error", "error", err)
				_ = c.conn.Close()
				return
			}
		case <-c.closing:
			c.flush()
			c.log.Info("Closing websocket after session fault", "reason", c.closeReason)
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, truncateReason(c.closeReason)))
			// Wait for the peer's close reply, not longer.
			_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.WriteWait))
			<-c.done
			return
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *client) write(frame Frame) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return c.conn.WriteJSON(frame)
}

// flush writes what is already queued without waiting for more.
func (c *client) flush() {
	for {
		select {
		case frame := <-c.outbound:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

// A close frame payload is limited to 125 bytes, two of which hold the code.
func truncateReason(reason string) string {
	if len(reason) > 123 {
		return reason[:123]
	}
	return reason
}
