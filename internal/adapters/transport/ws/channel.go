package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bnema/deployctl/internal/application"
	"github.com/bnema/deployctl/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// channel couples one websocket connection to one supervisor session.
type channel struct {
	conn    *websocket.Conn
	session *application.Session
	log     *slog.Logger
}

// serve blocks until the client goes away, then disconnects the session,
// which terminates whatever it was running.
func (c *channel) serve(ctx context.Context) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	c.readLoop(ctx)
	c.session.Disconnect()
	<-writerDone
	_ = c.conn.Close()
}

func (c *channel) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Warn("websocket read failed", "session", c.session.ID(), "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := decodeInbound(payload)
		if err != nil {
			c.log.Debug("rejecting undecodable message", "session", c.session.ID(), "error", err)
			c.session.Fail(fmt.Sprintf("Invalid message: %s", err))
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *channel) dispatch(ctx context.Context, msg InboundMessage) {
	var err error
	switch msg.Type {
	case TypeExecuteCommand:
		if msg.Command == "" {
			c.session.Fail("Missing command")
			return
		}
		err = c.session.Execute(ctx, msg.Command, domain.ConfigurationFromValues(msg.Config))
	case TypeSaveConfig:
		err = c.session.SaveConfig(ctx, domain.ConfigurationFromValues(msg.Config))
	case TypeStopCommand:
		err = c.session.Stop()
	case TypeInput:
		err = c.session.SendInput([]byte(msg.Data))
		if errors.Is(err, domain.ErrNoActiveProcess) {
			err = nil
		}
	default:
		c.session.Fail(fmt.Sprintf("Unknown message type %q", msg.Type))
		return
	}

	if err != nil {
		c.log.Debug("session operation failed", "session", c.session.ID(), "type", msg.Type, "error", err)
	}
}

// writePump is the only writer on the connection.
func (c *channel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event := <-c.session.Events():
			payload, err := encodeEvent(event)
			if err != nil {
				c.log.Error("encode event", "session", c.session.ID(), "error", err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket write failed", "session", c.session.ID(), "error", err)
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-c.session.Done():
			return
		}
	}
}
