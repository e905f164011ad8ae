// Package remote connects the build server to a controller over NATS.
// Controller messages arrive on a shared inbound subject; each session's
// builder messages are published on a per-session outbound subject.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/buildforge/internal/protocol"
)

const (
	// InboundSubject carries controller messages for all sessions.
	InboundSubject = "buildforge.controller"
	// outboundPrefix is completed with the session ID.
	outboundPrefix = "buildforge.session."
)

// Handler processes one inbound controller message together with the
// outbound channel for its session.
type Handler interface {
	Handle(ctx context.Context, msg *protocol.ControllerMessage, ch protocol.Channel) error
}

// Client owns the NATS connection of a build server.
type Client struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// Connect establishes the NATS connection.
func Connect(url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	logger.Info("connected to NATS", "url", url)
	return &Client{conn: conn, logger: logger}, nil
}

// Subscribe starts consuming controller messages and dispatching them to
// handler. Each start-build message is handed the outbound channel for
// its session ID.
func (c *Client) Subscribe(ctx context.Context, handler Handler) error {
	sub, err := c.conn.Subscribe(InboundSubject, func(m *nats.Msg) {
		var msg protocol.ControllerMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			c.logger.Error("dropping malformed controller message", "error", err)
			return
		}
		ch := c.ChannelFor(msg.SessionID)
		if err := handler.Handle(ctx, &msg, ch); err != nil {
			c.logger.Error("controller message rejected", "type", msg.Type, "session_id", msg.SessionID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", InboundSubject, err)
	}
	c.sub = sub
	c.logger.Info("listening for controller messages", "subject", InboundSubject)
	return nil
}

// ChannelFor returns the outbound protocol channel for a session.
func (c *Client) ChannelFor(sessionID string) protocol.Channel {
	return &natsChannel{conn: c.conn, subject: outboundPrefix + sessionID + ".out"}
}

// Close drains the subscription and closes the connection.
func (c *Client) Close() error {
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			c.logger.Warn("draining subscription failed", "error", err)
		}
	}
	c.conn.Close()
	return nil
}

// natsChannel implements protocol.Channel by publishing JSON builder
// messages on a fixed subject.
type natsChannel struct {
	conn    *nats.Conn
	subject string
}

func (ch *natsChannel) Send(msg *protocol.BuilderMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal builder message: %w", err)
	}
	if err := ch.conn.Publish(ch.subject, data); err != nil {
		return fmt.Errorf("publish builder message: %w", err)
	}
	return nil
}
