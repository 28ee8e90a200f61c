package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MikeSquared-Agency/propensity/internal/engine"
)

// Client is the service's NATS connection: it takes in conversation turns
// and fans prediction results out to the sales tooling.
type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

// NewClient connects to url. The connection keeps retrying in the
// background, so turns are picked up once the server is reachable.
func NewClient(url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("propensity"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected, live turns paused", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Client{conn: nc, logger: logger}, nil
}

// Publish sends data as JSON on subject.
func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// SubscribeTurns delivers every sales.conversation.turn message to handler.
// No queue group: conversation state is per process, so each replica needs
// every turn.
func (c *Client) SubscribeTurns(handler func(subject string, data []byte)) error {
	return c.Subscribe(SubjectTurn, handler)
}

// Subscribe delivers every message on subject to handler.
func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Announce publishes the service registration once the API is listening.
func (c *Client) Announce(info engine.Info, port int) error {
	reg := NewRegistration(info, port)
	if err := c.Publish(SubjectRegistered, reg); err != nil {
		return err
	}
	c.logger.Info("registration announced", "policy_version", reg.PolicyVersion, "embedder", reg.Embedder)
	return nil
}

// Drain flushes pending prediction publishes and lets in-flight turn
// handlers finish, then closes the connection.
func (c *Client) Drain() error {
	return c.conn.Drain()
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
