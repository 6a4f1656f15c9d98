package tts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/liuscraft/streamtts/internal/logging"
	"github.com/liuscraft/streamtts/internal/observe"
	"github.com/liuscraft/streamtts/internal/protocol"
)

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the websocket dialer used by the default transport.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithTransport replaces the per-session transport entirely.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithIDGenerator overrides how session and request ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(c *Client) {
		c.newID = fn
	}
}

// Client synthesizes text over the bidirectional streaming endpoint. Each
// Synthesize call owns its own connection, so a Client is safe for
// concurrent use.
type Client struct {
	cfg       Config
	codec     protocol.Codec
	dialer    Dialer
	transport Transport
	metrics   *observe.Metrics
	newID     func() string
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	normalized, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    normalized,
		codec:  protocol.Codec{Events: normalized.Events, Offsets: normalized.Offsets},
		dialer: NewWebsocketDialer(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.transport == nil {
		c.transport = newConnTransport(c.cfg, c.dialer, c.codec, c.metrics, c.newID)
	}
	return c, nil
}

func (c *Client) Config() Config {
	return c.cfg
}

// Synthesize runs one full connection and session cycle for text. It never
// returns a Result with empty audio: such sessions fail with ErrEmptyResult.
func (c *Client) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (Result, error) {
	start := time.Now()
	req, err := c.cfg.request(text, opts)
	if err != nil {
		c.metrics.RecordSynthesis(ctx, errorKind(err), time.Since(start), 0)
		return Result{}, err
	}

	sess := NewSession(c.newID(), req, c.codec, c.cfg.UID)
	res, err := c.transport.Run(ctx, sess)
	elapsed := time.Since(start)
	c.metrics.RecordSynthesis(ctx, errorKind(err), elapsed, len(res.Audio))
	if err != nil {
		logging.Warnf("synthesize failed: session=%s runes=%d elapsed=%s err=%v",
			sess.ID(), len([]rune(text)), elapsed, err)
		return Result{}, err
	}
	logging.Infof("synthesize done: session=%s format=%s bytes=%d elapsed=%s",
		sess.ID(), res.Format, len(res.Audio), elapsed)
	return res, nil
}
