package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"xtbridge/internal/bar"
	"xtbridge/internal/metrics"
)

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = 100 * time.Millisecond
	defaultLateAfter    = 3 * time.Second
)

// Bus is the transport capability Publisher needs. *busclient.Bus satisfies
// this; kept as a narrow interface here so tests can inject a fake that
// always fails without standing up miniredis.
type Bus interface {
	Publish(ctx context.Context, channel, payload string) error
}

// Publisher serializes CanonicalBars and publishes them to the fanout topic,
// retrying on transport error, tracking metrics, and marking lateness.
type Publisher struct {
	bus     Bus
	topic   string
	guard   *Guard
	metrics *metrics.Metrics
	log     zerolog.Logger

	maxRetries   int
	retryBackoff time.Duration
	lateAfter    time.Duration
}

// Option configures a Publisher at construction.
type Option func(*Publisher)

func WithMaxRetries(n int) Option { return func(p *Publisher) { p.maxRetries = n } }

func WithRetryBackoff(d time.Duration) Option { return func(p *Publisher) { p.retryBackoff = d } }

func WithLateThreshold(d time.Duration) Option { return func(p *Publisher) { p.lateAfter = d } }

// New builds a Publisher that publishes to topic on bus, guarding payloads
// with guard and recording outcomes in m.
func New(bus Bus, topic string, guard *Guard, m *metrics.Metrics, log zerolog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		bus:          bus,
		topic:        topic,
		guard:        guard,
		metrics:      m,
		log:          log,
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultRetryBackoff,
		lateAfter:    defaultLateAfter,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish validates b, serializes it, and publishes it to the fanout topic,
// making exactly maxRetries total attempts on transport error. A
// schema-guard rejection is not an error to the caller — it is dropped and
// counted, with no error surfacing.
func (p *Publisher) Publish(ctx context.Context, b bar.Bar) error {
	if ok, reason := p.guard.Check(b); !ok {
		metrics.MarkSchemaDrop()
		p.log.Debug().Str("reason", reason).Str("code", b.Code).Str("period", string(b.Period)).Msg("schema guard dropped bar")
		return nil
	}

	payload, err := encode(b)
	if err != nil {
		metrics.MarkSchemaDrop()
		p.log.Debug().Err(err).Msg("failed to encode bar")
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(p.retryBackoff)
		}
		lastErr = p.bus.Publish(ctx, p.topic, payload)
		if lastErr == nil {
			p.metrics.IncPublished()
			if b.IsClosed {
				metrics.MaybeMarkLate(b.BarEndTS, p.lateAfter)
			}
			return nil
		}
	}

	p.metrics.IncPublishFail()
	return lastErr
}

// encode renders b as UTF-8 JSON without HTML-escaping — the wire contract
// uses plain UTF-8 literals, not \u-escaped ones.
func encode(b bar.Bar) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(b); err != nil {
		return "", err
	}
	out := buf.String()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return out, nil
}
