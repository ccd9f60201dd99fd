// Package control implements the ControlPlane: the JSON command listener
// that lets external operators subscribe/unsubscribe symbol×period
// combinations at runtime and receive acknowledgements.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"xtbridge/internal/bar"
	"xtbridge/internal/busclient"
	"xtbridge/internal/engine"
	"xtbridge/internal/registry"
)

// Command is the wire shape accepted on the control channel. Unknown fields
// are ignored (encoding/json's default behavior).
type Command struct {
	Action      string   `json:"action"`
	StrategyID  string   `json:"strategy_id"`
	Codes       []string `json:"codes"`
	Periods     []string `json:"periods"`
	SubID       string   `json:"sub_id"`
	PreloadDays *int     `json:"preload_days"`
	Topic       string   `json:"topic"`
	Mode        string   `json:"mode"`
}

// AuditSink records a control command and the ACK it produced. Satisfied by
// *audit.Sink; kept as a narrow interface so control never imports pgx.
type AuditSink interface {
	Record(strategyID, action string, command, ack any)
}

// ControlPlane listens on the control channel, persists SubscriptionSpecs in
// the Registry, invokes the SubscriptionEngine, and publishes ACKs.
type ControlPlane struct {
	bus       *busclient.Bus
	channel   string
	ackPrefix string
	reg       *registry.Registry
	eng       *engine.Engine
	allowlist map[string]struct{}
	audit     AuditSink

	defaultPreloadDays int
	defaultTopic       string
	defaultMode        bar.Mode

	log zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

// Config bundles the fixed parameters a ControlPlane needs beyond its
// collaborators.
type Config struct {
	Channel            string
	AckPrefix          string
	AcceptStrategies   []string
	DefaultPreloadDays int
	DefaultTopic       string
	DefaultMode        bar.Mode
}

// New builds a ControlPlane. An empty AcceptStrategies means no allowlist
// restriction. audit may be nil to disable auditing entirely.
func New(bus *busclient.Bus, reg *registry.Registry, eng *engine.Engine, cfg Config, audit AuditSink, log zerolog.Logger) *ControlPlane {
	var allow map[string]struct{}
	if len(cfg.AcceptStrategies) > 0 {
		allow = make(map[string]struct{}, len(cfg.AcceptStrategies))
		for _, s := range cfg.AcceptStrategies {
			allow[s] = struct{}{}
		}
	}
	return &ControlPlane{
		bus:                bus,
		channel:            cfg.Channel,
		ackPrefix:          cfg.AckPrefix,
		reg:                reg,
		eng:                eng,
		allowlist:          allow,
		audit:              audit,
		defaultPreloadDays: cfg.DefaultPreloadDays,
		defaultTopic:       cfg.DefaultTopic,
		defaultMode:        cfg.DefaultMode,
		log:                log,
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
	}
}

// Run blocks, consuming control commands until Stop is called. On transport
// failure it reconnects with a short backoff; commands delivered during the
// outage are lost by design.
func (c *ControlPlane) Run(ctx context.Context) {
	defer close(c.done)

	backoff := 500 * time.Millisecond
	const maxBackoff = 10 * time.Second

	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		sub := c.bus.Subscribe(ctx, c.channel)
		stopped := c.consume(ctx, sub)
		sub.Close()
		if stopped {
			return
		}

		c.log.Warn().Dur("backoff", backoff).Msg("control channel disconnected, reconnecting")
		select {
		case <-time.After(backoff):
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// consume polls sub with a 1-second timeout until it sees a transport error
// (returns false, triggering reconnect in Run) or a stop signal (returns
// true).
func (c *ControlPlane) consume(ctx context.Context, sub *redis.PubSub) bool {
	for {
		select {
		case <-c.stop:
			return true
		case <-ctx.Done():
			return true
		default:
		}

		msg, err := sub.ReceiveTimeout(ctx, time.Second)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return true
			}
			return false
		}
		if m, ok := msg.(*redis.Message); ok {
			c.handle(ctx, m.Payload)
		}
	}
}

// Stop signals the loop to exit and waits for it to finish.
func (c *ControlPlane) Stop() {
	close(c.stop)
	<-c.done
}

func (c *ControlPlane) handle(ctx context.Context, payload string) {
	var cmd Command
	if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
		c.log.Debug().Err(err).Msg("dropping malformed control command")
		return
	}

	switch strings.ToLower(cmd.Action) {
	case "subscribe":
		c.handleSubscribe(ctx, cmd)
	case "unsubscribe":
		c.handleUnsubscribe(ctx, cmd)
	case "status":
		c.handleStatus(ctx, cmd)
	default:
		// Unknown actions are silently ignored.
	}
}

func (c *ControlPlane) handleSubscribe(ctx context.Context, cmd Command) {
	if cmd.StrategyID == "" {
		c.log.Debug().Msg("dropping subscribe command with empty strategy_id")
		return
	}
	if c.allowlist != nil {
		if _, ok := c.allowlist[cmd.StrategyID]; !ok {
			c.ack(ctx, cmd, ackMap{"ok": false, "error": "strategy not allowed"})
			return
		}
	}
	if len(cmd.Codes) == 0 || len(cmd.Periods) == 0 {
		c.ack(ctx, cmd, ackMap{"ok": false, "error": "codes/periods required"})
		return
	}

	periods, err := parsePeriods(cmd.Periods)
	if err != nil {
		c.ack(ctx, cmd, ackMap{"ok": false, "error": err.Error()})
		return
	}

	mode := bar.Mode(cmd.Mode)
	if mode == "" {
		mode = c.defaultMode
	}
	if !mode.Valid() {
		c.ack(ctx, cmd, ackMap{"ok": false, "error": fmt.Sprintf("invalid mode %q", cmd.Mode)})
		return
	}

	preloadDays := c.defaultPreloadDays
	if cmd.PreloadDays != nil {
		preloadDays = *cmd.PreloadDays
	}
	topic := c.defaultTopic
	if cmd.Topic != "" {
		topic = cmd.Topic
	}

	subID, err := registry.NewSubID(time.Now())
	if err != nil {
		c.ack(ctx, cmd, ackMap{"ok": false, "error": fmt.Sprintf("subscribe failed: %v", err)})
		return
	}

	spec := registry.Spec{
		SubID:       subID,
		StrategyID:  cmd.StrategyID,
		Codes:       cmd.Codes,
		Periods:     periods,
		Mode:        mode,
		PreloadDays: preloadDays,
		Topic:       topic,
		CreatedAt:   time.Now().Unix(),
	}
	if err := c.reg.Save(ctx, spec); err != nil {
		c.ack(ctx, cmd, ackMap{"ok": false, "error": fmt.Sprintf("subscribe failed: %v", err)})
		return
	}

	if err := c.eng.AddSubscription(ctx, cmd.Codes, periods, mode, preloadDays); err != nil {
		_ = c.reg.Delete(ctx, subID, cmd.StrategyID)
		c.ack(ctx, cmd, ackMap{"ok": false, "error": fmt.Sprintf("subscribe failed: %v", err)})
		return
	}

	c.ack(ctx, cmd, ackMap{
		"ok": true, "action": "subscribe", "sub_id": subID,
		"codes": cmd.Codes, "periods": periods, "mode": mode, "topic": topic,
	})
}

func (c *ControlPlane) handleUnsubscribe(ctx context.Context, cmd Command) {
	if cmd.StrategyID == "" {
		c.log.Debug().Msg("dropping unsubscribe command with empty strategy_id")
		return
	}

	codes := cmd.Codes
	var periods []bar.Period
	strategyID := cmd.StrategyID

	if cmd.SubID != "" {
		spec, ok, err := c.reg.Load(ctx, cmd.SubID)
		if err != nil {
			c.ack(ctx, cmd, ackMap{"ok": false, "error": err.Error()})
			return
		}
		if !ok {
			c.ack(ctx, cmd, ackMap{"ok": false, "error": "sub_id not found"})
			return
		}
		strategyID = spec.StrategyID
		if len(codes) == 0 {
			codes = spec.Codes
		}
		periods = spec.Periods
		if len(cmd.Periods) > 0 {
			overridden, err := parsePeriods(cmd.Periods)
			if err != nil {
				c.ack(ctx, cmd, ackMap{"ok": false, "error": err.Error()})
				return
			}
			periods = overridden
		}
		_ = c.reg.Delete(ctx, cmd.SubID, strategyID)
	} else {
		parsed, err := parsePeriods(cmd.Periods)
		if err != nil {
			c.ack(ctx, cmd, ackMap{"ok": false, "error": err.Error()})
			return
		}
		periods = parsed
	}

	_ = c.eng.RemoveSubscription(codes, periods)
	c.ack(ctx, cmd, ackMap{"ok": true, "action": "unsubscribe", "codes": codes, "periods": periods})
}

func (c *ControlPlane) handleStatus(ctx context.Context, cmd Command) {
	status := c.eng.Status()
	subs, err := c.reg.ListAll(ctx)
	if err != nil {
		c.ack(ctx, cmd, ackMap{"ok": false, "error": err.Error()})
		return
	}
	c.ack(ctx, cmd, ackMap{"ok": true, "action": "status", "status": status, "subs": subs})
}

type ackMap map[string]any

func (c *ControlPlane) ack(ctx context.Context, cmd Command, payload ackMap) {
	if c.audit != nil {
		c.audit.Record(cmd.StrategyID, strings.ToLower(cmd.Action), cmd, payload)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		c.log.Warn().Err(err).Msg("failed to encode ACK")
		return
	}
	out := strings.TrimRight(buf.String(), "\n")
	channel := c.ackPrefix + ":" + cmd.StrategyID
	if err := c.bus.Publish(ctx, channel, out); err != nil {
		c.log.Warn().Err(err).Msg("failed to publish ACK")
	}
}

func parsePeriods(raw []string) ([]bar.Period, error) {
	out := make([]bar.Period, 0, len(raw))
	for _, r := range raw {
		p := bar.Period(r)
		if !p.Valid() {
			return nil, fmt.Errorf("invalid period %q", r)
		}
		out = append(out, p)
	}
	return out, nil
}
