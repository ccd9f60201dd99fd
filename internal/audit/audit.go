// Package audit is a control-command audit sink: it records subscribe and
// unsubscribe commands (and their ACKs) to Postgres for after-the-fact
// review. Bar data never touches persistent storage — the bridge stays
// stateless with respect to the data it fans out.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Sink writes control-command audit rows to Postgres. A nil *Sink is a
// valid no-op (audit.enabled=false in config), so callers never need to
// branch on whether auditing is configured.
type Sink struct {
	pool *pgxpool.Pool
}

// New connects to dsn and ensures the audit table exists.
func New(ctx context.Context, dsn string) (*Sink, error) {
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(connCtx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: pgxpool.New: %w", err)
	}
	s := &Sink{pool: pool}
	if err := s.ensureSchema(connCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool. Safe to call on a nil Sink.
func (s *Sink) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `create table if not exists control_commands (
		id bigserial primary key,
		ts timestamptz not null default now(),
		strategy_id text not null,
		action text not null,
		command jsonb,
		ack jsonb
	)`)
	if err != nil {
		return fmt.Errorf("audit: ensureSchema: %w", err)
	}
	_, err = s.pool.Exec(ctx, `create index if not exists idx_control_commands_strategy on control_commands(strategy_id, ts desc)`)
	if err != nil {
		return fmt.Errorf("audit: ensureSchema index: %w", err)
	}
	return nil
}

// Record writes one control-command/ACK pair, fire-and-forget: the control
// plane's hot path never blocks on audit writes. Write failures are
// swallowed — audit is best-effort and must never affect control-plane
// behavior.
func (s *Sink) Record(strategyID, action string, command, ack any) {
	if s == nil || s.pool == nil {
		return
	}
	cmdJSON, _ := json.Marshal(command)
	ackJSON, _ := json.Marshal(ack)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, _ = s.pool.Exec(ctx,
			`insert into control_commands(strategy_id, action, command, ack) values($1,$2,$3,$4)`,
			strategyID, action, cmdJSON, ackJSON)
	}()
}
