// Package registry persists SubscriptionSpecs in the bus KV so the control
// plane's view of "what's subscribed" survives a process restart. It is a
// stateless wrapper: every operation is an idempotent read/write against Bus
// hash/set keys, never an in-memory cache.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"xtbridge/internal/bar"
	"xtbridge/internal/busclient"
	"xtbridge/internal/xerr"
)

// Spec is the persisted SubscriptionSpec.
type Spec struct {
	SubID       string      `json:"sub_id"`
	StrategyID  string      `json:"strategy_id"`
	Codes       []string    `json:"codes"`
	Periods     []bar.Period `json:"periods"`
	Mode        bar.Mode    `json:"mode"`
	PreloadDays int         `json:"preload_days"`
	Topic       string      `json:"topic"`
	CreatedAt   int64       `json:"created_at"`
}

// Registry wraps a Bus with a fixed key layout: "<prefix>:subs",
// "<prefix>:sub:<sub_id>", "<prefix>:strategy:<strategy_id>:subs".
type Registry struct {
	bus    *busclient.Bus
	prefix string
}

// New builds a Registry keyed under prefix (config's control.registry_prefix).
func New(bus *busclient.Bus, prefix string) *Registry {
	return &Registry{bus: bus, prefix: prefix}
}

func (r *Registry) subsKey() string             { return r.prefix + ":subs" }
func (r *Registry) specKey(subID string) string { return r.prefix + ":sub:" + subID }
func (r *Registry) strategyKey(strategyID string) string {
	return r.prefix + ":strategy:" + strategyID + ":subs"
}

// NewSubID generates a server-side id in the format
// "sub-<YYYYMMDD-HHMMSS>-<8hex>". now is passed in rather than read from the
// clock internally so callers (and tests) control it.
func NewSubID(now time.Time) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", xerr.Bus("generating sub_id entropy", err)
	}
	return fmt.Sprintf("sub-%s-%s", now.In(bar.CNLocation).Format("20060102-150405"), hex.EncodeToString(buf)), nil
}

// Save writes spec into all three KV locations: a successful subscribe ACK
// implies membership in all three.
func (r *Registry) Save(ctx context.Context, spec Spec) error {
	fields, err := encode(spec)
	if err != nil {
		return err
	}
	if err := r.bus.HSet(ctx, r.specKey(spec.SubID), fields); err != nil {
		return err
	}
	if err := r.bus.SAdd(ctx, r.subsKey(), spec.SubID); err != nil {
		return err
	}
	if err := r.bus.SAdd(ctx, r.strategyKey(spec.StrategyID), spec.SubID); err != nil {
		return err
	}
	return nil
}

// Delete removes subID from all three KV locations. strategyID is needed to
// clean up the per-strategy set; callers that only have subID should Load
// first.
func (r *Registry) Delete(ctx context.Context, subID, strategyID string) error {
	if err := r.bus.Del(ctx, r.specKey(subID)); err != nil {
		return err
	}
	if err := r.bus.SRem(ctx, r.subsKey(), subID); err != nil {
		return err
	}
	if strategyID != "" {
		if err := r.bus.SRem(ctx, r.strategyKey(strategyID), subID); err != nil {
			return err
		}
	}
	return nil
}

// Load reads back a single spec. The second return is false if subID is not
// present (surfaced as RegistryConflict by callers unsubscribing by sub_id).
func (r *Registry) Load(ctx context.Context, subID string) (Spec, bool, error) {
	fields, err := r.bus.HGetAll(ctx, r.specKey(subID))
	if err != nil {
		return Spec{}, false, err
	}
	if len(fields) == 0 {
		return Spec{}, false, nil
	}
	spec, err := decode(subID, fields)
	if err != nil {
		return Spec{}, false, err
	}
	return spec, true, nil
}

// ListAll returns every persisted spec, sorted by sub_id for deterministic
// output (used by the control plane's "status" ACK).
func (r *Registry) ListAll(ctx context.Context) ([]Spec, error) {
	ids, err := r.bus.SMembers(ctx, r.subsKey())
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	specs := make([]Spec, 0, len(ids))
	for _, id := range ids {
		spec, ok, err := r.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			specs = append(specs, spec)
		}
	}
	return specs, nil
}

// ListByStrategy returns the sub_ids a given strategy currently owns.
func (r *Registry) ListByStrategy(ctx context.Context, strategyID string) ([]string, error) {
	ids, err := r.bus.SMembers(ctx, r.strategyKey(strategyID))
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// encode turns a Spec into the flat string-field hash the bus KV requires;
// list-valued fields are JSON-encoded.
func encode(spec Spec) (map[string]string, error) {
	codesJSON, err := json.Marshal(spec.Codes)
	if err != nil {
		return nil, xerr.RegistryConflict(fmt.Sprintf("encoding codes: %v", err))
	}
	periodsJSON, err := json.Marshal(spec.Periods)
	if err != nil {
		return nil, xerr.RegistryConflict(fmt.Sprintf("encoding periods: %v", err))
	}
	return map[string]string{
		"sub_id":       spec.SubID,
		"strategy_id":  spec.StrategyID,
		"codes":        string(codesJSON),
		"periods":      string(periodsJSON),
		"mode":         string(spec.Mode),
		"preload_days": strconv.Itoa(spec.PreloadDays),
		"topic":        spec.Topic,
		"created_at":   strconv.FormatInt(spec.CreatedAt, 10),
	}, nil
}

func decode(subID string, fields map[string]string) (Spec, error) {
	spec := Spec{SubID: subID}
	spec.StrategyID = fields["strategy_id"]
	spec.Mode = bar.Mode(fields["mode"])
	spec.Topic = fields["topic"]

	if v, ok := fields["codes"]; ok && v != "" {
		if err := json.Unmarshal([]byte(v), &spec.Codes); err != nil {
			return Spec{}, xerr.RegistryConflict(fmt.Sprintf("decoding codes for %s: %v", subID, err))
		}
	}
	if v, ok := fields["periods"]; ok && v != "" {
		if err := json.Unmarshal([]byte(v), &spec.Periods); err != nil {
			return Spec{}, xerr.RegistryConflict(fmt.Sprintf("decoding periods for %s: %v", subID, err))
		}
	}
	if v, ok := fields["preload_days"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Spec{}, xerr.RegistryConflict(fmt.Sprintf("decoding preload_days for %s: %v", subID, err))
		}
		spec.PreloadDays = n
	}
	if v, ok := fields["created_at"]; ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Spec{}, xerr.RegistryConflict(fmt.Sprintf("decoding created_at for %s: %v", subID, err))
		}
		spec.CreatedAt = n
	}
	return spec, nil
}
