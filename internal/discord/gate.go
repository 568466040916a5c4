package discord

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	"github.com/emerald/deadside-tracker/internal/metrics"
)

// SyncResult is the outcome of a gate check.
type SyncResult int

const (
	SyncSkipped SyncResult = iota
	SyncSynced
)

func (r SyncResult) String() string {
	if r == SyncSynced {
		return "synced"
	}
	return "skipped"
}

const schemaHashKey = "command_schema_hash"

const gateSyncAttempts = 4

// MetaStore persists the last successfully registered schema hash.
type MetaStore interface {
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}

// Gate prevents redundant, rate-limited schema registration calls. It
// registers only when the schema hash differs from the persisted one, and
// only after the post-connect delay has passed.
type Gate struct {
	registry CommandRegistry
	store    MetaStore
	delay    time.Duration
	logger   zerolog.Logger
}

// NewGate creates a schema sync gate.
func NewGate(registry CommandRegistry, store MetaStore, postConnectDelay time.Duration, logger zerolog.Logger) *Gate {
	return &Gate{registry: registry, store: store, delay: postConnectDelay, logger: logger}
}

// SchemaHash fingerprints the canonical command-definition set.
func SchemaHash(commands []Command) (string, error) {
	data, err := json.Marshal(commands)
	if err != nil {
		return "", fmt.Errorf("encoding command schema: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// MaybeSync registers the command schema if and only if it changed since the
// last successful registration. The new hash is persisted only after the
// registration call succeeds, so a failed sync is retried on the next start.
func (g *Gate) MaybeSync(ctx context.Context, commands []Command) (SyncResult, error) {
	hash, err := SchemaHash(commands)
	if err != nil {
		return SyncSkipped, err
	}

	prev, err := g.store.GetMeta(ctx, schemaHashKey)
	if err != nil {
		return SyncSkipped, fmt.Errorf("reading schema hash: %w", err)
	}
	if prev == hash {
		g.logger.Info().Msg("command schema unchanged, skipping registration")
		metrics.SchemaSyncs.WithLabelValues("skipped").Inc()
		return SyncSkipped, nil
	}

	// Let the startup storm settle before touching the rate limiter.
	select {
	case <-ctx.Done():
		return SyncSkipped, ctx.Err()
	case <-time.After(g.delay):
	}

	if err := g.register(ctx, commands); err != nil {
		return SyncSkipped, err
	}

	if err := g.store.SetMeta(ctx, schemaHashKey, hash); err != nil {
		return SyncSynced, fmt.Errorf("persisting schema hash: %w", err)
	}
	g.logger.Info().Str("hash", hash[:12]).Int("commands", len(commands)).
		Msg("command schema registered")
	metrics.SchemaSyncs.WithLabelValues("synced").Inc()
	return SyncSynced, nil
}

// register retries the registration call, honoring the collaborator's
// reported backoff on rate limits. It never widens into an unconditional
// global sync: only this one call, repeated.
func (g *Gate) register(ctx context.Context, commands []Command) error {
	var lastErr error
	delay := 2 * time.Second

	for attempt := 0; attempt < gateSyncAttempts; attempt++ {
		err := g.registry.RegisterCommands(ctx, commands)
		if err == nil {
			return nil
		}
		lastErr = err

		wait := delay
		var rl *RateLimitError
		if errors.As(err, &rl) {
			wait = rl.RetryAfter
		} else {
			delay *= 2
		}
		g.logger.Warn().Int("attempt", attempt+1).Dur("wait", wait).Err(err).
			Msg("schema registration failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("registering command schema: %w", lastErr)
}
