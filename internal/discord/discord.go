// Package discord is the boundary to the external command registry and
// messaging collaborators. The core depends only on the interfaces here;
// the wire format behind them is the collaborator's business.
package discord

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMessageGone reports that an edit target no longer exists; the caller
// should post a fresh message and replace its stored reference.
var ErrMessageGone = errors.New("message no longer exists")

// RateLimitError reports a rejected call with the delay the collaborator
// asked us to wait before retrying.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// MessageRef identifies one persisted message.
type MessageRef string

// Command is one entry of the externally-registered command schema.
type Command struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Options     []CommandOption `json:"options,omitempty"`
}

// CommandOption is one parameter of a command.
type CommandOption struct {
	Type        int    `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required,omitempty"`
}

// CommandRegistry registers the current command schema. The operation is
// idempotent on the collaborator side but rate limited, which is why the
// sync gate calls it only on genuine schema change.
type CommandRegistry interface {
	RegisterCommands(ctx context.Context, commands []Command) error
}

// Messenger posts and edits persisted messages in a channel.
type Messenger interface {
	Post(ctx context.Context, channelRef, content string) (MessageRef, error)
	Edit(ctx context.Context, channelRef string, ref MessageRef, content string) error
}
