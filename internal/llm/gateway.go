package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Mode decides what a Gateway does when the upstream call fails.
type Mode string

const (
	// ModeFallback answers with a canned reply.
	ModeFallback Mode = "fallback"
	// ModeError surfaces the failure to the caller.
	ModeError Mode = "error"
)

// ParseMode validates a configured mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFallback, ModeError:
		return Mode(s), nil
	case "":
		return ModeFallback, nil
	}
	return "", fmt.Errorf("unknown llm mode %q", s)
}

// Completer produces one assistant message for a conversation.
type Completer interface {
	Complete(ctx context.Context, msgs []Message) (string, error)
}

// Reply is the assistant's answer for one turn.
type Reply struct {
	Text     string
	Fallback bool
}

// Gateway performs one completion per turn and applies the failure mode.
type Gateway struct {
	client Completer
	mode   Mode
	logger *slog.Logger
}

// NewGateway creates a Gateway. The mode is fixed for the Gateway's lifetime.
func NewGateway(client Completer, mode Mode) *Gateway {
	if mode == "" {
		mode = ModeFallback
	}
	return &Gateway{client: client, mode: mode, logger: slog.Default()}
}

// Mode returns the configured failure mode.
func (g *Gateway) Mode() Mode { return g.mode }

// Reply sends msgs upstream. msgs must be non-empty.
func (g *Gateway) Reply(ctx context.Context, msgs []Message, hint string) (Reply, error) {
	if len(msgs) == 0 {
		return Reply{}, errors.New("no messages to send")
	}

	text, err := g.client.Complete(ctx, msgs)
	if err == nil {
		return Reply{Text: text}, nil
	}

	if g.mode == ModeError {
		if !errors.Is(err, ErrUpstream) {
			err = fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		return Reply{}, err
	}

	g.logger.Warn("chat completion failed, using canned reply", "error", err)
	if hint == "" {
		hint = msgs[len(msgs)-1].Content
	}
	return Reply{Text: CannedReply(msgs, hint), Fallback: true}, nil
}
