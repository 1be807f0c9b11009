// Package pipeline runs conversation turns: extraction results flow into the
// chat history, the history is shaped for the chat service, and replies and
// backlog generations are recorded in the response log.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/reqai/internal/backlog"
	"github.com/kalambet/reqai/internal/conversation"
	"github.com/kalambet/reqai/internal/extraction"
	"github.com/kalambet/reqai/internal/llm"
	"github.com/kalambet/reqai/internal/results"
	"github.com/kalambet/reqai/internal/storage"
)

const analysisPrefix = "## Requirements Analysis\n\n"

var (
	// ErrEmptyMessage is returned when a chat turn has no text.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoBacklog is returned when no backlog has been generated yet.
	ErrNoBacklog = errors.New("no backlog generated yet")
)

// Replier produces the assistant's reply for a transmitted sequence.
type Replier interface {
	Reply(ctx context.Context, msgs []llm.Message, hint string) (llm.Reply, error)
}

// Extractor turns uploads into extraction results.
type Extractor interface {
	Extract(ctx context.Context, uploads []extraction.Upload) (extraction.Outcome, error)
}

// BacklogGenerator structures requirement text into a backlog.
type BacklogGenerator interface {
	Generate(ctx context.Context, text string) (backlog.Set, error)
}

// SnapshotLoader returns the latest extraction results.
type SnapshotLoader interface {
	Load() (extraction.Result, error)
}

// ResponseLog records replies and generations.
type ResponseLog interface {
	SaveResponse(storage.Response) error
	SaveGeneration(storage.Generation) error
	LatestGeneration() (storage.Generation, error)
}

// UploadResult is the outcome of an upload turn.
type UploadResult struct {
	Extraction extraction.Outcome
	Digest     string
	Reply      llm.Reply
}

// Assistant binds the conversation builder, reply gateway, extraction,
// backlog generation and response log into turn operations.
type Assistant struct {
	builder   *conversation.Builder
	replier   Replier
	extractor Extractor
	generator BacklogGenerator
	snapshots SnapshotLoader
	log       ResponseLog
	model     string

	mu     sync.Mutex
	latest *backlog.Set

	now    func() time.Time
	logger *slog.Logger
}

// NewAssistant creates an Assistant. log may be nil, in which case nothing
// is recorded. model is stored with each logged reply.
func NewAssistant(
	builder *conversation.Builder,
	replier Replier,
	extractor Extractor,
	generator BacklogGenerator,
	snapshots SnapshotLoader,
	log ResponseLog,
	model string,
) *Assistant {
	return &Assistant{
		builder:   builder,
		replier:   replier,
		extractor: extractor,
		generator: generator,
		snapshots: snapshots,
		log:       log,
		model:     model,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// Send runs one chat turn: the user message is stored, the history is built
// and sent, and the reply is stored.
func (a *Assistant) Send(ctx context.Context, sess *conversation.Session, text string) (llm.Reply, error) {
	if strings.TrimSpace(text) == "" {
		return llm.Reply{}, ErrEmptyMessage
	}
	release, err := sess.BeginTurn()
	if err != nil {
		return llm.Reply{}, err
	}
	defer release()

	sess.Append(llm.Message{Role: llm.RoleUser, Content: text})

	msgs, err := a.builder.Build(sess.History())
	if err != nil {
		return llm.Reply{}, err
	}
	reply, err := a.replier.Reply(ctx, msgs, "")
	if err != nil {
		return llm.Reply{}, fmt.Errorf("chat turn: %w", err)
	}

	sess.Append(llm.Message{Role: llm.RoleAssistant, Content: reply.Text})
	a.record(sess.ID, storage.KindChat, text, reply, len(msgs))
	return reply, nil
}

// Upload runs an upload turn. The extraction digest is stored as an assistant
// message; the full results are sent once as a context turn that is not
// stored in the history.
func (a *Assistant) Upload(ctx context.Context, sess *conversation.Session, uploads []extraction.Upload) (UploadResult, error) {
	names, err := extraction.ValidateUploads(uploads)
	if err != nil {
		return UploadResult{}, err
	}
	release, err := sess.BeginTurn()
	if err != nil {
		return UploadResult{}, err
	}
	defer release()

	// History is only touched once the files have been extracted.
	outcome, err := a.extractor.Extract(ctx, uploads)
	if err != nil {
		return UploadResult{}, fmt.Errorf("extracting uploads: %w", err)
	}

	userText := "I've uploaded the following files: " + strings.Join(names, ", ")
	digest := conversation.ExtractionDigest(outcome.Results)
	sess.Append(
		llm.Message{Role: llm.RoleUser, Content: userText},
		llm.Message{Role: llm.RoleAssistant, Content: digest},
	)

	ctxMsg, err := conversation.ContextMessage(outcome.Results)
	if err != nil {
		return UploadResult{}, err
	}
	msgs, err := a.builder.Build(append(sess.History(), ctxMsg))
	if err != nil {
		return UploadResult{}, err
	}

	reply, err := a.replier.Reply(ctx, msgs, digest)
	if err != nil {
		return UploadResult{Extraction: outcome, Digest: digest}, fmt.Errorf("analysis turn: %w", err)
	}
	reply.Text = analysisPrefix + reply.Text

	sess.Append(llm.Message{Role: llm.RoleAssistant, Content: reply.Text})
	a.record(sess.ID, storage.KindUpload, userText, reply, len(msgs))
	return UploadResult{Extraction: outcome, Digest: digest, Reply: reply}, nil
}

// GenerateBacklog structures text into a backlog. Empty text means the
// latest extraction snapshot is used.
func (a *Assistant) GenerateBacklog(ctx context.Context, text string) (backlog.Set, error) {
	if strings.TrimSpace(text) == "" {
		snap, err := a.snapshots.Load()
		if errors.Is(err, results.ErrNotFound) {
			return backlog.Set{}, backlog.ErrNoInput
		}
		if err != nil {
			return backlog.Set{}, err
		}
		text = SnapshotText(snap)
	}

	set, err := a.generator.Generate(ctx, text)
	if err != nil {
		return backlog.Set{}, err
	}

	a.mu.Lock()
	a.latest = &set
	a.mu.Unlock()

	a.recordGeneration(set)
	return set, nil
}

// LatestBacklog returns the most recent backlog from memory or, after a
// restart, from the response log.
func (a *Assistant) LatestBacklog() (backlog.Set, error) {
	a.mu.Lock()
	latest := a.latest
	a.mu.Unlock()
	if latest != nil {
		return *latest, nil
	}
	return LoadLatestBacklog(a.log)
}

// LoadLatestBacklog decodes the newest generation recorded in log.
func LoadLatestBacklog(log ResponseLog) (backlog.Set, error) {
	if log == nil {
		return backlog.Set{}, ErrNoBacklog
	}
	g, err := log.LatestGeneration()
	if errors.Is(err, storage.ErrNotFound) {
		return backlog.Set{}, ErrNoBacklog
	}
	if err != nil {
		return backlog.Set{}, fmt.Errorf("loading latest backlog: %w", err)
	}
	var set backlog.Set
	if err := json.Unmarshal([]byte(g.SetJSON), &set); err != nil {
		return backlog.Set{}, fmt.Errorf("decoding latest backlog: %w", err)
	}
	return set, nil
}

// SnapshotText joins extraction results into one document, files by name.
func SnapshotText(r extraction.Result) string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, n := range names {
		fmt.Fprintf(&sb, "### %s\n%s\n\n", n, strings.TrimSpace(r[n].ExtractedText))
	}
	return strings.TrimSpace(sb.String())
}

func (a *Assistant) record(sessionID, kind, userText string, reply llm.Reply, transmitted int) {
	if a.log == nil {
		return
	}
	err := a.log.SaveResponse(storage.Response{
		ID:          uuid.NewString(),
		CreatedAt:   a.now(),
		SessionID:   sessionID,
		Kind:        kind,
		Model:       a.model,
		UserMessage: userText,
		Reply:       reply.Text,
		Fallback:    reply.Fallback,
		Transmitted: transmitted,
	})
	if err != nil {
		a.logger.Warn("recording reply failed", "session", sessionID, "error", err)
	}
}

func (a *Assistant) recordGeneration(set backlog.Set) {
	if a.log == nil {
		return
	}
	data, err := json.Marshal(set)
	if err != nil {
		a.logger.Warn("encoding backlog for log failed", "error", err)
		return
	}
	err = a.log.SaveGeneration(storage.Generation{
		ID:        uuid.NewString(),
		CreatedAt: set.GeneratedAt,
		Model:     a.model,
		Source:    set.Source,
		ItemCount: len(set.Items),
		SetJSON:   string(data),
	})
	if err != nil {
		a.logger.Warn("recording backlog generation failed", "error", err)
	}
}
