package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Physix85/Venus-AI/internal/completion"
	"github.com/Physix85/Venus-AI/internal/store"
	"github.com/Physix85/Venus-AI/pkg/domain"
)

const (
	// TitlePlaceholder is the title of a conversation before its first
	// assistant reply lands.
	TitlePlaceholder = "New Conversation"

	titleMaxLen    = 50
	titleTruncated = 47

	apologyText = "I apologize, but I ran into a problem generating a response. Please try again."

	emptyContentPlaceholder = "(no text, attachments only)"
)

// Error kinds recorded on failure-shaped assistant entries.
const (
	errKindTimeout  = "timeout"
	errKindUpstream = "upstream_error"
)

// Completer is the upstream generation boundary. *completion.Client satisfies
// it; tests substitute fakes.
type Completer interface {
	Complete(ctx context.Context, req completion.Request) (completion.Result, error)
}

// Defaults are the generation parameters stamped onto new conversations.
type Defaults struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// OrchestratorConfig wires the exchange orchestrator.
type OrchestratorConfig struct {
	Store     store.Store
	Completer Completer
	Defaults  Defaults
	// Timeout bounds each upstream call; a timed-out exchange settles with a
	// failure-shaped response. Defaults to 120s.
	Timeout time.Duration
	// SerializeConversations takes a per-conversation lock for the whole
	// exchange, trading interleaved writes for strict ordering. Off by
	// default: concurrent messages to the same conversation interleave.
	SerializeConversations bool
}

// Orchestrator runs the per-message state machine: validate, resolve the
// conversation, append the user entry, call upstream, and settle with exactly
// one terminal response event.
type Orchestrator struct {
	store     store.Store
	completer Completer
	defaults  Defaults
	timeout   time.Duration
	serialize bool

	mu        sync.Mutex
	convLocks map[string]*sync.Mutex
}

// NewOrchestrator builds an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Completer == nil {
		return nil, errors.New("completer required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Orchestrator{
		store:     cfg.Store,
		completer: cfg.Completer,
		defaults:  cfg.Defaults,
		timeout:   timeout,
		serialize: cfg.SerializeConversations,
		convLocks: make(map[string]*sync.Mutex),
	}, nil
}

// HandleChatMessage processes one inbound chat message end to end. Rejections
// before dispatch emit an error event and leave no trace; once the upstream
// call is dispatched, exactly one terminal response event fires, success or
// not. Per-message failures never close the connection.
func (o *Orchestrator) HandleChatMessage(ctx context.Context, c *Conn, msg ChatMessagePayload) {
	text := strings.TrimSpace(msg.Text)
	if text == "" && len(msg.Attachments) == 0 {
		c.Send(errorFrame("message is empty", ""))
		return
	}

	if o.serialize && msg.ConversationID != "" {
		lock := o.convLock(msg.ConversationID)
		lock.Lock()
		defer lock.Unlock()
	}

	conv, err := o.resolveConversation(msg.ConversationID, c.UserID())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.Send(errorFrame("conversation not found", ""))
		} else {
			slog.Error("conversation lookup failed",
				"conversation_id", msg.ConversationID, "user_id", c.UserID(), "err", err)
			c.Send(errorFrame("storage error", "conversation lookup failed"))
		}
		return
	}

	now := time.Now()
	userEntry := domain.Entry{
		ID:          uuid.NewString(),
		Role:        domain.RoleEntryUser,
		Content:     buildDisplayContent(text, msg.Attachments),
		Attachments: msg.Attachments,
		CreatedAt:   now,
	}
	conv.Entries = append(conv.Entries, userEntry)

	// Echo the user's own message before calling upstream so the client can
	// render it immediately.
	c.Send(Frame{Event: EventMessageReceived, Data: MessageReceivedPayload{
		ConversationID: conv.ID,
		Entry:          userEntry,
	}})
	c.Send(typingFrame(conv.ID, true))

	px := NewPendingExchange(c)
	o.dispatch(ctx, px, &conv)
}

// dispatch calls upstream and settles the exchange. The upstream call runs in
// its own goroutine resolving a single-slot channel; the timeout and the
// result race for the settled flag, and the loser is ignored.
func (o *Orchestrator) dispatch(ctx context.Context, px *PendingExchange, conv *domain.Conversation) {
	req := completion.Request{
		Messages:    assemblePrompt(conv),
		Model:       conv.Model,
		Temperature: conv.Temperature,
		MaxTokens:   conv.MaxTokens,
	}

	type outcome struct {
		res completion.Result
		err error
	}
	resolved := make(chan outcome, 1)
	go func() {
		res, err := o.completer.Complete(ctx, req)
		resolved <- outcome{res: res, err: err}
	}()

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()
	select {
	case out := <-resolved:
		if out.err != nil {
			o.settleFailure(px, conv, out.err)
		} else {
			o.settleSuccess(px, conv, out.res)
		}
	case <-timer.C:
		o.settleFailure(px, conv, completion.ErrTimeout)
		// A late result may still arrive; settlement already happened, so it
		// is dropped by the settled flag.
		go func() {
			out := <-resolved
			if out.err == nil {
				o.settleSuccess(px, conv, out.res)
			}
		}()
	}
}

// settleSuccess appends the generated entry, refreshes stats, rewrites the
// title on the transition to exactly two entries, persists, and emits the
// terminal response. A no-op if the exchange already settled.
func (o *Orchestrator) settleSuccess(px *PendingExchange, conv *domain.Conversation, res completion.Result) {
	if !px.Settle() {
		return
	}
	px.Conn.Send(typingFrame(conv.ID, false))

	now := time.Now()
	entry := domain.Entry{
		ID:      uuid.NewString(),
		Role:    domain.RoleEntryAssistant,
		Content: res.Text,
		Meta: domain.EntryMeta{
			Model: res.Model,
			Usage: domain.Usage{
				Prompt:     res.Usage.Prompt,
				Completion: res.Usage.Completion,
				Total:      res.Usage.Total,
			},
			DurationMillis: time.Since(px.StartedAt).Milliseconds(),
		},
		CreatedAt: now,
	}
	conv.Entries = append(conv.Entries, entry)
	conv.RefreshStats(now)
	o.maybeRewriteTitle(conv)
	o.persist(px.Conn, conv)

	px.Conn.Send(Frame{Event: EventResponse, Data: ResponsePayload{
		ConversationID: conv.ID,
		Entry:          entry,
		Conversation:   conv.Summary(),
	}})
}

// settleFailure converts an upstream failure or timeout into a stored
// apology entry and a warning-flagged terminal response. This path never
// propagates an error to the caller. A no-op if the exchange already settled.
func (o *Orchestrator) settleFailure(px *PendingExchange, conv *domain.Conversation, cause error) {
	if !px.Settle() {
		return
	}
	px.Conn.Send(typingFrame(conv.ID, false))

	kind := errKindUpstream
	if errors.Is(cause, completion.ErrTimeout) {
		kind = errKindTimeout
	}
	slog.Warn("upstream completion failed",
		"conversation_id", conv.ID, "exchange_id", px.ID, "kind", kind, "err", cause)

	now := time.Now()
	entry := domain.Entry{
		ID:      uuid.NewString(),
		Role:    domain.RoleEntryAssistant,
		Content: apologyText,
		Meta: domain.EntryMeta{
			Model:          conv.Model,
			DurationMillis: time.Since(px.StartedAt).Milliseconds(),
			Error:          true,
			ErrorKind:      kind,
		},
		CreatedAt: now,
	}
	conv.Entries = append(conv.Entries, entry)
	conv.RefreshStats(now)
	o.maybeRewriteTitle(conv)
	o.persist(px.Conn, conv)

	px.Conn.Send(Frame{Event: EventResponse, Data: ResponsePayload{
		ConversationID: conv.ID,
		Entry:          entry,
		Conversation:   conv.Summary(),
		Warning:        true,
	}})
}

// resolveConversation maps the inbound id to a conversation. The empty id is
// the "new conversation" sentinel: it always constructs a fresh record and is
// never looked up. Ownership of existing conversations is enforced by the
// lookup predicate, so a foreign conversation is indistinguishable from a
// missing one.
func (o *Orchestrator) resolveConversation(id, ownerID string) (domain.Conversation, error) {
	if id == "" {
		now := time.Now()
		return domain.Conversation{
			ID:           uuid.NewString(),
			OwnerID:      ownerID,
			Title:        TitlePlaceholder,
			Model:        o.defaults.Model,
			Temperature:  o.defaults.Temperature,
			MaxTokens:    o.defaults.MaxTokens,
			SystemPrompt: o.defaults.SystemPrompt,
			CreatedAt:    now,
			UpdatedAt:    now,
		}, nil
	}
	conv, ok, err := o.store.GetConversation(id, ownerID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	if !ok {
		return domain.Conversation{}, store.ErrNotFound
	}
	return conv, nil
}

// maybeRewriteTitle replaces the placeholder title exactly once, on the
// transition to two entries, from the first user entry's text.
func (o *Orchestrator) maybeRewriteTitle(conv *domain.Conversation) {
	if len(conv.Entries) != 2 || conv.Title != TitlePlaceholder {
		return
	}
	title := strings.TrimSpace(conv.Entries[0].Content)
	if utf8.RuneCountInString(title) > titleMaxLen {
		// Limits count characters, not bytes; never cut a rune in half.
		title = string([]rune(title)[:titleTruncated]) + "..."
	}
	if title != "" {
		conv.Title = title
	}
}

// persist saves best-effort: a failed save is logged and surfaced as an error
// event, but the exchange still settles with the in-memory entry.
func (o *Orchestrator) persist(c *Conn, conv *domain.Conversation) {
	if err := o.store.SaveConversation(*conv); err != nil {
		slog.Error("conversation save failed", "conversation_id", conv.ID, "err", err)
		c.Send(errorFrame("storage error", "conversation save failed"))
	}
}

// assemblePrompt flattens the conversation into ordered {role, content}
// pairs. The system instruction is prepended only when the conversation holds
// exactly its first entry at assembly time; there is no stored flag.
func assemblePrompt(conv *domain.Conversation) []completion.Message {
	msgs := make([]completion.Message, 0, len(conv.Entries)+1)
	if len(conv.Entries) == 1 && conv.SystemPrompt != "" {
		msgs = append(msgs, completion.Message{
			Role:    string(domain.RoleEntrySystem),
			Content: conv.SystemPrompt,
		})
	}
	for _, e := range conv.Entries {
		msgs = append(msgs, completion.Message{
			Role:    string(e.Role),
			Content: e.Content,
		})
	}
	return msgs
}

// buildDisplayContent concatenates the trimmed text with one block per
// attachment. Attachments with an excerpt contribute the excerpt under their
// filename tag; the rest contribute the tag alone. Attachment-only messages
// still produce non-empty content.
func buildDisplayContent(text string, attachments []domain.Attachment) string {
	var sb strings.Builder
	sb.WriteString(text)
	for _, a := range attachments {
		if a.Excerpt != nil {
			sb.WriteString("\n[Attachment: " + a.OriginalName + "]\n" + *a.Excerpt)
		} else {
			sb.WriteString("\n[Attachment: " + a.OriginalName + "]")
		}
	}
	content := sb.String()
	if strings.TrimSpace(content) == "" {
		return emptyContentPlaceholder
	}
	return content
}

func (o *Orchestrator) convLock(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.convLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		o.convLocks[id] = lock
	}
	return lock
}

func typingFrame(conversationID string, typing bool) Frame {
	return Frame{Event: EventTypingIndicator, Data: TypingPayload{
		ConversationID: conversationID,
		Typing:         typing,
	}}
}

func errorFrame(message, details string) Frame {
	return Frame{Event: EventError, Data: ErrorPayload{Message: message, Details: details}}
}
