package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gwi.com/wellness-chat/internal/guidance"
	"gwi.com/wellness-chat/internal/metrics"
	"gwi.com/wellness-chat/internal/store"
)

const (
	RolePromptText = "Could you tell me which role describes you best?"
	FallbackText   = "I encountered a moment of static. Could you try sharing that again?"

	DefaultGuidanceTimeout = 60 * time.Second
)

// Roles offered in answer to the role prompt.
var Roles = []string{"Student", "Businessman", "Employee", "Other"}

var (
	ErrGuidanceInFlight = errors.New("a guidance request is already in progress")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrNoPendingFeeling = errors.New("no feeling is waiting for a role")
	ErrInvalidTone      = errors.New("unknown tone")
)

type State string

const (
	StateIdle         State = "idle"
	StateAwaitingRole State = "awaiting_role"
)

// Guide produces wellness guidance. *guidance.Client satisfies it.
type Guide interface {
	RequestGuidance(ctx context.Context, req guidance.Request) (*store.WellnessResponse, error)
}

// Snapshot is a point-in-time copy of a conversation.
type Snapshot struct {
	State          State               `json:"state"`
	Busy           bool                `json:"busy"`
	Messages       []store.ChatMessage `json:"messages"`
	Draft          string              `json:"draft"`
	PendingFeeling string              `json:"pending_feeling,omitempty"`
	Attachment     *store.Image        `json:"attachment,omitempty"`
	Preferences    store.Preferences   `json:"preferences"`
}

// Conversation is the live chat of one user. All state lives behind mu; the
// guidance call is the only step made without holding it, and inFlight keeps a
// second one from starting meanwhile.
type Conversation struct {
	userID  string
	store   *store.Store
	guide   Guide
	timeout time.Duration
	logger  *zap.Logger

	mu         sync.Mutex
	history    []store.ChatMessage
	draft      string
	pending    string
	attachment *store.Image
	prefs      store.Preferences
	inFlight   bool
}

func NewConversation(userID string, st *store.Store, guide Guide, timeout time.Duration, logger *zap.Logger) *Conversation {
	if timeout <= 0 {
		timeout = DefaultGuidanceTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conversation{
		userID:  userID,
		store:   st,
		guide:   guide,
		timeout: timeout,
		logger:  logger.With(zap.String("user_id", userID)),
		prefs:   store.DefaultPreferences(),
	}
}

// Load replaces the in-memory state with what the store holds for the user.
// A failed read leaves the conversation untouched and is returned, so an
// unreadable history is never taken for an empty one and overwritten. The
// reads ignore cancellation of ctx.
func (c *Conversation) Load(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	history, err := c.store.LoadHistory(ctx, c.userID)
	if err != nil {
		return err
	}
	draft, err := c.store.LoadDraft(ctx, c.userID)
	if err != nil {
		return err
	}
	pending, err := c.store.LoadPendingFeeling(ctx, c.userID)
	if err != nil {
		return err
	}
	prefs, err := c.store.LoadPreferences(ctx, c.userID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = history
	c.draft = draft
	c.pending = pending
	c.prefs = prefs
	c.attachment = nil
	return nil
}

func (c *Conversation) state() State {
	if c.pending != "" {
		return StateAwaitingRole
	}
	return StateIdle
}

func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state()
}

func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:          c.state(),
		Busy:           c.inFlight,
		Messages:       append([]store.ChatMessage(nil), c.history...),
		Draft:          c.draft,
		PendingFeeling: c.pending,
		Attachment:     c.attachment,
		Preferences:    c.prefs,
	}
}

// Send handles one message from the user. The first message of an empty
// conversation is held as the pending feeling and answered with the role
// prompt; a message sent while a role is awaited is taken as the role. An
// image sent without text has no feeling to hold and goes straight to guidance.
// The returned message is the assistant's reply.
func (c *Conversation) Send(ctx context.Context, text string) (*store.ChatMessage, error) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return nil, ErrGuidanceInFlight
	}
	text = strings.TrimSpace(text)
	if text == "" && c.attachment == nil {
		c.mu.Unlock()
		return nil, ErrEmptyMessage
	}

	persistCtx := context.WithoutCancel(ctx)
	c.draft = ""
	c.logIfErr(c.store.ClearDraft(persistCtx, c.userID), "clear draft")

	prior := append([]store.ChatMessage(nil), c.history...)
	userMsg := newMessage(store.RoleUser, text)
	userMsg.Image = c.attachment
	c.history = append(c.history, userMsg)

	var req guidance.Request
	switch {
	case c.pending != "":
		req = c.request(c.pending, text, prior)
	case len(prior) == 0 && text != "":
		c.pending = text
		prompt := newMessage(store.RoleAssistant, RolePromptText)
		prompt.IsRoleSelectionPrompt = true
		c.history = append(c.history, prompt)
		c.logIfErr(c.store.SavePendingFeeling(persistCtx, c.userID, text), "save pending feeling")
		c.persistHistory(persistCtx)
		c.mu.Unlock()
		return &prompt, nil
	default:
		req = c.request(text, "", prior)
	}

	c.inFlight = true
	c.persistHistory(persistCtx)
	c.mu.Unlock()

	reply := c.dispatch(ctx, req)
	return &reply, nil
}

// SelectRole answers the role prompt with one of the offered roles.
func (c *Conversation) SelectRole(ctx context.Context, role string) (*store.ChatMessage, error) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return nil, ErrGuidanceInFlight
	}
	if c.pending == "" {
		c.mu.Unlock()
		return nil, ErrNoPendingFeeling
	}
	role = strings.TrimSpace(role)
	if role == "" {
		c.mu.Unlock()
		return nil, ErrEmptyMessage
	}

	prior := append([]store.ChatMessage(nil), c.history...)
	c.history = append(c.history, newMessage(store.RoleUser, role))
	req := c.request(c.pending, role, prior)

	c.inFlight = true
	c.persistHistory(context.WithoutCancel(ctx))
	c.mu.Unlock()

	reply := c.dispatch(ctx, req)
	return &reply, nil
}

// request must be called with mu held. prior is trimmed by the guidance client.
func (c *Conversation) request(feeling, role string, prior []store.ChatMessage) guidance.Request {
	return guidance.Request{
		Feeling:  feeling,
		Tone:     c.prefs.Tone,
		StepMode: c.prefs.StepMode,
		Image:    c.attachment,
		Role:     role,
		History:  prior,
	}
}

// dispatch runs the guidance call without the lock. Whatever happens, the
// reply (or the fallback) is appended, the pending feeling and attachment are
// cleared and the gate is released.
func (c *Conversation) dispatch(ctx context.Context, req guidance.Request) (reply store.ChatMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Guidance call panicked", zap.Any("panic", r))
			metrics.GuidanceRequests.WithLabelValues("fallback").Inc()
			reply = newMessage(store.RoleAssistant, FallbackText)
		}
		c.finish(context.WithoutCancel(ctx), reply)
	}()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.guide.RequestGuidance(callCtx, req)
	if err != nil {
		c.logger.Warn("Guidance request failed, replying with fallback", zap.Error(err))
		metrics.GuidanceRequests.WithLabelValues("fallback").Inc()
		return newMessage(store.RoleAssistant, FallbackText)
	}
	metrics.GuidanceRequests.WithLabelValues("ok").Inc()

	msg := newMessage(store.RoleAssistant, resp.AICommentary)
	msg.Data = resp
	return msg
}

func (c *Conversation) finish(ctx context.Context, reply store.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, reply)
	if c.pending != "" {
		c.pending = ""
		c.logIfErr(c.store.ClearPendingFeeling(ctx, c.userID), "clear pending feeling")
	}
	c.attachment = nil
	c.inFlight = false
	c.persistHistory(ctx)
}

func (c *Conversation) AttachImage(img *store.Image) error {
	if img == nil || len(img.Data) == 0 {
		return fmt.Errorf("image is empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return ErrGuidanceInFlight
	}
	c.attachment = img
	return nil
}

func (c *Conversation) ClearAttachment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachment = nil
}

// SetDraft stores the unsent input text. It is written through on every change.
func (c *Conversation) SetDraft(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
	return c.store.SaveDraft(context.WithoutCancel(ctx), c.userID, text)
}

func (c *Conversation) SetTone(ctx context.Context, tone store.Tone) error {
	if !tone.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTone, tone)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefs.Tone = tone
	return c.store.SavePreferences(context.WithoutCancel(ctx), c.userID, c.prefs)
}

func (c *Conversation) SetStepMode(ctx context.Context, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefs.StepMode = on
	return c.store.SavePreferences(context.WithoutCancel(ctx), c.userID, c.prefs)
}

// persistHistory must be called with mu held.
func (c *Conversation) persistHistory(ctx context.Context) {
	c.logIfErr(c.store.SaveHistory(ctx, c.userID, c.history), "save history")
}

func (c *Conversation) logIfErr(err error, op string) {
	if err != nil {
		c.logger.Warn("Failed to persist conversation", zap.String("op", op), zap.Error(err))
	}
}

func newMessage(role store.MessageRole, text string) store.ChatMessage {
	return store.ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}
