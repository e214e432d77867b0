package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gwi.com/wellness-chat/internal/metrics"
	"gwi.com/wellness-chat/internal/store"
)

const (
	previewRunes   = 30
	defaultPreview = "New Session"
)

// SessionManager archives and restores whole conversations. It shares the
// conversation's lock so archival never races a reply being appended.
type SessionManager struct {
	conv     *Conversation
	sessions []store.ChatSession
}

func NewSessionManager(conv *Conversation) *SessionManager {
	return &SessionManager{conv: conv}
}

func (m *SessionManager) Load(ctx context.Context) error {
	c := m.conv
	sessions, err := c.store.LoadSessions(context.WithoutCancel(ctx), c.userID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m.sessions = sessions
	return nil
}

// StartNewSession archives the current conversation and resets it. An empty
// conversation is not archived; only the draft, pending feeling and
// attachment are reset and nil is returned.
func (m *SessionManager) StartNewSession(ctx context.Context) (*store.ChatSession, error) {
	c := m.conv
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight {
		return nil, ErrGuidanceInFlight
	}
	persistCtx := context.WithoutCancel(ctx)

	if len(c.history) == 0 {
		m.resetLocked(persistCtx)
		return nil, nil
	}

	session := store.ChatSession{
		ID:        uuid.NewString(),
		UserID:    c.userID,
		Timestamp: time.Now(),
		Preview:   sessionPreview(c.history),
		Messages:  append([]store.ChatMessage(nil), c.history...),
	}
	if err := c.store.SaveSession(persistCtx, c.userID, session); err != nil {
		return nil, fmt.Errorf("failed to archive session: %w", err)
	}
	metrics.SessionsArchived.Inc()
	c.logger.Info("Archived session", zap.String("session_id", session.ID), zap.Int("messages", len(session.Messages)))

	m.sessions = append([]store.ChatSession{session}, m.sessions...)
	c.history = nil
	c.logIfErr(c.store.ClearHistory(persistCtx, c.userID), "clear history")
	m.resetLocked(persistCtx)
	return &session, nil
}

func (m *SessionManager) resetLocked(ctx context.Context) {
	c := m.conv
	c.draft = ""
	c.pending = ""
	c.attachment = nil
	c.logIfErr(c.store.ClearDraft(ctx, c.userID), "clear draft")
	c.logIfErr(c.store.ClearPendingFeeling(ctx, c.userID), "clear pending feeling")
}

// LoadSession makes a copy of an archived session the active conversation.
func (m *SessionManager) LoadSession(ctx context.Context, sessionID string) ([]store.ChatMessage, error) {
	c := m.conv
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight {
		return nil, ErrGuidanceInFlight
	}
	session, ok := m.find(sessionID)
	if !ok {
		return nil, store.ErrSessionNotFound
	}

	persistCtx := context.WithoutCancel(ctx)
	c.history = append([]store.ChatMessage(nil), session.Messages...)
	c.persistHistory(persistCtx)
	if c.pending != "" {
		c.pending = ""
		c.logIfErr(c.store.ClearPendingFeeling(persistCtx, c.userID), "clear pending feeling")
	}
	return append([]store.ChatMessage(nil), c.history...), nil
}

// ListSessions returns the archive, most recent first.
func (m *SessionManager) ListSessions() []store.ChatSession {
	c := m.conv
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]store.ChatSession(nil), m.sessions...)
}

func (m *SessionManager) DeleteSession(ctx context.Context, sessionID string) error {
	c := m.conv
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := m.find(sessionID); !ok {
		return store.ErrSessionNotFound
	}
	err := c.store.DeleteSession(context.WithoutCancel(ctx), c.userID, sessionID)
	if err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	kept := make([]store.ChatSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.ID != sessionID {
			kept = append(kept, s)
		}
	}
	m.sessions = kept
	return nil
}

func (m *SessionManager) find(sessionID string) (store.ChatSession, bool) {
	for _, s := range m.sessions {
		if s.ID == sessionID {
			return s, true
		}
	}
	return store.ChatSession{}, false
}

// sessionPreview is the first user text, cut to previewRunes runes.
func sessionPreview(history []store.ChatMessage) string {
	for _, msg := range history {
		if msg.Role != store.RoleUser {
			continue
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}
		if utf8.RuneCountInString(text) <= previewRunes {
			return text
		}
		return string([]rune(text)[:previewRunes]) + "..."
	}
	return defaultPreview
}
