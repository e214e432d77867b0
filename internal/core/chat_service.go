package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gwi.com/wellness-chat/internal/store"
)

const (
	DemoEmail = "demo@wellness.ai"
	DemoName  = "Explorer"
)

// Workspace is everything one signed-in user works with.
type Workspace struct {
	*Conversation
	Sessions *SessionManager
}

type ChatService struct {
	store   *store.Store
	guide   Guide
	timeout time.Duration
	logger  *zap.Logger

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

func NewChatService(st *store.Store, guide Guide, timeout time.Duration, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		store:      st,
		guide:      guide,
		timeout:    timeout,
		logger:     logger,
		workspaces: make(map[string]*Workspace),
	}
}

// Workspace returns the user's live conversation, loading it from the store on
// first use. A workspace whose load failed is not kept; the next call retries.
func (s *ChatService) Workspace(ctx context.Context, userID string) (*Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ws, ok := s.workspaces[userID]; ok {
		return ws, nil
	}
	conv := NewConversation(userID, s.store, s.guide, s.timeout, s.logger)
	if err := conv.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	sessions := NewSessionManager(conv)
	if err := sessions.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	ws := &Workspace{Conversation: conv, Sessions: sessions}
	s.workspaces[userID] = ws
	s.logger.Debug("Loaded workspace", zap.String("user_id", userID))
	return ws, nil
}

func (s *ChatService) SignUp(ctx context.Context, name, email, password string) (*store.User, error) {
	user, err := s.store.SaveUser(ctx, name, email, password)
	if err != nil {
		return nil, err
	}
	s.logger.Info("User signed up", zap.String("user_id", user.ID))
	return user, nil
}

func (s *ChatService) Login(ctx context.Context, email, password string) (*store.User, error) {
	return s.store.Authenticate(ctx, email, password)
}

func (s *ChatService) GetUser(ctx context.Context, userID string) (*store.User, error) {
	return s.store.GetUser(ctx, userID)
}

// SeedDemoUser returns the demo account, creating it on first use. The demo
// account is entered without a password, so it gets a random one.
func (s *ChatService) SeedDemoUser(ctx context.Context) (*store.User, error) {
	if user, ok := s.findUser(ctx, DemoEmail); ok {
		return user, nil
	}
	user, err := s.store.SaveUser(ctx, DemoName, DemoEmail, uuid.NewString())
	if errors.Is(err, store.ErrEmailTaken) {
		if user, ok := s.findUser(ctx, DemoEmail); ok {
			return user, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create demo user: %w", err)
	}
	s.logger.Info("Created demo user", zap.String("user_id", user.ID))
	return user, nil
}

func (s *ChatService) findUser(ctx context.Context, email string) (*store.User, bool) {
	for _, u := range s.store.ListUsers(ctx) {
		if u.Email == email {
			user := u
			return &user, true
		}
	}
	return nil, false
}
