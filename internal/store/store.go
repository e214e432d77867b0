package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gwi.com/wellness-chat/internal/auth"
	"gwi.com/wellness-chat/internal/metrics"
)

var (
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrMissingCredentials = errors.New("email and password are required")
	ErrPasswordTooLong    = fmt.Errorf("password must be at most %d bytes", auth.MaxPasswordBytes)
)

// Store is the typed, per-user view over a Backend. The Get methods fail soft:
// missing, corrupt or unreadable records come back as empty values and are
// logged. The Load methods return backend errors so callers can tell a failed
// read from an empty record.
type Store struct {
	backend Backend
	logger  *zap.Logger

	// mu serializes read-modify-write updates of list records (users, sessions).
	mu sync.Mutex
}

func New(backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger}
}

func (s *Store) Close() error {
	return s.backend.Close()
}

// loadJSON decodes the record at key into v and reports whether a usable
// record was found. Backend errors are returned; a record that does not parse
// is logged and reported as not found.
func (s *Store) loadJSON(ctx context.Context, key Key, v any) (bool, error) {
	raw, found, err := s.backend.Get(ctx, key)
	if err != nil {
		metrics.StorageFailures.WithLabelValues("read").Inc()
		return false, fmt.Errorf("failed to read %s record: %w", key.Kind, err)
	}
	if !found || raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		metrics.StorageFailures.WithLabelValues("decode").Inc()
		s.readFailed(key, fmt.Errorf("failed to parse record: %w", err))
		return false, nil
	}
	return true, nil
}

func (s *Store) writeJSON(ctx context.Context, key Key, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		metrics.StorageFailures.WithLabelValues("encode").Inc()
		return fmt.Errorf("failed to encode %s record: %w", key.Kind, err)
	}
	if err := s.backend.Put(ctx, key, string(data)); err != nil {
		metrics.StorageFailures.WithLabelValues("write").Inc()
		return fmt.Errorf("failed to save %s record: %w", key.Kind, err)
	}
	return nil
}

func (s *Store) remove(ctx context.Context, key Key) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		metrics.StorageFailures.WithLabelValues("delete").Inc()
		return fmt.Errorf("failed to delete %s record: %w", key.Kind, err)
	}
	return nil
}

func (s *Store) readFailed(key Key, err error) {
	s.logger.Warn("Treating unreadable record as empty",
		zap.String("kind", string(key.Kind)),
		zap.String("user_id", key.UserID),
		zap.Error(err))
}

// User methods

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) loadUsers(ctx context.Context) ([]UserRecord, error) {
	var users []UserRecord
	if _, err := s.loadJSON(ctx, Key{Kind: KindUsers}, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) users(ctx context.Context) []UserRecord {
	users, err := s.loadUsers(ctx)
	if err != nil {
		s.readFailed(Key{Kind: KindUsers}, err)
	}
	return users
}

func (s *Store) ListUsers(ctx context.Context) []User {
	records := s.users(ctx)
	users := make([]User, 0, len(records))
	for _, r := range records {
		users = append(users, r.User)
	}
	return users
}

// SaveUser registers a new account. It returns ErrEmailTaken, leaving the user
// list untouched, when the email is already registered. If the list cannot be
// read nothing is written.
func (s *Store) SaveUser(ctx context.Context, name, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	if len(password) > auth.MaxPasswordBytes {
		return nil, ErrPasswordTooLong
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Email == email {
			return nil, ErrEmailTaken
		}
	}

	if strings.TrimSpace(name) == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	record := UserRecord{
		User:         User{ID: uuid.NewString(), Email: email, Name: strings.TrimSpace(name)},
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	users = append(users, record)
	if err := s.writeJSON(ctx, Key{Kind: KindUsers}, users); err != nil {
		return nil, err
	}
	return &record.User, nil
}

// Authenticate returns ErrInvalidCredentials for both an unknown email and a wrong password.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	for _, u := range s.users(ctx) {
		if u.Email != email {
			continue
		}
		if !auth.CheckPasswordHash(password, u.PasswordHash) {
			return nil, ErrInvalidCredentials
		}
		user := u.User
		return &user, nil
	}
	return nil, ErrInvalidCredentials
}

func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	for _, u := range s.users(ctx) {
		if u.ID == id {
			user := u.User
			return &user, nil
		}
	}
	return nil, ErrUserNotFound
}

// History methods

func (s *Store) LoadHistory(ctx context.Context, userID string) ([]ChatMessage, error) {
	var messages []ChatMessage
	if _, err := s.loadJSON(ctx, Key{UserID: userID, Kind: KindHistory}, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *Store) GetHistory(ctx context.Context, userID string) []ChatMessage {
	messages, err := s.LoadHistory(ctx, userID)
	if err != nil {
		s.readFailed(Key{UserID: userID, Kind: KindHistory}, err)
	}
	return messages
}

// SaveHistory overwrites the active history. Saving an empty list clears it.
func (s *Store) SaveHistory(ctx context.Context, userID string, messages []ChatMessage) error {
	if len(messages) == 0 {
		return s.ClearHistory(ctx, userID)
	}
	return s.writeJSON(ctx, Key{UserID: userID, Kind: KindHistory}, messages)
}

func (s *Store) ClearHistory(ctx context.Context, userID string) error {
	return s.remove(ctx, Key{UserID: userID, Kind: KindHistory})
}

// Draft methods

func (s *Store) LoadDraft(ctx context.Context, userID string) (string, error) {
	raw, found, err := s.backend.Get(ctx, Key{UserID: userID, Kind: KindDraft})
	if err != nil {
		metrics.StorageFailures.WithLabelValues("read").Inc()
		return "", fmt.Errorf("failed to read draft: %w", err)
	}
	if !found {
		return "", nil
	}
	return raw, nil
}

func (s *Store) GetDraft(ctx context.Context, userID string) string {
	draft, err := s.LoadDraft(ctx, userID)
	if err != nil {
		s.readFailed(Key{UserID: userID, Kind: KindDraft}, err)
	}
	return draft
}

func (s *Store) SaveDraft(ctx context.Context, userID, text string) error {
	if text == "" {
		return s.ClearDraft(ctx, userID)
	}
	if err := s.backend.Put(ctx, Key{UserID: userID, Kind: KindDraft}, text); err != nil {
		metrics.StorageFailures.WithLabelValues("write").Inc()
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}

func (s *Store) ClearDraft(ctx context.Context, userID string) error {
	return s.remove(ctx, Key{UserID: userID, Kind: KindDraft})
}

// Session methods

// LoadSessions returns archived sessions, most recent first.
func (s *Store) LoadSessions(ctx context.Context, userID string) ([]ChatSession, error) {
	var sessions []ChatSession
	if _, err := s.loadJSON(ctx, Key{UserID: userID, Kind: KindSessions}, &sessions); err != nil {
		return nil, err
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].Timestamp.After(sessions[j].Timestamp)
	})
	return sessions, nil
}

func (s *Store) GetSessions(ctx context.Context, userID string) []ChatSession {
	sessions, err := s.LoadSessions(ctx, userID)
	if err != nil {
		s.readFailed(Key{UserID: userID, Kind: KindSessions}, err)
	}
	return sessions
}

// SaveSession prepends session to the archive and persists the full list. If
// the archive cannot be read nothing is written.
func (s *Store) SaveSession(ctx context.Context, userID string, session ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.LoadSessions(ctx, userID)
	if err != nil {
		return err
	}
	sessions = append([]ChatSession{session}, sessions...)
	return s.writeJSON(ctx, Key{UserID: userID, Kind: KindSessions}, sessions)
}

func (s *Store) DeleteSession(ctx context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.LoadSessions(ctx, userID)
	if err != nil {
		return err
	}
	kept := sessions[:0]
	for _, sess := range sessions {
		if sess.ID != sessionID {
			kept = append(kept, sess)
		}
	}
	if len(kept) == len(sessions) {
		return ErrSessionNotFound
	}
	if len(kept) == 0 {
		return s.remove(ctx, Key{UserID: userID, Kind: KindSessions})
	}
	return s.writeJSON(ctx, Key{UserID: userID, Kind: KindSessions}, kept)
}

// Pending feeling methods

func (s *Store) LoadPendingFeeling(ctx context.Context, userID string) (string, error) {
	var feeling string
	if _, err := s.loadJSON(ctx, Key{UserID: userID, Kind: KindPending}, &feeling); err != nil {
		return "", err
	}
	return feeling, nil
}

func (s *Store) GetPendingFeeling(ctx context.Context, userID string) (string, bool) {
	feeling, err := s.LoadPendingFeeling(ctx, userID)
	if err != nil {
		s.readFailed(Key{UserID: userID, Kind: KindPending}, err)
	}
	return feeling, feeling != ""
}

func (s *Store) SavePendingFeeling(ctx context.Context, userID, feeling string) error {
	if feeling == "" {
		return s.ClearPendingFeeling(ctx, userID)
	}
	return s.writeJSON(ctx, Key{UserID: userID, Kind: KindPending}, feeling)
}

func (s *Store) ClearPendingFeeling(ctx context.Context, userID string) error {
	return s.remove(ctx, Key{UserID: userID, Kind: KindPending})
}

// Preference methods

func (s *Store) LoadPreferences(ctx context.Context, userID string) (Preferences, error) {
	prefs := DefaultPreferences()
	found, err := s.loadJSON(ctx, Key{UserID: userID, Kind: KindPreferences}, &prefs)
	if err != nil {
		return DefaultPreferences(), err
	}
	if !found {
		prefs = DefaultPreferences()
	}
	if !prefs.Tone.Valid() {
		prefs.Tone = ToneCalmGentle
	}
	return prefs, nil
}

func (s *Store) GetPreferences(ctx context.Context, userID string) Preferences {
	prefs, err := s.LoadPreferences(ctx, userID)
	if err != nil {
		s.readFailed(Key{UserID: userID, Kind: KindPreferences}, err)
	}
	return prefs
}

func (s *Store) SavePreferences(ctx context.Context, userID string, prefs Preferences) error {
	return s.writeJSON(ctx, Key{UserID: userID, Kind: KindPreferences}, prefs)
}
