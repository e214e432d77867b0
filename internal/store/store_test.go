package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gwi.com/wellness-chat/internal/auth"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(NewMemoryBackend(), zaptest.NewLogger(t))
}

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	backend, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "wellness.db"))
	require.NoError(t, err)
	s := New(backend, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// storeVariants runs fn against every backend that needs no external service.
func storeVariants(t *testing.T, fn func(t *testing.T, s *Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

func sampleHistory(base time.Time) []ChatMessage {
	return []ChatMessage{
		{ID: "1", Role: RoleUser, Text: "I feel low", Timestamp: base, Image: &Image{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}},
		{ID: "2", Role: RoleAssistant, Text: "Could you tell me which role describes you best?", Timestamp: base.Add(time.Second), IsRoleSelectionPrompt: true},
		{ID: "3", Role: RoleUser, Text: "Student", Timestamp: base.Add(2 * time.Second)},
		{ID: "4", Role: RoleAssistant, Text: "Take a breath.", Timestamp: base.Add(3*time.Second + 123*time.Millisecond), Data: &WellnessResponse{
			Condition:        ConditionStressPressure,
			AICommentary:     "Take a breath.",
			ImmediateActions: []string{"**Breathe**: 4-7-8", "**Walk**: five minutes"},
			YouTubeResource:  &YouTubeResource{Title: "Box breathing", URL: "https://www.youtube.com/results?search_query=Box+breathing", Reason: "calming"},
		}},
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	storeVariants(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		original := sampleHistory(time.Now())

		require.NoError(t, s.SaveHistory(ctx, "u1", original))
		loaded := s.GetHistory(ctx, "u1")

		require.Len(t, loaded, len(original))
		for i := range original {
			assert.Equal(t, original[i].ID, loaded[i].ID)
			assert.Equal(t, original[i].Role, loaded[i].Role)
			assert.Equal(t, original[i].Text, loaded[i].Text)
			assert.Equal(t, original[i].Image, loaded[i].Image)
			assert.Equal(t, original[i].Data, loaded[i].Data)
			assert.Equal(t, original[i].IsRoleSelectionPrompt, loaded[i].IsRoleSelectionPrompt)
			assert.True(t, original[i].Timestamp.Equal(loaded[i].Timestamp), "timestamp %d: %v != %v", i, original[i].Timestamp, loaded[i].Timestamp)
		}

		assert.Empty(t, s.GetHistory(ctx, "someone-else"))
	})
}

func TestSaveHistory_EmptyClears(t *testing.T) {
	storeVariants(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveHistory(ctx, "u1", sampleHistory(time.Now())))
		require.NoError(t, s.SaveHistory(ctx, "u1", nil))
		assert.Empty(t, s.GetHistory(ctx, "u1"))

		require.NoError(t, s.SaveHistory(ctx, "u1", sampleHistory(time.Now())))
		require.NoError(t, s.ClearHistory(ctx, "u1"))
		assert.Empty(t, s.GetHistory(ctx, "u1"))
	})
}

func TestReadsFailSoftOnCorruptRecords(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := New(backend, zaptest.NewLogger(t))

	for _, kind := range []RecordKind{KindHistory, KindSessions, KindPending, KindPreferences} {
		require.NoError(t, backend.Put(ctx, Key{UserID: "u1", Kind: kind}, "{not json"))
	}
	require.NoError(t, backend.Put(ctx, Key{Kind: KindUsers}, "[[["))

	assert.Empty(t, s.GetHistory(ctx, "u1"))
	assert.Empty(t, s.GetSessions(ctx, "u1"))
	_, ok := s.GetPendingFeeling(ctx, "u1")
	assert.False(t, ok)
	assert.Equal(t, DefaultPreferences(), s.GetPreferences(ctx, "u1"))
	assert.Empty(t, s.ListUsers(ctx))
	_, err := s.Authenticate(ctx, "a@b.c", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

type failingBackend struct{ *MemoryBackend }

func (failingBackend) Get(ctx context.Context, key Key) (string, bool, error) {
	return "", false, errors.New("disk gone")
}

func (failingBackend) Put(ctx context.Context, key Key, value string) error {
	return errors.New("quota exceeded")
}

func TestBackendFailures(t *testing.T) {
	ctx := context.Background()
	s := New(failingBackend{NewMemoryBackend()}, zaptest.NewLogger(t))

	assert.Empty(t, s.GetHistory(ctx, "u1"))
	assert.Equal(t, "", s.GetDraft(ctx, "u1"))
	assert.Error(t, s.SaveHistory(ctx, "u1", sampleHistory(time.Now())))
	assert.Error(t, s.SaveDraft(ctx, "u1", "hello"))
}

// flakyGetBackend fails the next n reads, then behaves like its MemoryBackend.
type flakyGetBackend struct {
	*MemoryBackend
	mu    sync.Mutex
	fails int
}

func (b *flakyGetBackend) failNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fails = n
}

func (b *flakyGetBackend) Get(ctx context.Context, key Key) (string, bool, error) {
	b.mu.Lock()
	if b.fails > 0 {
		b.fails--
		b.mu.Unlock()
		return "", false, errors.New("connection reset")
	}
	b.mu.Unlock()
	return b.MemoryBackend.Get(ctx, key)
}

func TestListUpdates_ReadFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	backend := &flakyGetBackend{MemoryBackend: NewMemoryBackend()}
	s := New(backend, zaptest.NewLogger(t))

	for _, email := range []string{"a@x.io", "b@x.io"} {
		_, err := s.SaveUser(ctx, "", email, "pw")
		require.NoError(t, err)
	}
	base := time.Now()
	for i, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, s.SaveSession(ctx, "u1", ChatSession{ID: id, UserID: "u1", Timestamp: base.Add(time.Duration(i) * time.Minute)}))
	}

	backend.failNext(1)
	_, err := s.SaveUser(ctx, "", "c@x.io", "pw")
	assert.Error(t, err)
	assert.Len(t, s.ListUsers(ctx), 2)
	_, err = s.Authenticate(ctx, "a@x.io", "pw")
	assert.NoError(t, err)

	backend.failNext(1)
	assert.Error(t, s.SaveSession(ctx, "u1", ChatSession{ID: "s4", UserID: "u1", Timestamp: base.Add(time.Hour)}))
	assert.Len(t, s.GetSessions(ctx, "u1"), 3)

	backend.failNext(1)
	err = s.DeleteSession(ctx, "u1", "s2")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
	assert.Len(t, s.GetSessions(ctx, "u1"), 3)
}

func TestLoadMethods_ReportBackendErrors(t *testing.T) {
	ctx := context.Background()
	s := New(failingBackend{NewMemoryBackend()}, zaptest.NewLogger(t))

	_, err := s.LoadHistory(ctx, "u1")
	assert.Error(t, err)
	_, err = s.LoadDraft(ctx, "u1")
	assert.Error(t, err)
	_, err = s.LoadPendingFeeling(ctx, "u1")
	assert.Error(t, err)
	_, err = s.LoadPreferences(ctx, "u1")
	assert.Error(t, err)
	_, err = s.LoadSessions(ctx, "u1")
	assert.Error(t, err)

	healthy := newTestStore(t)
	history, err := healthy.LoadHistory(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, history)
	prefs, err := healthy.LoadPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, DefaultPreferences(), prefs)
}

func TestSaveUser_PasswordLimits(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.SaveUser(ctx, "", "long@x.io", strings.Repeat("p", auth.MaxPasswordBytes+1))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
	_, err = s.SaveUser(ctx, "", "none@x.io", "")
	assert.ErrorIs(t, err, ErrMissingCredentials)

	_, err = s.SaveUser(ctx, "", "max@x.io", strings.Repeat("p", auth.MaxPasswordBytes))
	assert.NoError(t, err)
	assert.Len(t, s.ListUsers(ctx), 1)
}

func TestSaveUser_DuplicateEmailRejected(t *testing.T) {
	storeVariants(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		u, err := s.SaveUser(ctx, "Ada", "ada@example.com", "pw1")
		require.NoError(t, err)
		assert.NotEmpty(t, u.ID)
		assert.Equal(t, "Ada", u.Name)

		before := s.ListUsers(ctx)

		_, err = s.SaveUser(ctx, "Other Ada", " ADA@example.com ", "pw2")
		assert.ErrorIs(t, err, ErrEmailTaken)
		assert.Equal(t, before, s.ListUsers(ctx))

		// the original password still works, the rejected one does not
		_, err = s.Authenticate(ctx, "ada@example.com", "pw1")
		assert.NoError(t, err)
		_, err = s.Authenticate(ctx, "ada@example.com", "pw2")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestSaveUser_DefaultsNameToEmailLocalPart(t *testing.T) {
	s := newTestStore(t)
	u, err := s.SaveUser(context.Background(), "", "sam.lee@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "sam.lee", u.Name)
}

func TestAuthenticate_SameErrorForUnknownAndWrongPassword(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	created, err := s.SaveUser(ctx, "Ada", "ada@example.com", "pw")
	require.NoError(t, err)

	u, err := s.Authenticate(ctx, "ada@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, created, u)

	_, errWrong := s.Authenticate(ctx, "ada@example.com", "nope")
	_, errUnknown := s.Authenticate(ctx, "nobody@example.com", "pw")
	assert.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.Equal(t, errWrong.Error(), errUnknown.Error())

	got, err := s.GetUser(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDraftSurvival(t *testing.T) {
	storeVariants(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		require.NoError(t, s.SaveDraft(ctx, "u1", "I was about to say"))
		assert.Equal(t, "I was about to say", s.GetDraft(ctx, "u1"))

		require.NoError(t, s.SaveDraft(ctx, "u1", "I was about to say something"))
		assert.Equal(t, "I was about to say something", s.GetDraft(ctx, "u1"))

		require.NoError(t, s.ClearDraft(ctx, "u1"))
		assert.Equal(t, "", s.GetDraft(ctx, "u1"))
	})
}

func TestSessionsNewestFirst(t *testing.T) {
	storeVariants(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		base := time.Now()

		// Saved out of chronological order on purpose.
		for _, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
			sess := ChatSession{
				ID:        base.Add(offset).Format(time.RFC3339Nano),
				UserID:    "u1",
				Timestamp: base.Add(offset),
				Preview:   "preview",
				Messages:  sampleHistory(base),
			}
			require.NoError(t, s.SaveSession(ctx, "u1", sess))
		}

		sessions := s.GetSessions(ctx, "u1")
		require.Len(t, sessions, 3)
		for i := 1; i < len(sessions); i++ {
			assert.True(t, sessions[i-1].Timestamp.After(sessions[i].Timestamp))
		}
		assert.Len(t, sessions[0].Messages, 4)
	})
}

func TestDeleteSession(t *testing.T) {
	storeVariants(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		now := time.Now()
		require.NoError(t, s.SaveSession(ctx, "u1", ChatSession{ID: "a", UserID: "u1", Timestamp: now}))
		require.NoError(t, s.SaveSession(ctx, "u1", ChatSession{ID: "b", UserID: "u1", Timestamp: now.Add(time.Minute)}))

		require.NoError(t, s.DeleteSession(ctx, "u1", "a"))
		sessions := s.GetSessions(ctx, "u1")
		require.Len(t, sessions, 1)
		assert.Equal(t, "b", sessions[0].ID)

		assert.ErrorIs(t, s.DeleteSession(ctx, "u1", "a"), ErrSessionNotFound)
		require.NoError(t, s.DeleteSession(ctx, "u1", "b"))
		assert.Empty(t, s.GetSessions(ctx, "u1"))
	})
}

func TestPendingFeelingAndPreferences(t *testing.T) {
	storeVariants(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		_, ok := s.GetPendingFeeling(ctx, "u1")
		assert.False(t, ok)

		require.NoError(t, s.SavePendingFeeling(ctx, "u1", "I feel low"))
		feeling, ok := s.GetPendingFeeling(ctx, "u1")
		assert.True(t, ok)
		assert.Equal(t, "I feel low", feeling)

		require.NoError(t, s.ClearPendingFeeling(ctx, "u1"))
		_, ok = s.GetPendingFeeling(ctx, "u1")
		assert.False(t, ok)

		assert.Equal(t, DefaultPreferences(), s.GetPreferences(ctx, "u1"))
		prefs := Preferences{Tone: ToneMotivational, StepMode: true}
		require.NoError(t, s.SavePreferences(ctx, "u1", prefs))
		assert.Equal(t, prefs, s.GetPreferences(ctx, "u1"))
	})
}

func TestRebind(t *testing.T) {
	pg := &SQLBackend{postgres: true}
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", pg.rebind("SELECT 1 WHERE a = ? AND b = ?"))

	lite := &SQLBackend{}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "records/users/_global.txt", objectKey(Key{Kind: KindUsers}))
	assert.Equal(t, "records/history/u1.txt", objectKey(Key{UserID: "u1", Kind: KindHistory}))
}
