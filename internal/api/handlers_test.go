package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gwi.com/wellness-chat/internal/config"
	"gwi.com/wellness-chat/internal/core"
	"gwi.com/wellness-chat/internal/guidance"
	"gwi.com/wellness-chat/internal/store"
)

type stubGuide struct {
	started chan struct{}
	release chan struct{}
}

func (g *stubGuide) RequestGuidance(ctx context.Context, req guidance.Request) (*store.WellnessResponse, error) {
	if g.started != nil {
		g.started <- struct{}{}
		<-g.release
	}
	return &store.WellnessResponse{
		Condition:    store.ConditionUnhappySad,
		AICommentary: "You are not alone in this.",
	}, nil
}

type testServer struct {
	t       *testing.T
	handler http.Handler
	guide   *stubGuide
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerOn(t, store.NewMemoryBackend())
}

func newTestServerOn(t *testing.T, backend store.Backend) *testServer {
	t.Helper()
	prev := config.AppConfig
	config.AppConfig.JWTSecret = "test-secret"
	config.AppConfig.TokenTTL = time.Hour
	t.Cleanup(func() { config.AppConfig = prev })

	logger := zaptest.NewLogger(t)
	st := store.New(backend, logger)
	guide := &stubGuide{}
	svc := core.NewChatService(st, guide, time.Second, logger)
	return &testServer{t: t, handler: NewRouter(NewAPIHandler(svc, logger)), guide: guide}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) signup(email string) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/signup", "", SignupRequest{Name: "Sam", Email: email, Password: "pw123456"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp AuthResponse
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(s.t, resp.Token)
	return resp.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsExposed(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignupAndLogin(t *testing.T) {
	s := newTestServer(t)
	s.signup("sam@example.com")

	rec := s.do(http.MethodPost, "/api/signup", "", SignupRequest{Email: "SAM@example.com", Password: "other"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "An account with this email already exists.")

	rec = s.do(http.MethodPost, "/api/login", "", LoginRequest{Email: "sam@example.com", Password: "pw123456"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[AuthResponse](t, rec)
	assert.Equal(t, "Sam", resp.User.Name)

	for _, req := range []LoginRequest{
		{Email: "sam@example.com", Password: "wrong"},
		{Email: "nobody@example.com", Password: "pw123456"},
	} {
		rec = s.do(http.MethodPost, "/api/login", "", req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid email or password.")
	}
}

func TestSignup_MissingFields(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/signup", "", SignupRequest{Email: "x@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignup_PasswordTooLong(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/signup", "", SignupRequest{Email: "long@example.com", Password: strings.Repeat("x", 73)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Password is too long")
}

// historyOutage fails every read of the active history while down is set.
type historyOutage struct {
	*store.MemoryBackend
	down atomic.Bool
}

func (b *historyOutage) Get(ctx context.Context, key store.Key) (string, bool, error) {
	if key.Kind == store.KindHistory && b.down.Load() {
		return "", false, errors.New("connection reset")
	}
	return b.MemoryBackend.Get(ctx, key)
}

func TestConversation_UnavailableWhileStoreUnreadable(t *testing.T) {
	backend := &historyOutage{MemoryBackend: store.NewMemoryBackend()}
	s := newTestServerOn(t, backend)
	token := s.signup("outage@example.com")

	backend.down.Store(true)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, "/api/conversation", token, nil).Code)
	rec := s.do(http.MethodPost, "/api/conversation/messages", token, PostMessageRequest{Text: "hello"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	backend.down.Store(false)
	rec = s.do(http.MethodPost, "/api/conversation/messages", token, PostMessageRequest{Text: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[core.Snapshot](t, s.do(http.MethodGet, "/api/conversation", token, nil))
	assert.Len(t, snap.Messages, 2)
}

func TestDemoLogin(t *testing.T) {
	s := newTestServer(t)
	first := decode[AuthResponse](t, s.do(http.MethodPost, "/api/login/demo", "", nil))
	second := decode[AuthResponse](t, s.do(http.MethodPost, "/api/login/demo", "", nil))
	assert.Equal(t, core.DemoName, first.User.Name)
	assert.Equal(t, first.User.ID, second.User.ID)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/conversation", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/conversation", "not-a-token", nil).Code)
}

func TestRoles(t *testing.T) {
	s := newTestServer(t)
	token := s.signup("r@example.com")
	resp := decode[OptionsResponse](t, s.do(http.MethodGet, "/api/roles", token, nil))
	assert.Equal(t, core.Roles, resp.Roles)
	assert.Len(t, resp.Tones, 3)
}

func TestConversationFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.signup("flow@example.com")

	rec := s.do(http.MethodPut, "/api/conversation/draft", token, DraftRequest{Text: "I feel"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	snap := decode[core.Snapshot](t, s.do(http.MethodGet, "/api/conversation", token, nil))
	assert.Equal(t, "I feel", snap.Draft)

	rec = s.do(http.MethodPost, "/api/conversation/messages", token, PostMessageRequest{Text: "I feel low today"})
	require.Equal(t, http.StatusOK, rec.Code)
	prompt := decode[store.ChatMessage](t, rec)
	assert.True(t, prompt.IsRoleSelectionPrompt)

	snap = decode[core.Snapshot](t, s.do(http.MethodGet, "/api/conversation", token, nil))
	assert.Equal(t, core.StateAwaitingRole, snap.State)
	assert.Empty(t, snap.Draft)

	rec = s.do(http.MethodPost, "/api/conversation/role", token, SelectRoleRequest{Role: "Employee"})
	require.Equal(t, http.StatusOK, rec.Code)
	reply := decode[store.ChatMessage](t, rec)
	assert.Equal(t, "You are not alone in this.", reply.Text)
	require.NotNil(t, reply.Data)

	rec = s.do(http.MethodPost, "/api/conversation/role", token, SelectRoleRequest{Role: "Employee"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/sessions", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	session := decode[store.ChatSession](t, rec)
	assert.Equal(t, "I feel low today", session.Preview)

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodPost, "/api/sessions", token, nil).Code)

	list := decode[[]store.ChatSession](t, s.do(http.MethodGet, "/api/sessions", token, nil))
	require.Len(t, list, 1)

	rec = s.do(http.MethodPost, "/api/sessions/"+session.ID+"/load", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.ChatMessage](t, rec), 4)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/sessions/missing/load", token, nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/sessions/"+session.ID, token, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/api/sessions/"+session.ID, token, nil).Code)
}

func TestPostMessage_Empty(t *testing.T) {
	s := newTestServer(t)
	token := s.signup("empty@example.com")
	rec := s.do(http.MethodPost, "/api/conversation/messages", token, PostMessageRequest{Text: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessage_ConflictWhileInFlight(t *testing.T) {
	s := newTestServer(t)
	token := s.signup("busy@example.com")
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/conversation/messages", token, PostMessageRequest{Text: "tense"}).Code)

	s.guide.started = make(chan struct{}, 1)
	s.guide.release = make(chan struct{})

	done := make(chan int)
	go func() {
		rec := s.do(http.MethodPost, "/api/conversation/role", token, SelectRoleRequest{Role: "Student"})
		done <- rec.Code
	}()
	<-s.guide.started

	rec := s.do(http.MethodPost, "/api/conversation/messages", token, PostMessageRequest{Text: "hello?"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = s.do(http.MethodPost, "/api/sessions", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(s.guide.release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestSettings(t *testing.T) {
	s := newTestServer(t)
	token := s.signup("prefs@example.com")

	tone := store.ToneDirectPractical
	on := true
	rec := s.do(http.MethodPut, "/api/conversation/settings", token, SettingsRequest{Tone: &tone, StepMode: &on})
	require.Equal(t, http.StatusOK, rec.Code)
	prefs := decode[store.Preferences](t, rec)
	assert.Equal(t, store.Preferences{Tone: store.ToneDirectPractical, StepMode: true}, prefs)

	bad := store.Tone("Sarcastic")
	rec = s.do(http.MethodPut, "/api/conversation/settings", token, SettingsRequest{Tone: &bad})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttachment(t *testing.T) {
	s := newTestServer(t)
	token := s.signup("img@example.com")

	rec := s.do(http.MethodPut, "/api/conversation/attachment", token, store.Image{MIMEType: "text/plain", Data: []byte("hi")})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, "/api/conversation/attachment", token, store.Image{MIMEType: "image/png", Data: []byte{1, 2, 3}})
	require.Equal(t, http.StatusNoContent, rec.Code)
	snap := decode[core.Snapshot](t, s.do(http.MethodGet, "/api/conversation", token, nil))
	require.NotNil(t, snap.Attachment)

	require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/conversation/attachment", token, nil).Code)
	snap = decode[core.Snapshot](t, s.do(http.MethodGet, "/api/conversation", token, nil))
	assert.Nil(t, snap.Attachment)
}
