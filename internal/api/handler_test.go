package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/shapeschat/internal/config"
	"github.com/comigor/shapeschat/internal/credential"
	"github.com/comigor/shapeschat/internal/llm"
	"github.com/comigor/shapeschat/internal/persona"
	"github.com/comigor/shapeschat/internal/session"
	"github.com/comigor/shapeschat/internal/store"
)

type stubCompleter struct {
	reply string
	err   error
}

func (s *stubCompleter) Complete(ctx context.Context, model, message string, history []llm.Turn) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

type stubAvatars map[string]string

func (s stubAvatars) Fetch(ctx context.Context, id string) string { return s[id] }

type testServer struct {
	router *gin.Engine
	llm    *stubCompleter
	creds  *credential.Store
	reg    *persona.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx := context.Background()
	st := store.NewMemory()
	reg := persona.NewRegistry(ctx, st, persona.Options{VanityDomain: "shapes.inc"})
	creds := credential.NewStore(ctx, st, false, "")
	completer := &stubCompleter{reply: "hello there"}
	hub := session.NewHub(session.Deps{Personas: reg, Completer: completer, Credentials: creds})

	h := NewHandler(reg, creds, hub, stubAvatars{"general": "https://files.shapes.inc/general.png"},
		config.RoutesConfig{DefaultPersona: "general", DefaultChannel: "welcome"})
	return &testServer{
		router: NewRouter(h, config.ServerConfig{AllowedOrigins: []string{"*"}}),
		llm:    completer,
		creds:  creds,
		reg:    reg,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type sessionBody struct {
	State    string `json:"state"`
	Loading  bool   `json:"loading"`
	Banner   *session.Banner
	Pending  bool `json:"pendingClear"`
	Messages []struct {
		ID          string `json:"id"`
		Role        string `json:"role"`
		Content     string `json:"content"`
		Author      string `json:"author"`
		Attachments []struct {
			Kind string `json:"kind"`
			URL  string `json:"url"`
		} `json:"attachments"`
		Segments []json.RawMessage `json:"segments"`
	} `json:"messages"`
	Persona struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Glyph string `json:"glyph"`
	} `json:"persona"`
	HasCredential bool `json:"hasCredential"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestLanding_Redirects(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/server/general/welcome", w.Header().Get("Location"))
}

func TestGetSession_Welcome(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/server/algebra/homework", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[sessionBody](t, w)
	assert.Equal(t, "Idle", body.State)
	assert.Equal(t, "algebra", body.Persona.ID)
	assert.Equal(t, "shapesinc/algebra", body.Persona.Model)
	assert.Equal(t, "AB", body.Persona.Glyph)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "Algebra Bot", body.Messages[0].Author)
	assert.False(t, body.HasCredential)
}

func TestSendMessage_WithoutCredential(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/server/general/welcome/messages", gin.H{"content": "hi"})
	require.Equal(t, http.StatusPreconditionFailed, w.Code)

	body := decode[struct {
		Kind    string      `json:"kind"`
		Session sessionBody `json:"session"`
	}](t, w)
	assert.Equal(t, session.KindCredentialMissing, body.Kind)
	assert.Len(t, body.Session.Messages, 2)
	require.NotNil(t, body.Session.Banner)
}

func TestSendMessage_ReplyWithAttachment(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.creds.Set(context.Background(), "sk-shapes-abc"))
	s.llm.reply = "listen https://files.shapes.inc/clip.mp3"

	w := s.do(t, http.MethodPost, "/server/general/welcome/messages", gin.H{"content": "play"})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[struct {
		Session sessionBody `json:"session"`
	}](t, w)
	require.Len(t, body.Session.Messages, 4)
	reply := body.Session.Messages[3]
	assert.Equal(t, "assistant", reply.Role)
	require.Len(t, reply.Attachments, 1)
	assert.Equal(t, "audio", reply.Attachments[0].Kind)
	assert.Equal(t, "https://files.shapes.inc/clip.mp3", reply.Attachments[0].URL)
	assert.Len(t, reply.Segments, 2)
	assert.Empty(t, body.Session.Messages[2].Segments)
}

func TestSendMessage_CompletionFailure(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.creds.Set(context.Background(), "sk-shapes-abc"))
	s.llm.err = llm.Classify(errors.New("network down"))

	w := s.do(t, http.MethodPost, "/server/general/welcome/messages", gin.H{"content": "hi"})
	require.Equal(t, http.StatusBadGateway, w.Code)

	body := decode[struct {
		Error   string      `json:"error"`
		Kind    string      `json:"kind"`
		Session sessionBody `json:"session"`
	}](t, w)
	assert.Equal(t, string(llm.KindNetworkUnavailable), body.Kind)
	assert.Equal(t, "ErrorDisplayed", body.Session.State)
	assert.Len(t, body.Session.Messages, 4)

	w = s.do(t, http.MethodDelete, "/server/general/welcome/error", nil)
	require.Equal(t, http.StatusOK, w.Code)
	after := decode[sessionBody](t, w)
	assert.Equal(t, "Idle", after.State)
	assert.Nil(t, after.Banner)
}

func TestSendMessage_BadBody(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/server/general/welcome/messages", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEditAndRegenerate(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.creds.Set(context.Background(), "sk-shapes-abc"))
	s.llm.reply = "2+2=5"

	w := s.do(t, http.MethodPost, "/server/general/welcome/messages", gin.H{"content": "2+2?"})
	require.Equal(t, http.StatusOK, w.Code)
	reply := decode[struct {
		Reply struct {
			ID string `json:"id"`
		} `json:"reply"`
	}](t, w).Reply.ID

	w = s.do(t, http.MethodPost, "/server/general/welcome/messages/"+reply+"/edit", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPatch, "/server/general/welcome/messages/"+reply, gin.H{"content": "2+2=4"})
	require.Equal(t, http.StatusOK, w.Code)
	edited := decode[struct {
		Content string `json:"content"`
	}](t, w)
	assert.Equal(t, "2+2=4", edited.Content)

	s.llm.reply = "four"
	w = s.do(t, http.MethodPost, "/server/general/welcome/messages/"+reply+"/regenerate", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPatch, "/server/general/welcome/messages/missing", gin.H{"content": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteMessage_Idempotent(t *testing.T) {
	s := newTestServer(t)
	body := decode[sessionBody](t, s.do(t, http.MethodGet, "/server/general/welcome", nil))
	id := body.Messages[0].ID

	for i, want := range []bool{true, false} {
		w := s.do(t, http.MethodDelete, "/server/general/welcome/messages/"+id, nil)
		require.Equal(t, http.StatusOK, w.Code)
		got := decode[struct {
			Removed bool        `json:"removed"`
			Session sessionBody `json:"session"`
		}](t, w)
		assert.Equal(t, want, got.Removed, "attempt %d", i)
		assert.Len(t, got.Session.Messages, 1)
	}
}

func TestClear_ConfirmFlow(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodDelete, "/server/general/welcome/messages/"+
		decode[sessionBody](t, s.do(t, http.MethodGet, "/server/general/welcome", nil)).Messages[0].ID, nil)

	w := s.do(t, http.MethodPost, "/server/general/welcome/clear?confirm=false", nil)
	body := decode[sessionBody](t, w)
	assert.True(t, body.Pending)
	assert.Len(t, body.Messages, 1)

	body = decode[sessionBody](t, s.do(t, http.MethodDelete, "/server/general/welcome/clear", nil))
	assert.False(t, body.Pending)

	body = decode[sessionBody](t, s.do(t, http.MethodPost, "/server/general/welcome/clear", nil))
	assert.False(t, body.Pending)
	assert.Len(t, body.Messages, 2)
}

func TestRegisterPersona(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/personas", gin.H{"url": "https://shapes.inc/bella-donna"})
	require.Equal(t, http.StatusCreated, w.Code)
	p := decode[struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	}](t, w)
	assert.Equal(t, "bella-donna", p.ID)
	assert.Equal(t, "Bella Donna", p.DisplayName)

	list := decode[[]struct {
		ID string `json:"id"`
	}](t, s.do(t, http.MethodGet, "/api/personas", nil))
	require.Len(t, list, 5)
	assert.Equal(t, "bella-donna", list[4].ID)

	w = s.do(t, http.MethodPost, "/api/personas", gin.H{"url": "https://evil.example/x"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UntrustedSource", decode[map[string]string](t, w)["kind"])
}

func TestGetPersona_Unknown(t *testing.T) {
	s := newTestServer(t)
	body := decode[struct {
		Persona struct {
			DisplayName string `json:"displayName"`
		} `json:"persona"`
		Registered bool `json:"registered"`
	}](t, s.do(t, http.MethodGet, "/api/personas/some-bot", nil))
	assert.False(t, body.Registered)
	assert.Equal(t, "Some Bot", body.Persona.DisplayName)
}

func TestRefreshAvatar(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/personas/general/avatar", nil)
	require.Equal(t, http.StatusOK, w.Code)

	p, ok := s.reg.Resolve("general")
	require.True(t, ok)
	assert.Equal(t, "https://files.shapes.inc/general.png", p.AvatarURL)

	w = s.do(t, http.MethodPost, "/api/personas/logic/avatar", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]any](t, w)["cached"])
}

func TestCredentialRoutes(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPut, "/api/credential", gin.H{"key": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/api/credential", gin.H{"key": "sk-shapes-0123456789"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sk-s...6789", decode[map[string]any](t, w)["masked"])

	got := decode[map[string]any](t, s.do(t, http.MethodGet, "/api/credential", nil))
	assert.Equal(t, true, got["configured"])

	s.do(t, http.MethodDelete, "/api/credential", nil)
	assert.False(t, s.creds.Has())
}
