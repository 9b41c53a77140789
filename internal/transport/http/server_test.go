package http

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"mime/multipart"
	nethttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopherchat/internal/ai"
	"gopherchat/internal/bootstrap"
	"gopherchat/internal/config"
	"gopherchat/internal/model"
)

type cannedGenerator struct {
	deltas []string
}

func (g cannedGenerator) Stream(ctx context.Context, _ []ai.ChatMessage) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, d := range g.deltas {
			if ctx.Err() != nil {
				yield("", ctx.Err())
				return
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.App.GinMode = gin.TestMode
	cfg.Database.Driver = config.DriverMemory
	cfg.Redis.Enabled = false
	cfg.RabbitMQ.Enabled = false
	cfg.Upload.Driver = config.UploadDriverLocal
	cfg.Upload.BasePath = t.TempDir()
	cfg.Upload.PublicPrefix = "/uploads"
	cfg.Upload.AllowedTypes = []string{"image/", "text/plain"}
	cfg.RateLimit.RPS = 0
	cfg.WebSocket.Path = "/ws"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) (*bootstrap.App, *gin.Engine) {
	t.Helper()
	app, err := bootstrap.New(context.Background(), cfg, zerolog.Nop(),
		bootstrap.WithTextGenerator(cannedGenerator{deltas: []string{"Hello", ", ", "u1!"}}))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Close(ctx)
	})
	return app, NewRouter(app)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func createUser(t *testing.T, router *gin.Engine, username string) model.User {
	t.Helper()
	code, env := doJSON(t, router, nethttp.MethodPost, "/api/users", map[string]string{"username": username})
	require.Equal(t, nethttp.StatusOK, code)
	var user model.User
	require.NoError(t, json.Unmarshal(env.Data, &user))
	return user
}

func TestMessageAndUserEndpoints(t *testing.T) {
	_, router := newTestApp(t, newTestConfig(t))

	alice := createUser(t, router, "alice")
	code, _ := doJSON(t, router, nethttp.MethodPost, "/api/users", map[string]string{"username": "alice"})
	assert.Equal(t, nethttp.StatusConflict, code)

	code, env := doJSON(t, router, nethttp.MethodGet, "/api/users/"+alice.ID, nil)
	require.Equal(t, nethttp.StatusOK, code)
	assert.Contains(t, string(env.Data), `"username":"alice"`)

	code, _ = doJSON(t, router, nethttp.MethodGet, "/api/users/"+"00000000-0000-0000-0000-000000000000", nil)
	assert.Equal(t, nethttp.StatusNotFound, code)

	code, env = doJSON(t, router, nethttp.MethodPost, "/api/messages", map[string]any{
		"content":      "hello",
		"authorUserId": alice.ID,
		"chatScope":    "general",
		"aiActive":     false,
	})
	require.Equal(t, nethttp.StatusOK, code)
	var msg model.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "hello", msg.Content)
	require.NotNil(t, msg.Author)
	assert.Equal(t, "alice", msg.Author.Username)

	code, env = doJSON(t, router, nethttp.MethodGet, "/api/messages?chatScope=general&limit=10", nil)
	require.Equal(t, nethttp.StatusOK, code)
	var list []model.Message
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, msg.ID, list[0].ID)

	code, _ = doJSON(t, router, nethttp.MethodGet, "/api/messages?chatScope=private", nil)
	assert.Equal(t, nethttp.StatusBadRequest, code)
	code, _ = doJSON(t, router, nethttp.MethodGet, "/api/messages?limit=abc", nil)
	assert.Equal(t, nethttp.StatusBadRequest, code)

	code, _ = doJSON(t, router, nethttp.MethodPost, "/api/messages", map[string]any{
		"content":      "who am i",
		"authorUserId": "00000000-0000-0000-0000-000000000000",
		"chatScope":    "general",
	})
	assert.Equal(t, nethttp.StatusNotFound, code)

	code, _ = doJSON(t, router, nethttp.MethodPost, "/api/messages", `{"content":`)
	assert.Equal(t, nethttp.StatusBadRequest, code)

	code, _ = doJSON(t, router, nethttp.MethodPost, "/api/messages", map[string]any{"content": "x", "chatScope": "lobby"})
	assert.Equal(t, nethttp.StatusBadRequest, code)
}

func TestResetAll(t *testing.T) {
	_, router := newTestApp(t, newTestConfig(t))
	alice := createUser(t, router, "alice")
	code, _ := doJSON(t, router, nethttp.MethodPost, "/api/messages", map[string]any{
		"content": "hi", "authorUserId": alice.ID, "aiActive": false,
	})
	require.Equal(t, nethttp.StatusOK, code)

	code, _ = doJSON(t, router, nethttp.MethodDelete, "/api/all-data", nil)
	require.Equal(t, nethttp.StatusOK, code)

	code, env := doJSON(t, router, nethttp.MethodGet, "/api/users", nil)
	require.Equal(t, nethttp.StatusOK, code)
	assert.JSONEq(t, `[]`, string(env.Data))

	code, env = doJSON(t, router, nethttp.MethodGet, "/api/messages", nil)
	require.Equal(t, nethttp.StatusOK, code)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestUploadAndServe(t *testing.T) {
	_, router := newTestApp(t, newTestConfig(t))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("meeting at noon"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(nethttp.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, nethttp.StatusOK, w.Code, w.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var files []struct {
		URL          string `json:"url"`
		OriginalName string `json:"originalName"`
		Size         int64  `json:"size"`
		MimeType     string `json:"mimeType"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &files))
	require.Len(t, files, 1)
	assert.Equal(t, "notes.txt", files[0].OriginalName)
	assert.EqualValues(t, 15, files[0].Size)
	assert.Equal(t, "text/plain", files[0].MimeType)
	require.True(t, strings.HasPrefix(files[0].URL, "/uploads/"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(nethttp.MethodGet, files[0].URL, nil))
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Equal(t, "meeting at noon", w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(nethttp.MethodGet, "/uploads/missing.txt", nil))
	assert.Equal(t, nethttp.StatusNotFound, w.Code)

	code, _ := doJSON(t, router, nethttp.MethodPost, "/api/upload", nil)
	assert.Equal(t, nethttp.StatusBadRequest, code)
}

func TestSubmitIsRateLimited(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.RateLimit.RPS = 0.001
	cfg.RateLimit.Burst = 1
	_, router := newTestApp(t, cfg)

	body := map[string]any{"content": "hi", "aiActive": false}
	code, _ := doJSON(t, router, nethttp.MethodPost, "/api/messages", body)
	require.Equal(t, nethttp.StatusOK, code)
	code, _ = doJSON(t, router, nethttp.MethodPost, "/api/messages", body)
	assert.Equal(t, nethttp.StatusTooManyRequests, code)

	code, _ = doJSON(t, router, nethttp.MethodGet, "/api/messages", nil)
	assert.Equal(t, nethttp.StatusOK, code)
}

func TestHealthz(t *testing.T) {
	_, router := newTestApp(t, newTestConfig(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(nethttp.MethodGet, "/healthz", nil))
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(nethttp.MethodGet, "/metrics", nil))
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gopherchat_ws_connections_active")
}
