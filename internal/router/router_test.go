package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"animify-backend/internal/handlers"
	"animify-backend/internal/middleware"
	"animify-backend/internal/models"
	"animify-backend/internal/services"
	"animify-backend/internal/websocket"
)

func newTestRouter(t *testing.T, generationRatePerMin int) (http.Handler, string) {
	t.Helper()

	exh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/video/v1/tasks/"):
			w.Write([]byte(`{"status":"running"}`))
		case r.URL.Path == "/image/v1/generate":
			w.Write([]byte(`{"image_url":"https://cdn.example/cat.png"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(exh.Close)

	defaults, err := services.LoadTransformDefaults()
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	jwtAuth := middleware.NewJWTAuth("router-test-secret")
	exhService := services.NewExhService(exh.URL, "token", 5*time.Second, 4)
	mediaService := services.NewMediaService(nil, nil, nil, nil, defaults, t.TempDir(), 1<<20)

	r := New(
		jwtAuth,
		handlers.NewSessionHandler(jwtAuth),
		handlers.NewMediaHandler(mediaService, 1<<20),
		handlers.NewChatHandler(nil, nil),
		handlers.NewProxyHandler(exhService),
		websocket.NewHub(nil, jwtAuth),
		"http://localhost:3000",
		generationRatePerMin,
	)

	token, _, err := jwtAuth.GenerateSessionToken(uuid.New())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return r, token
}

func TestRouter_TransformDefaultsIsPublic(t *testing.T) {
	r, _ := newTestRouter(t, 30)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/transform/defaults", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 without a token, got %d: %s", rr.Code, rr.Body.String())
	}
	var defaults models.TransformDefaults
	if err := json.NewDecoder(rr.Body).Decode(&defaults); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(defaults.Styles) == 0 {
		t.Fatalf("expected style presets in defaults")
	}
}

func TestRouter_MediaRequiresToken(t *testing.T) {
	r, _ := newTestRouter(t, 30)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/media", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRouter_StatusPollsDoNotSpendGenerationBudget(t *testing.T) {
	r, token := newTestRouter(t, 2)

	send := func(method, path, body string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr.Code
	}

	for i := 1; i <= 10; i++ {
		if code := send(http.MethodGet, "/api/v1/proxy/animate/task-1", ""); code != http.StatusOK {
			t.Fatalf("status poll #%d: expected 200, got %d", i, code)
		}
	}

	for i := 1; i <= 2; i++ {
		if code := send(http.MethodPost, "/api/v1/proxy/image", `{"prompt":"a cat"}`); code != http.StatusOK {
			t.Fatalf("generation #%d: expected 200 after polling, got %d", i, code)
		}
	}
	if code := send(http.MethodPost, "/api/v1/proxy/image", `{"prompt":"a cat"}`); code != http.StatusTooManyRequests {
		t.Fatalf("expected generation budget to be enforced, got %d", code)
	}
}
