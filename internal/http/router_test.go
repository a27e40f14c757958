package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lessonlink/go-notify-backend/internal/bus"
	"github.com/lessonlink/go-notify-backend/internal/config"
	"github.com/lessonlink/go-notify-backend/internal/domain"
	"github.com/lessonlink/go-notify-backend/internal/relay"
	"github.com/lessonlink/go-notify-backend/internal/services"
)

// emptyStore is an always-empty bus.Store; router tests exercise wiring,
// not persistence.
type emptyStore struct{}

func (emptyStore) Append(ctx context.Context, n *domain.Notification) error { return nil }
func (emptyStore) List(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	return nil, nil
}
func (emptyStore) MarkRead(ctx context.Context, userID, id string) (bool, error) { return false, nil }
func (emptyStore) MarkAllRead(ctx context.Context, userID string) (int64, error) { return 0, nil }
func (emptyStore) Clear(ctx context.Context, userID string) error                { return nil }

// nullMessageStore satisfies relay.MessageStore for wiring tests.
type nullMessageStore struct{}

func (nullMessageStore) MarkRead(ctx context.Context, messageID, userID string) (string, time.Time, error) {
	return "", time.Time{}, nil
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   100,
		OTEL:        config.OTELConfig{ServiceName: "test"},
		Security:    config.SecurityConfig{HSTSMaxAge: time.Hour},
	}
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	b := bus.New(emptyStore{}, zerolog.Nop())
	ns := services.NewNotificationService(b)
	hub := relay.NewHub(nullMessageStore{}, zerolog.Nop())

	r := gin.New()
	RegisterRoutes(r, ns, hub, testConfig())
	return r
}

func TestRegisterRoutes_Health(t *testing.T) {
	r := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("health: code=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_Metrics(t *testing.T) {
	r := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: code=%d", w.Code)
	}
}

func TestRegisterRoutes_NoRouteEnvelope(t *testing.T) {
	r := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("got %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp["code"] != "not_found" {
		t.Fatalf("unexpected envelope: %s", w.Body.String())
	}
}

func TestRegisterRoutes_NoMethodEnvelope(t *testing.T) {
	r := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/api/v1/notifications", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("got %d", w.Code)
	}
}

func TestRegisterRoutes_NotificationsRequireIdentity(t *testing.T) {
	r := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got %d: %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_CORSAndRequestID(t *testing.T) {
	r := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected permissive CORS by default, got %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestRegisterRoutes_WebsocketUpgrade(t *testing.T) {
	r := newRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The relay answers garbage with an error event instead of closing.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{broken")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), `"error"`) {
		t.Fatalf("expected error event, got %s", raw)
	}
}
