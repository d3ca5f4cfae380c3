package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/podcast/internal/app"
	"github.com/dkeye/podcast/internal/app/orch"
	"github.com/dkeye/podcast/internal/app/relay"
	"github.com/dkeye/podcast/internal/app/relay/relaytest"
	"github.com/dkeye/podcast/internal/auth"
	"github.com/dkeye/podcast/internal/config"
	"github.com/dkeye/podcast/internal/metrics"
	"github.com/dkeye/podcast/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

type fixture struct {
	router *gin.Engine
	orch   *orch.Orchestrator
}

func newFixture(t *testing.T, ports int) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	reg := app.NewRegistry(m)
	wd := app.NewWatchdog(reg, time.Minute, time.Second, m)
	o := orch.New(ctx, reg, wd, m, orch.RelayConfig{
		BindHost:    "127.0.0.1",
		Ports:       relaytest.FreeRange(t, ports),
		MaxDatagram: relay.DefaultMaxDatagram,
	})
	store, err := auth.NewStore(map[string]string{"1": "host-secret", "2": "listener-secret"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	cfg := &config.Config{
		Mode:       "test",
		Secret:     "test-cookie-secret",
		ReadLimit:  4096,
		PingPeriod: time.Minute,
		Signal:     config.SignalConfig{RateLimit: 20, RateInterval: 10 * time.Second},
	}
	r := SetupRouter(ctx, cfg, o, store, promReg)
	t.Cleanup(func() {
		o.Shutdown()
		cancel()
	})
	return &fixture{router: r, orch: o}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func withCredentials(req *http.Request, id, secret string) *http.Request {
	req.Header.Set(headerClientID, id)
	req.Header.Set(headerClientSecret, secret)
	return req
}

func decodePodcast(t *testing.T, w *httptest.ResponseRecorder) PodcastResponse {
	t.Helper()
	var resp PodcastResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return resp
}

func TestCreatePodcast(t *testing.T) {
	f := newFixture(t, 2)

	w := f.do(withCredentials(httptest.NewRequest(http.MethodPost, "/api/podcasts", nil), "1", "host-secret"))
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"active_since":null`) {
		t.Fatalf("body=%s, want explicit null active_since", w.Body.String())
	}
	resp := decodePodcast(t, w)
	if resp.ID == "" || resp.Host != 1 {
		t.Fatalf("resp=%+v", resp)
	}

	w = f.do(withCredentials(httptest.NewRequest(http.MethodGet, "/api/podcasts/"+string(resp.ID), nil), "2", "listener-secret"))
	if w.Code != http.StatusOK {
		t.Fatalf("get status=%d", w.Code)
	}
	if got := decodePodcast(t, w); got.ID != resp.ID {
		t.Fatalf("get id=%s, want %s", got.ID, resp.ID)
	}

	w = f.do(withCredentials(httptest.NewRequest(http.MethodGet, "/api/podcasts", nil), "2", "listener-secret"))
	var list PodcastListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Podcasts) != 1 || list.Podcasts[0].ID != resp.ID {
		t.Fatalf("list=%+v", list)
	}
}

func TestCreatePodcast_Unauthorized(t *testing.T) {
	f := newFixture(t, 1)

	tests := []struct {
		name   string
		id     string
		secret string
	}{
		{"no credentials", "", ""},
		{"bad id", "one", "host-secret"},
		{"unknown id", "9", "host-secret"},
		{"wrong secret", "1", "listener-secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(withCredentials(httptest.NewRequest(http.MethodPost, "/api/podcasts", nil), tt.id, tt.secret))
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status=%d, want 401", w.Code)
			}
		})
	}
	if n := len(f.orch.Sessions()); n != 0 {
		t.Fatalf("unauthorized requests created %d podcasts", n)
	}
}

func TestCreatePodcast_Capacity(t *testing.T) {
	f := newFixture(t, 1)

	for i, want := range []int{http.StatusCreated, http.StatusServiceUnavailable} {
		w := f.do(withCredentials(httptest.NewRequest(http.MethodPost, "/api/podcasts", nil), "1", "host-secret"))
		if w.Code != want {
			t.Fatalf("request %d status=%d, want %d", i, w.Code, want)
		}
	}
}

func TestGetPodcast_NotFound(t *testing.T) {
	f := newFixture(t, 1)
	w := f.do(withCredentials(httptest.NewRequest(http.MethodGet, "/api/podcasts/missing", nil), "1", "host-secret"))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", w.Code)
	}
}

func TestAuth_CookieCarriesParticipant(t *testing.T) {
	f := newFixture(t, 1)

	w := f.do(withCredentials(httptest.NewRequest(http.MethodGet, "/api/podcasts", nil), "2", "listener-secret"))
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("no session cookie set")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/podcasts", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = f.do(req)
	if w.Code != http.StatusCreated {
		t.Fatalf("cookie auth status=%d body=%s", w.Code, w.Body.String())
	}
	if got := decodePodcast(t, w); got.Host != 2 {
		t.Fatalf("host=%d, want 2", got.Host)
	}
}

func TestOpenSignal_Rejections(t *testing.T) {
	f := newFixture(t, 1)

	req := withCredentials(httptest.NewRequest(http.MethodGet, "/api/ws/signal?id=missing", nil), "1", "host-secret")
	req.RemoteAddr = ""
	if w := f.do(req); w.Code != http.StatusBadRequest {
		t.Fatalf("no peer address status=%d, want 400", w.Code)
	}

	req = withCredentials(httptest.NewRequest(http.MethodGet, "/api/ws/signal?id=missing", nil), "1", "host-secret")
	if w := f.do(req); w.Code != http.StatusNotFound {
		t.Fatalf("missing podcast status=%d, want 404", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/ws/signal?id=missing", nil)
	if w := f.do(req); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status=%d, want 401", w.Code)
	}
}

func TestOpenSignal_Upgrade(t *testing.T) {
	f := newFixture(t, 1)
	data, err := f.orch.CreateSession(1)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal?" + url.Values{"id": {string(data.ID)}}.Encode()
	header := http.Header{}
	header.Set(headerClientID, "1")
	header.Set(headerClientSecret, "host-secret")
	ws, _, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	ev, err := protocol.DecodeEvent(raw)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ready, ok := ev.(protocol.Ready); !ok || ready.Port != f.orch.Relay.Ports.Start {
		t.Fatalf("event=%#v, want Ready{%d}", ev, f.orch.Relay.Ports.Start)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, 1)
	f.do(withCredentials(httptest.NewRequest(http.MethodPost, "/api/podcasts", nil), "1", "host-secret"))

	w := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "podcast_sessions_created_total 1") {
		t.Fatalf("metrics body missing created counter:\n%s", w.Body.String())
	}
}

func sessionCookieHeader(t *testing.T, f *fixture) string {
	t.Helper()
	w := f.do(withCredentials(httptest.NewRequest(http.MethodGet, "/api/podcasts", nil), "1", "host-secret"))
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookie {
			if c.SameSite != http.SameSiteStrictMode {
				t.Fatalf("session cookie SameSite=%v, want Strict", c.SameSite)
			}
			return (&http.Cookie{Name: c.Name, Value: c.Value}).String()
		}
	}
	t.Fatalf("no %s cookie set", sessionCookie)
	return ""
}

func TestOpenSignal_CookieOnlyDialChecksOrigin(t *testing.T) {
	f := newFixture(t, 1)
	data, err := f.orch.CreateSession(1)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)
	cookie := sessionCookieHeader(t, f)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal?" + url.Values{"id": {string(data.ID)}}.Encode()

	foreign := http.Header{}
	foreign.Set("Cookie", cookie)
	foreign.Set("Origin", "https://evil.example")
	ws, resp, err := websocket.DefaultDialer.Dial(u, foreign)
	if err == nil {
		ws.Close()
		t.Fatalf("cross-origin cookie dial was accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-origin dial resp=%v err=%v, want 403", resp, err)
	}
	if got, _ := f.orch.Session(data.ID); got.ActiveSince != nil {
		t.Fatalf("rejected dial touched the podcast")
	}

	same := http.Header{}
	same.Set("Cookie", cookie)
	same.Set("Origin", srv.URL)
	ws, _, err = websocket.DefaultDialer.Dial(u, same)
	if err != nil {
		t.Fatalf("same-origin cookie dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err != nil {
		t.Fatalf("read Ready: %v", err)
	}
	if _, err := f.orch.Session(data.ID); err != nil {
		t.Fatalf("podcast gone: %v", err)
	}
}
