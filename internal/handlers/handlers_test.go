package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"shukku-list-backend/internal/middleware"
	"shukku-list-backend/internal/models"
	"shukku-list-backend/internal/push"
	"shukku-list-backend/internal/repository"
	"shukku-list-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type recordingSender struct {
	mu    sync.Mutex
	calls [][]string
}

func (s *recordingSender) SendMulticast(ctx context.Context, tokens []string, msg models.PushMessage) (*push.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, tokens)
	return &push.BatchResult{SuccessCount: len(tokens) - 1, FailureCount: 1}, nil
}

type testEnv struct {
	router   http.Handler
	pairs    *repository.MemoryPairStore
	users    *repository.MemoryUserStore
	userSvc  *services.UserService
	sender   *recordingSender
	notifier *services.Notifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	pairs := repository.NewMemoryPairStore()
	users := repository.NewMemoryUserStore()
	sender := &recordingSender{}
	hub := services.NewWSHub()

	userSvc := services.NewUserService(users, "test-secret")
	pairSvc := services.NewPairService(pairs, users, 2)
	fetcher := services.NewMetadataFetcher(http.DefaultClient, nil, 0)
	notifier := services.NewNotifier(pairs, users, sender, hub, services.NotifierConfig{Workers: 1, QueueSize: 16, TaskTimeout: time.Second})
	t.Cleanup(notifier.Close)
	listSvc := services.NewListService(pairs, fetcher, notifier, 3)

	userHandler := NewUserHandler(userSvc)
	pairHandler := NewPairHandler(pairSvc)
	listHandler := NewListHandler(pairSvc, listSvc)
	metadataHandler := NewMetadataHandler(fetcher)
	notifyHandler := NewNotifyHandler(notifier)
	wsHandler := NewWebSocketHandler(hub, userSvc, services.SessionDeps{
		Pairs:    pairSvc,
		List:     listSvc,
		Store:    pairs,
		Previews: fetcher,
	}, services.SessionConfig{ReconnectDelay: 10 * time.Millisecond, PreviewDebounce: 10 * time.Millisecond})

	r := chi.NewRouter()
	r.Get("/metadata", metadataHandler.GetMetadata)
	r.With(middleware.OptionalAuthMiddleware(userSvc)).Post("/notify", notifyHandler.Notify)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/users", userHandler.CreateUser)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(userSvc))
			r.Post("/users/me/tokens", userHandler.RegisterToken)
			r.Delete("/users/me/list", pairHandler.ResetList)
			r.Get("/list", listHandler.GetList)
			r.Post("/list/items", listHandler.AddItem)
			r.Post("/list/items/{item_id}/toggle", listHandler.ToggleItem)
			r.Delete("/list/items/{item_id}", listHandler.DeleteItem)
			r.Post("/list/clear-done", listHandler.ClearDone)
			r.Post("/pairs/join", pairHandler.JoinPair)
		})
	})
	r.Get("/ws", wsHandler.HandleWebSocket)

	return &testEnv{router: r, pairs: pairs, users: users, userSvc: userSvc, sender: sender, notifier: notifier}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createUser(t *testing.T) (string, string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/users", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("create user status %d: %s", rec.Code, rec.Body)
	}
	var resp CreateUserResponse
	decode(t, rec, &resp)
	return resp.User.ID, resp.Token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
}

func TestMetadataEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `<meta property="og:title" content="Kettle">`)
	}))
	defer upstream.Close()

	env := newTestEnv(t)

	if rec := env.do(t, http.MethodGet, "/metadata", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing url, got %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/metadata?url="+upstream.URL+"/kettle", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var meta models.Metadata
	decode(t, rec, &meta)
	if meta.Title != "Kettle" || meta.URL != upstream.URL+"/kettle" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}

	if rec := env.do(t, http.MethodGet, "/metadata?url="+upstream.URL+"/broken", "", nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for upstream failure, got %d", rec.Code)
	}
}

func TestNotifyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()
	_ = env.users.Create(ctx, &models.User{ID: "a", Tokens: []string{"ta"}, CreatedAt: now})
	_ = env.users.Create(ctx, &models.User{ID: "b", Tokens: []string{"tb1", "tb2"}, CreatedAt: now})
	_ = env.users.Create(ctx, &models.User{ID: "c", CreatedAt: now})
	_ = env.pairs.Create(ctx, &models.Pair{ID: "p1", Users: []string{"a", "b"}, InviteCode: "123456", CreatedAt: now, UpdatedAt: now})
	_ = env.pairs.Create(ctx, &models.Pair{ID: "lonely", Users: []string{"c"}, InviteCode: "654321", CreatedAt: now, UpdatedAt: now})

	tokenA, _ := env.userSvc.GenerateJWT("a")

	tests := []struct {
		name     string
		token    string
		body     string
		wantCode int
		check    func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{name: "missing fields", body: `{"pairId":"p1"}`, wantCode: http.StatusBadRequest},
		{name: "bad json", body: `{`, wantCode: http.StatusBadRequest},
		{name: "unknown pair", body: `{"pairId":"nope","payload":{"title":"x"}}`, wantCode: http.StatusNotFound},
		{name: "invalid bearer", token: "forged", body: `{"pairId":"p1","payload":{}}`, wantCode: http.StatusUnauthorized},
		{
			name:     "no tokens",
			body:     `{"pairId":"lonely","payload":{"title":"x"}}`,
			wantCode: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var resp NoTokensResponse
				decode(t, rec, &resp)
				if !resp.OK || resp.Message != "No tokens to send" || resp.SuccessCount != 0 || resp.FailureCount != 0 {
					t.Fatalf("unexpected body: %s", rec.Body)
				}
			},
		},
		{
			name:     "bearer excludes caller",
			token:    tokenA,
			body:     `{"pairId":"p1","payload":{"title":"Item added","body":"milk added to list"}}`,
			wantCode: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var resp services.NotifyResult
				decode(t, rec, &resp)
				if resp.SuccessCount != 1 || resp.FailureCount != 1 {
					t.Fatalf("unexpected counts: %s", rec.Body)
				}
				env.sender.mu.Lock()
				last := env.sender.calls[len(env.sender.calls)-1]
				env.sender.mu.Unlock()
				if strings.Join(last, ",") != "tb1,tb2" {
					t.Fatalf("caller's tokens not excluded: %v", last)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/notify", tt.token, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body)
			}
			if tt.check != nil {
				tt.check(t, rec)
			}
		})
	}
}

func TestListEndpoints(t *testing.T) {
	env := newTestEnv(t)
	userID, token := env.createUser(t)

	if rec := env.do(t, http.MethodGet, "/api/v1/list", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/list", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get list status %d: %s", rec.Code, rec.Body)
	}
	var view models.ListView
	decode(t, rec, &view)
	if view.PairID != userID || len(view.InviteCode) != 6 || view.PartnerConnected {
		t.Fatalf("unexpected list: %+v", view)
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/list/items", token, map[string]interface{}{"text": "milk", "qty": 0}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for qty 0, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/list/items", token, map[string]interface{}{"text": "milk", "qty": 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item status %d: %s", rec.Code, rec.Body)
	}
	var added AddItemResponse
	decode(t, rec, &added)
	if added.Item.Name != "milk" || added.Item.Qty != 2 || len(added.List.Items) != 1 {
		t.Fatalf("unexpected add response: %s", rec.Body)
	}
	itemID := added.Item.ID

	rec = env.do(t, http.MethodPost, "/api/v1/list/items/"+itemID+"/toggle", token, nil)
	decode(t, rec, &view)
	if rec.Code != http.StatusOK || !view.Items[0].Done {
		t.Fatalf("toggle failed: %d %s", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/list/clear-done", token, nil)
	decode(t, rec, &view)
	if rec.Code != http.StatusOK || len(view.Items) != 0 {
		t.Fatalf("clear-done failed: %d %s", rec.Code, rec.Body)
	}

	if rec := env.do(t, http.MethodDelete, "/api/v1/list/items/"+itemID, token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting a cleared item, got %d", rec.Code)
	}
}

func TestJoinAndRegisterToken(t *testing.T) {
	env := newTestEnv(t)
	ownerID, ownerToken := env.createUser(t)
	partnerID, partnerToken := env.createUser(t)

	var owned models.ListView
	decode(t, env.do(t, http.MethodGet, "/api/v1/list", ownerToken, nil), &owned)

	if rec := env.do(t, http.MethodPost, "/api/v1/pairs/join", partnerToken, JoinPairRequest{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty code, got %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/pairs/join", partnerToken, JoinPairRequest{InviteCode: owned.InviteCode})
	if rec.Code != http.StatusOK {
		t.Fatalf("join status %d: %s", rec.Code, rec.Body)
	}

	var view models.ListView
	decode(t, env.do(t, http.MethodGet, "/api/v1/list", partnerToken, nil), &view)
	if view.PairID != ownerID || !view.PartnerConnected {
		t.Fatalf("partner not attached to owner's list: %+v", view)
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/users/me/tokens", partnerToken, RegisterTokenRequest{Token: "fcm-partner"}); rec.Code != http.StatusOK {
		t.Fatalf("register token status %d", rec.Code)
	}
	user, _ := env.users.GetByID(context.Background(), partnerID)
	if !user.HasToken("fcm-partner") {
		t.Fatalf("token not stored: %v", user.Tokens)
	}
}

func TestResetListAndFullPair(t *testing.T) {
	env := newTestEnv(t)
	ownerID, ownerToken := env.createUser(t)
	partnerID, partnerToken := env.createUser(t)
	_, thirdToken := env.createUser(t)

	var owned models.ListView
	decode(t, env.do(t, http.MethodGet, "/api/v1/list", ownerToken, nil), &owned)
	if rec := env.do(t, http.MethodPost, "/api/v1/pairs/join", partnerToken, JoinPairRequest{InviteCode: owned.InviteCode}); rec.Code != http.StatusOK {
		t.Fatalf("join status %d: %s", rec.Code, rec.Body)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/pairs/join", thirdToken, JoinPairRequest{InviteCode: owned.InviteCode})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for full pair, got %d: %s", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/users/me/list", partnerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status %d: %s", rec.Code, rec.Body)
	}
	var reset models.ListView
	decode(t, rec, &reset)
	if reset.PairID != partnerID {
		t.Fatalf("expected partner's own list, got %+v", reset)
	}

	var view models.ListView
	decode(t, env.do(t, http.MethodGet, "/api/v1/list", partnerToken, nil), &view)
	if view.PairID != partnerID || view.PairID == ownerID {
		t.Fatalf("partner still attached to owner's list: %+v", view)
	}

	if rec := env.do(t, http.MethodDelete, "/api/v1/users/me/list", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestWebSocketSession(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.createUser(t)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	if _, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?token=bad", nil); err == nil {
		t.Fatalf("expected dial with bad token to fail")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?token="+token, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	readView := func(ok func(*models.ListView) bool) *models.ListView {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			var msg struct {
				Type    string          `json:"type"`
				Message string          `json:"message"`
				Data    json.RawMessage `json:"data"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("read failed: %v", err)
			}
			if msg.Type != services.WSTypeSnapshot {
				continue
			}
			var view models.ListView
			if err := json.Unmarshal(msg.Data, &view); err != nil {
				t.Fatalf("bad snapshot: %v", err)
			}
			if ok(&view) {
				return &view
			}
		}
	}

	readView(func(v *models.ListView) bool { return len(v.Items) == 0 })

	if err := conn.WriteJSON(services.WSMessage{Type: services.WSTypeAddItem, Text: "bread", Qty: 2}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	view := readView(func(v *models.ListView) bool { return len(v.Items) == 1 })
	if view.Items[0].Name != "bread" || view.Items[0].Qty != 2 {
		t.Fatalf("unexpected item: %+v", view.Items[0])
	}

	if err := conn.WriteJSON(services.WSMessage{Type: services.WSTypeToggleItem, ItemID: view.Items[0].ID}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	readView(func(v *models.ListView) bool { return len(v.Items) == 1 && v.Items[0].Done })
}

// unavailablePairStore refuses every subscription
type unavailablePairStore struct {
	repository.PairStore
}

func (s unavailablePairStore) Subscribe(ctx context.Context, pairID string) (<-chan repository.PairEvent, error) {
	return nil, errors.New("listener down")
}

func TestWebSocketClosesWhenSyncGivesUp(t *testing.T) {
	pairs := repository.NewMemoryPairStore()
	users := repository.NewMemoryUserStore()
	hub := services.NewWSHub()
	userSvc := services.NewUserService(users, "test-secret")
	pairSvc := services.NewPairService(pairs, users, 2)
	listSvc := services.NewListService(pairs, nil, nil, 3)

	wsHandler := NewWebSocketHandler(hub, userSvc, services.SessionDeps{
		Pairs: pairSvc,
		List:  listSvc,
		Store: unavailablePairStore{PairStore: pairs},
	}, services.SessionConfig{
		ReconnectDelay:       5 * time.Millisecond,
		MaxReconnectDelay:    10 * time.Millisecond,
		MaxReconnectAttempts: 1,
	})
	r := chi.NewRouter()
	r.Get("/ws", wsHandler.HandleWebSocket)
	srv := httptest.NewServer(r)
	defer srv.Close()

	user, token, err := userSvc.CreateUser(context.Background())
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?token="+token, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var gotError bool
	for {
		var msg services.WSMessage
		err := conn.ReadJSON(&msg)
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				t.Fatalf("expected the server to close the connection, got %v", err)
			}
			break
		}
		if msg.Type == services.WSTypeError {
			gotError = true
		}
	}
	if !gotError {
		t.Fatalf("expected an error frame before close")
	}
	if hub.IsOnline(user.ID) {
		t.Fatalf("client still registered after sync gave up")
	}
}
