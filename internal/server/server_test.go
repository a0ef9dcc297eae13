package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/Physix85/Venus-AI/internal/auth"
	"github.com/Physix85/Venus-AI/internal/completion"
	"github.com/Physix85/Venus-AI/internal/ratelimit"
	"github.com/Physix85/Venus-AI/internal/relay"
	"github.com/Physix85/Venus-AI/internal/storage"
	"github.com/Physix85/Venus-AI/internal/store"
	"github.com/Physix85/Venus-AI/internal/util"
	"github.com/Physix85/Venus-AI/pkg/domain"
)

type stubCompleter struct {
	res completion.Result
	err error
}

func (s stubCompleter) Complete(ctx context.Context, req completion.Request) (completion.Result, error) {
	return s.res, s.err
}

type testEnv struct {
	server *httptest.Server
	store  *store.MemoryStore
	tokens *auth.Tokens
	blobs  *storage.MemoryBlobStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	tokens, err := auth.NewTokens(auth.TokenConfig{Secret: "test-secret"})
	if err != nil {
		t.Fatal(err)
	}
	orch, err := relay.NewOrchestrator(relay.OrchestratorConfig{
		Store: st,
		Completer: stubCompleter{res: completion.Result{
			Text:  "Generated reply.",
			Model: "deepseek/deepseek-r1",
			Usage: completion.Usage{Prompt: 5, Completion: 5, Total: 10},
		}},
		Defaults: relay.Defaults{
			Model:        "deepseek/deepseek-r1",
			Temperature:  0.7,
			MaxTokens:    2048,
			SystemPrompt: "You are Venus AI, a helpful and intelligent assistant.",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	blobs := storage.NewMemoryBlobStore()
	srv := New(Config{
		Store:        st,
		Tokens:       tokens,
		Orchestrator: orch,
		Registry:     relay.NewRegistry(),
		Rooms:        relay.NewRooms(),
		Blobs:        blobs,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, store: st, tokens: tokens, blobs: blobs}
}

func (e *testEnv) signup(t *testing.T, email, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(e.server.URL+"/api/auth/signup", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup expected 201, got %d", resp.StatusCode)
	}
	var out authResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.Token
}

func (e *testEnv) request(t *testing.T, method, path, token string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestSignupAndLogin(t *testing.T) {
	env := newTestEnv(t)

	token := env.signup(t, "alice@example.com", "password123")
	if token == "" {
		t.Fatal("signup must return a token")
	}

	// duplicate email
	body, _ := json.Marshal(map[string]string{"email": "alice@example.com", "password": "password123"})
	resp, _ := http.Post(env.server.URL+"/api/auth/signup", "application/json", bytes.NewReader(body))
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate signup expected 409, got %d", resp.StatusCode)
	}

	// login
	resp, _ = http.Post(env.server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// wrong password
	bad, _ := json.Marshal(map[string]string{"email": "alice@example.com", "password": "wrong-password"})
	resp, _ = http.Post(env.server.URL+"/api/auth/login", "application/json", bytes.NewReader(bad))
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login expected 401, got %d", resp.StatusCode)
	}
}

func TestSignupValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name string
		body string
	}{
		{"bad email", `{"email":"not-an-email","password":"password123"}`},
		{"short password", `{"email":"b@example.com","password":"short"}`},
		{"bad json", `{`},
	}
	for _, tc := range cases {
		resp, err := http.Post(env.server.URL+"/api/auth/signup", "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, resp.StatusCode)
		}
	}
}

func TestLoginDeactivatedAccount(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "gone@example.com", "password123")

	user, _, err := env.store.GetUserByEmail("gone@example.com")
	if err != nil {
		t.Fatal(err)
	}
	user.Status = domain.StatusDisabled
	if err := env.store.SaveUser(user); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(map[string]string{"email": "gone@example.com", "password": "password123"})
	resp, _ := http.Post(env.server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("deactivated login expected 403, got %d", resp.StatusCode)
	}
}

func TestSignupRateLimit(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(redis.Addr(), "", "venus:test:signup", 1, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	env := newTestEnv(t)
	base := New(Config{
		Store:         env.store,
		Tokens:        env.tokens,
		Registry:      relay.NewRegistry(),
		Rooms:         relay.NewRooms(),
		Blobs:         env.blobs,
		SignupLimiter: limiter,
	})
	ts := httptest.NewServer(base.Router())
	defer ts.Close()

	body := []byte(`{"email":"rate@example.com","password":"password123"}`)
	resp, err := http.Post(ts.URL+"/api/auth/signup", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first signup expected 201, got %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/auth/signup", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second signup expected 429, got %d", resp.StatusCode)
	}
}

func TestSignupRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(redis.Addr(), "", "venus:test:spoof", 1, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	env := newTestEnv(t)
	base := New(Config{
		Store:         env.store,
		Tokens:        env.tokens,
		Registry:      relay.NewRegistry(),
		Rooms:         relay.NewRooms(),
		Blobs:         env.blobs,
		SignupLimiter: limiter,
	})
	ts := httptest.NewServer(base.Router())
	defer ts.Close()

	post := func(email, forwardedFor string) int {
		body := []byte(`{"email":"` + email + `","password":"password123"}`)
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/auth/signup", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwardedFor)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := post("honest@example.com", "10.0.0.1"); code != http.StatusCreated {
		t.Fatalf("first signup expected 201, got %d", code)
	}
	// The direct peer is not a trusted proxy, so rotating the forwarded
	// header must not mint fresh rate limit buckets.
	for i := 2; i <= 6; i++ {
		email := "spoof" + strconv.Itoa(i) + "@example.com"
		addr := "10.0.0." + strconv.Itoa(i)
		if code := post(email, addr); code != http.StatusTooManyRequests {
			t.Fatalf("spoofed signup %d expected 429, got %d", i, code)
		}
	}
}

func TestConversationEndpointsRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, http.MethodGet, "/api/conversations", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestConversationListGetDelete(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "carol@example.com", "password123")
	user, _, err := env.store.GetUserByEmail("carol@example.com")
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	conv := domain.Conversation{
		ID:      "conv-1",
		OwnerID: user.ID,
		Title:   "Budget planning",
		Entries: []domain.Entry{{
			ID: util.NewID(), Role: domain.RoleEntryUser, Content: "hi", CreatedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	conv.RefreshStats(now)
	if err := env.store.SaveConversation(conv); err != nil {
		t.Fatal(err)
	}
	// Another user's conversation must stay invisible.
	other := domain.Conversation{ID: "conv-2", OwnerID: "someone-else", Title: "Private", CreatedAt: now, UpdatedAt: now}
	if err := env.store.SaveConversation(other); err != nil {
		t.Fatal(err)
	}

	resp := env.request(t, http.MethodGet, "/api/conversations", token, nil)
	var list struct {
		Items []domain.ConversationSummary `json:"items"`
		Count int                          `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if list.Count != 1 || list.Items[0].ID != "conv-1" {
		t.Fatalf("unexpected list %+v", list)
	}

	resp = env.request(t, http.MethodGet, "/api/conversations/conv-2", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign conversation expected 404, got %d", resp.StatusCode)
	}

	resp = env.request(t, http.MethodGet, "/api/conversations/conv-1", token, nil)
	var got domain.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got.Title != "Budget planning" || len(got.Entries) != 1 {
		t.Fatalf("unexpected conversation %+v", got)
	}

	resp = env.request(t, http.MethodDelete, "/api/conversations/conv-1", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete expected 204, got %d", resp.StatusCode)
	}
	resp = env.request(t, http.MethodDelete, "/api/conversations/conv-1", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete expected 404, got %d", resp.StatusCode)
	}
}

func uploadRequest(t *testing.T, url, token, filename, contentType string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, url+"/api/uploads", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestUploadTextAttachment(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "dave@example.com", "password123")

	resp := uploadRequest(t, env.server.URL, token, "notes.txt", "text/plain", []byte("meeting notes here"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload expected 201, got %d", resp.StatusCode)
	}
	var att domain.Attachment
	if err := json.NewDecoder(resp.Body).Decode(&att); err != nil {
		t.Fatal(err)
	}
	if att.OriginalName != "notes.txt" || att.MediaType != domain.MediaText {
		t.Fatalf("unexpected attachment %+v", att)
	}
	if att.Excerpt == nil || *att.Excerpt != "meeting notes here" {
		t.Fatalf("expected extracted excerpt, got %v", att.Excerpt)
	}
	if _, ok := env.blobs.Get(att.StorageName); !ok {
		t.Fatal("blob not stored")
	}
}

func TestUploadRejectsUnknownMediaType(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "erin@example.com", "password123")

	resp := uploadRequest(t, env.server.URL, token, "virus.exe", "application/octet-stream", []byte{0x4d, 0x5a})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", resp.StatusCode)
	}
}

func TestUploadImageHasNoExcerpt(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "frank@example.com", "password123")

	resp := uploadRequest(t, env.server.URL, token, "pic.png", "image/png", []byte{0x89, 0x50, 0x4e, 0x47})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload expected 201, got %d", resp.StatusCode)
	}
	var att domain.Attachment
	if err := json.NewDecoder(resp.Body).Decode(&att); err != nil {
		t.Fatal(err)
	}
	if att.Excerpt != nil {
		t.Fatalf("image must have nil excerpt, got %q", *att.Excerpt)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
