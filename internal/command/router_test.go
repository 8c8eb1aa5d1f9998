package command

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/vibb/socobo/internal/creds"
	"github.com/vibb/socobo/internal/directory"
	"github.com/vibb/socobo/internal/policy"
	"github.com/vibb/socobo/internal/session"
)

const (
	allowedUser = "@alice:vibb.me"
	blockedUser = "@mallory:evil.example"
	channelID   = "room-1"
)

// memStore is an in-memory creds.Store for router tests.
type memStore struct {
	mu sync.Mutex
	m  map[string]creds.Credential
}

func newMemStore() *memStore { return &memStore{m: map[string]creds.Credential{}} }

func (s *memStore) Get(_ context.Context, id string) (creds.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.m[id]
	if !ok {
		return creds.Credential{}, creds.ErrNotFound
	}
	return cred, nil
}

func (s *memStore) Put(_ context.Context, id string, c creds.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = c
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	return nil
}

// recordedCall captures one request the fake backend saw.
type recordedCall struct {
	Method string
	Path   string
	Body   map[string]any
}

// fakeBackend is an httptest Sonos backend that records every call.
type fakeBackend struct {
	mu       sync.Mutex
	calls    []recordedCall
	speakers string // JSON for GET /speakers
	replies  map[string]string
	fail     map[string]int // path → status code
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		speakers: `{"Edith":"192.168.1.10","Bad 2 etg":"192.168.1.11","TV":"192.168.1.12"}`,
		replies:  map[string]string{},
		fail:     map[string]int{},
	}
}

func (f *fakeBackend) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		call := recordedCall{Method: r.Method, Path: r.URL.Path}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			json.Unmarshal(data, &call.Body)
		}
		f.mu.Lock()
		f.calls = append(f.calls, call)
		code, failing := f.fail[r.URL.Path]
		reply, hasReply := f.replies[r.URL.Path]
		speakers := f.speakers
		f.mu.Unlock()

		if failing {
			http.Error(w, "boom", code)
			return
		}
		if r.URL.Path == "/speakers" {
			io.WriteString(w, speakers)
			return
		}
		if hasReply {
			io.WriteString(w, reply)
			return
		}
		io.WriteString(w, `{"ok":true}`)
	}
}

func (f *fakeBackend) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// newTestRouter wires a Router against a fresh fake backend with allowedUser
// already logged in.
func newTestRouter(t *testing.T) (*Router, *fakeBackend, *session.LastSpeaker) {
	t.Helper()
	backend := newFakeBackend()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	store := newMemStore()
	store.Put(context.Background(), allowedUser, creds.Credential{
		Endpoint: srv.URL,
		DeviceID: "dev1",
	})

	sessions := session.NewLastSpeaker()
	r, err := NewRouter(Config{
		Allowlist: policy.New([]string{allowedUser}),
		Store:     store,
		Sessions:  sessions,
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return r, backend, sessions
}

// ---- authorization ----

func TestUnauthorizedUserIsRejectedBeforeAnyBackendCall(t *testing.T) {
	r, backend, _ := newTestRouter(t)

	for name, run := range map[string]func() (string, error){
		"speakers": func() (string, error) { return r.Speakers(context.Background(), blockedUser) },
		"play":     func() (string, error) { return r.Play(context.Background(), blockedUser, channelID, "edith x") },
		"pause":    func() (string, error) { return r.Pause(context.Background(), blockedUser) },
		"group":    func() (string, error) { return r.Group(context.Background(), blockedUser, "Edith, TV") },
		"ungroup":  func() (string, error) { return r.Ungroup(context.Background(), blockedUser) },
	} {
		if _, err := run(); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("%s: err = %v, want ErrUnauthorized", name, err)
		}
	}
	if calls := backend.recorded(); len(calls) != 0 {
		t.Errorf("backend saw %d calls from an unauthorized user", len(calls))
	}
}

func TestAuthCommandsAreNotGated(t *testing.T) {
	r, _, _ := newTestRouter(t)
	// whoami/logout work even off the allowlist; the user manages their own
	// credentials.
	if _, err := r.Logout(context.Background(), blockedUser); err != nil {
		t.Errorf("Logout for blocked user: %v", err)
	}
}

// ---- play ----

func TestPlay_EndToEnd(t *testing.T) {
	r, backend, sessions := newTestRouter(t)

	reply, err := r.Play(context.Background(), allowedUser, channelID,
		"edith https://open.spotify.com/track/x")
	if err != nil {
		t.Fatalf("Play: %v", err)
	}

	calls := backend.recorded()
	if len(calls) != 3 {
		t.Fatalf("backend calls = %+v, want speakers, set_speaker, play", calls)
	}
	if calls[0].Path != "/speakers" {
		t.Errorf("call 0 = %+v, want fresh /speakers fetch", calls[0])
	}
	if calls[1].Path != "/set_speaker" ||
		calls[1].Body["speaker"] != "Edith" || calls[1].Body["device_id"] != "dev1" {
		t.Errorf("bind call = %+v", calls[1])
	}
	if calls[2].Path != "/play/playlink" ||
		calls[2].Body["media"] != "https://open.spotify.com/track/x" {
		t.Errorf("play call = %+v", calls[2])
	}

	if got, ok := sessions.Get(channelID); !ok || got != "Edith" {
		t.Errorf("session speaker = %q, %v; want Edith", got, ok)
	}
	if !strings.Contains(reply, "Edith") {
		t.Errorf("reply %q should name the canonical speaker", reply)
	}
}

func TestPlay_MultiWordSpeaker(t *testing.T) {
	r, backend, _ := newTestRouter(t)

	_, err := r.Play(context.Background(), allowedUser, channelID,
		"bad 2 etg https://example.com/song.mp3")
	if err != nil {
		t.Fatalf("Play: %v", err)
	}

	calls := backend.recorded()
	if calls[1].Body["speaker"] != "Bad 2 etg" {
		t.Errorf("bind speaker = %v, want Bad 2 etg", calls[1].Body["speaker"])
	}
	if calls[2].Path != "/play/stream" || calls[2].Body["uri"] != "https://example.com/song.mp3" {
		t.Errorf("play call = %+v", calls[2])
	}
}

func TestPlay_HashPrefixedSpeaker(t *testing.T) {
	r, backend, _ := newTestRouter(t)
	if _, err := r.Play(context.Background(), allowedUser, channelID, "#edith spotify:track:abc"); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if calls := backend.recorded(); calls[1].Body["speaker"] != "Edith" {
		t.Errorf("bind speaker = %v, want Edith", calls[1].Body["speaker"])
	}
}

func TestPlay_OmittedSpeakerUsesSession(t *testing.T) {
	r, backend, sessions := newTestRouter(t)
	sessions.Set(channelID, "TV")

	_, err := r.Play(context.Background(), allowedUser, channelID, "https://example.com/a.mp3")
	if err != nil {
		t.Fatalf("Play: %v", err)
	}

	calls := backend.recorded()
	// No speaker token, so no directory fetch either — straight to bind.
	if calls[0].Path != "/set_speaker" || calls[0].Body["speaker"] != "TV" {
		t.Errorf("calls = %+v, want bind to remembered TV first", calls)
	}
}

func TestPlay_OmittedSpeakerNoSession(t *testing.T) {
	r, backend, _ := newTestRouter(t)

	_, err := r.Play(context.Background(), allowedUser, channelID, "https://example.com/a.mp3")
	if !errors.Is(err, ErrNoSessionSpeaker) {
		t.Fatalf("err = %v, want ErrNoSessionSpeaker", err)
	}
	if len(backend.recorded()) != 0 {
		t.Error("no backend call should be made without a resolvable speaker")
	}
}

func TestPlay_UnknownSpeaker(t *testing.T) {
	r, backend, sessions := newTestRouter(t)

	_, err := r.Play(context.Background(), allowedUser, channelID, "garage spotify:track:abc")
	var nf *directory.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	for _, c := range backend.recorded() {
		if c.Path != "/speakers" {
			t.Errorf("unexpected call %+v after failed resolution", c)
		}
	}
	if _, ok := sessions.Get(channelID); ok {
		t.Error("failed resolution must not update the session")
	}
}

func TestPlay_DirectoryUnavailable(t *testing.T) {
	r, backend, _ := newTestRouter(t)
	backend.fail["/speakers"] = http.StatusBadGateway

	_, err := r.Play(context.Background(), allowedUser, channelID, "edith spotify:track:abc")
	var du *DirectoryUnavailableError
	if !errors.As(err, &du) {
		t.Fatalf("err = %v, want DirectoryUnavailableError", err)
	}
}

func TestPlay_NotLoggedIn(t *testing.T) {
	r, err := NewRouter(Config{
		Allowlist: policy.New([]string{"@bob:vibb.me"}),
		Store:     newMemStore(),
		Sessions:  session.NewLastSpeaker(),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Play(context.Background(), "@bob:vibb.me", channelID, "edith spotify:track:abc")
	if !errors.Is(err, creds.ErrNotFound) {
		t.Errorf("err = %v, want creds.ErrNotFound", err)
	}
}

func TestPlay_BackendErrorSurfaced(t *testing.T) {
	r, backend, _ := newTestRouter(t)
	backend.fail["/play/playlink"] = http.StatusInternalServerError

	_, err := r.Play(context.Background(), allowedUser, channelID, "edith spotify:track:abc")
	if err == nil {
		t.Fatal("expected backend error")
	}
	msg := UserMessage(err)
	if !strings.Contains(msg, "500") {
		t.Errorf("user message %q should carry the HTTP status", msg)
	}
}

// ---- group / ungroup ----

func TestGroup_EndToEnd(t *testing.T) {
	r, backend, _ := newTestRouter(t)
	backend.replies["/group"] = `{"added":["Bad 2 etg"],"final_group":["Edith","Bad 2 etg"]}`

	reply, err := r.Group(context.Background(), allowedUser, "Edith, Bad 2 etg")
	if err != nil {
		t.Fatalf("Group: %v", err)
	}

	calls := backend.recorded()
	last := calls[len(calls)-1]
	if last.Path != "/group" {
		t.Fatalf("last call = %+v", last)
	}
	if last.Body["coordinator"] != "Edith" {
		t.Errorf("coordinator = %v, want first-mentioned Edith", last.Body["coordinator"])
	}
	if exact, ok := last.Body["exact"].(bool); !ok || !exact {
		t.Errorf("exact = %v, want true", last.Body["exact"])
	}
	if !strings.Contains(reply, "Final group: Edith, Bad 2 etg") {
		t.Errorf("reply = %q", reply)
	}
}

func TestGroup_SingleSpeakerRejectedBeforeBackendCall(t *testing.T) {
	r, backend, _ := newTestRouter(t)

	_, err := r.Group(context.Background(), allowedUser, "Edith")
	var gs *directory.GroupSizeError
	if !errors.As(err, &gs) {
		t.Fatalf("err = %v, want GroupSizeError", err)
	}
	for _, c := range backend.recorded() {
		if c.Path == "/group" {
			t.Error("group call must not be issued for a single speaker")
		}
	}
}

func TestUngroup_AlreadySoloRendersCleanly(t *testing.T) {
	r, backend, _ := newTestRouter(t)
	backend.replies["/ungroup"] = `{"already_solo":["Edith","TV"]}`

	reply, err := r.Ungroup(context.Background(), allowedUser)
	if err != nil {
		t.Fatalf("Ungroup: %v", err)
	}
	if !strings.Contains(reply, "Already solo: Edith, TV") {
		t.Errorf("reply = %q", reply)
	}

	// A second ungroup with a scalar response must also render.
	backend.replies["/ungroup"] = `"nothing to do"`
	reply, err = r.Ungroup(context.Background(), allowedUser)
	if err != nil {
		t.Fatalf("second Ungroup: %v", err)
	}
	if !strings.Contains(reply, "nothing to do") {
		t.Errorf("scalar reply = %q", reply)
	}
}

// ---- auth commands ----

func TestLogin_GeneratesAndKeepsDeviceID(t *testing.T) {
	backend := newFakeBackend()
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	store := newMemStore()
	r, err := NewRouter(Config{
		Allowlist: policy.New([]string{allowedUser}),
		Store:     store,
		Sessions:  session.NewLastSpeaker(),
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	reply, err := r.Login(ctx, allowedUser, srv.URL+"/", "topsecret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if strings.Contains(reply, "topsecret") {
		t.Error("login reply must not echo the secret")
	}
	if !strings.Contains(reply, "Found 3 speaker(s)") {
		t.Errorf("reply = %q, want verification summary", reply)
	}

	first, err := store.Get(ctx, allowedUser)
	if err != nil {
		t.Fatal(err)
	}
	if first.Endpoint != srv.URL {
		t.Errorf("stored endpoint = %q, want trailing slash stripped %q", first.Endpoint, srv.URL)
	}

	// Re-login keeps the device ID.
	if _, err := r.Login(ctx, allowedUser, srv.URL, ""); err != nil {
		t.Fatal(err)
	}
	second, _ := store.Get(ctx, allowedUser)
	if second.DeviceID != first.DeviceID {
		t.Errorf("device id changed across re-login: %q → %q", first.DeviceID, second.DeviceID)
	}

	// Logout discards it; the next login generates a fresh one.
	if _, err := r.Logout(ctx, allowedUser); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Login(ctx, allowedUser, srv.URL, ""); err != nil {
		t.Fatal(err)
	}
	third, _ := store.Get(ctx, allowedUser)
	if third.DeviceID == first.DeviceID {
		t.Error("device id should be regenerated after logout")
	}
}

func TestLogin_UnreachableBackendStillSaves(t *testing.T) {
	store := newMemStore()
	r, err := NewRouter(Config{
		Allowlist: policy.New([]string{allowedUser}),
		Store:     store,
		Sessions:  session.NewLastSpeaker(),
	})
	if err != nil {
		t.Fatal(err)
	}

	reply, err := r.Login(context.Background(), allowedUser, "http://127.0.0.1:1", "")
	if err != nil {
		t.Fatalf("Login against dead endpoint: %v", err)
	}
	if !strings.Contains(reply, "could not verify") {
		t.Errorf("reply = %q, want verification warning", reply)
	}
	if _, err := store.Get(context.Background(), allowedUser); err != nil {
		t.Errorf("credential was not saved: %v", err)
	}
}

func TestWhoAmI(t *testing.T) {
	r, _, _ := newTestRouter(t)
	reply, err := r.WhoAmI(context.Background(), allowedUser)
	if err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	if !strings.Contains(reply, "dev1") || !strings.Contains(reply, "Secret set: no") {
		t.Errorf("reply = %q", reply)
	}
}

// ---- global endpoint fallback ----

func TestGlobalEndpointFallback(t *testing.T) {
	backend := newFakeBackend()
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	r, err := NewRouter(Config{
		Allowlist:      policy.New([]string{"@bob:vibb.me"}),
		Store:          newMemStore(),
		Sessions:       session.NewLastSpeaker(),
		GlobalEndpoint: srv.URL,
		DefaultDevice:  "house",
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Play(context.Background(), "@bob:vibb.me", channelID, "edith spotify:track:abc")
	if err != nil {
		t.Fatalf("Play via global endpoint: %v", err)
	}
	calls := backend.recorded()
	if calls[1].Body["device_id"] != "house" {
		t.Errorf("device_id = %v, want default device", calls[1].Body["device_id"])
	}
}

// ---- user messages ----

func TestUserMessage_Taxonomy(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrUnauthorized, "not allowed"},
		{creds.ErrNotFound, "Not logged in"},
		{ErrNoSessionSpeaker, "No speaker specified"},
		{&directory.NotFoundError{Query: "garage"}, "Unknown speaker: garage"},
		{&directory.NotFoundError{Query: "edit", Suggestion: "Edith"}, "did you mean Edith"},
		{&directory.ParseError{Remainder: "foo bar"}, `near: "foo bar"`},
		{&directory.GroupSizeError{Resolved: 1}, "at least two speakers"},
		{&DirectoryUnavailableError{Cause: errors.New("dial tcp: refused")}, "dial tcp"},
	}
	for _, tc := range tests {
		if got := UserMessage(tc.err); !strings.Contains(got, tc.want) {
			t.Errorf("UserMessage(%v) = %q, want substring %q", tc.err, got, tc.want)
		}
	}
}
