// Package command implements the transport-agnostic core of the socobo bot:
// one function per chat command, orchestrating authorization, credential
// lookup, speaker resolution, media classification, backend calls and the
// per-channel session memory.
//
// Handlers return the reply text to show in chat. Errors carry enough typed
// detail for [UserMessage] to render a single human-readable reply; nothing
// here panics across the package boundary.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/vibb/socobo/internal/creds"
	"github.com/vibb/socobo/internal/directory"
	"github.com/vibb/socobo/internal/media"
	"github.com/vibb/socobo/internal/observe"
	"github.com/vibb/socobo/internal/policy"
	"github.com/vibb/socobo/internal/session"
	"github.com/vibb/socobo/internal/sonos"
)

// Config holds the dependencies for a [Router].
type Config struct {
	Allowlist *policy.Allowlist
	Store     creds.Store
	Sessions  *session.LastSpeaker
	Metrics   *observe.Metrics

	// DefaultDevice is used for identities whose credential has no device
	// ID of its own (e.g. global-endpoint deployments).
	DefaultDevice string

	// GlobalEndpoint, when set, serves identities that never logged in.
	GlobalEndpoint string
	GlobalSecret   string

	// HTTPClient is shared by all backend clients. Defaults to a client
	// with a 15s timeout.
	HTTPClient *http.Client
}

// Router executes chat commands against the Sonos backend. It is stateless
// apart from the injected stores and safe for concurrent use; concurrent
// commands touching the same identity or channel race last-writer-wins.
type Router struct {
	cfg Config
}

// NewRouter creates a Router from cfg. Allowlist, Store and Sessions are
// required; Metrics may be nil.
func NewRouter(cfg Config) (*Router, error) {
	if cfg.Allowlist == nil {
		return nil, errors.New("command: Allowlist is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("command: Store is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("command: Sessions is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Router{cfg: cfg}, nil
}

// authorize gates backend-touching commands. Login, whoami and logout are
// deliberately not gated — a user must be able to manage their own
// credentials even while off the allowlist.
func (r *Router) authorize(ctx context.Context, identity string) error {
	if r.cfg.Allowlist.Allowed(identity) {
		return nil
	}
	r.cfg.Metrics.RecordUnauthorized(ctx)
	slog.Info("command rejected by allowlist", "identity", identity)
	return ErrUnauthorized
}

// backend resolves the client and device ID to use for identity. Per-user
// credentials win; the global endpoint is the fallback for identities that
// never logged in.
func (r *Router) backend(ctx context.Context, identity string) (*sonos.Client, string, error) {
	cred, err := r.cfg.Store.Get(ctx, identity)
	switch {
	case err == nil:
		device := cred.DeviceID
		if device == "" {
			device = r.cfg.DefaultDevice
		}
		client, cerr := sonos.New(cred.Endpoint,
			sonos.WithSecret(cred.Secret),
			sonos.WithHTTPClient(r.cfg.HTTPClient),
		)
		if cerr != nil {
			return nil, "", fmt.Errorf("command: backend for %s: %w", identity, cerr)
		}
		return client, device, nil

	case errors.Is(err, creds.ErrNotFound) && r.cfg.GlobalEndpoint != "":
		client, cerr := sonos.New(r.cfg.GlobalEndpoint,
			sonos.WithSecret(r.cfg.GlobalSecret),
			sonos.WithHTTPClient(r.cfg.HTTPClient),
		)
		if cerr != nil {
			return nil, "", fmt.Errorf("command: global backend: %w", cerr)
		}
		return client, r.cfg.DefaultDevice, nil

	default:
		return nil, "", err
	}
}

// speakers fetches a fresh speaker set, wrapping failures as
// [DirectoryUnavailableError]. The set is never cached across commands.
func (r *Router) speakers(ctx context.Context, client *sonos.Client) (directory.SpeakerSet, error) {
	start := time.Now()
	set, err := client.Speakers(ctx)
	r.cfg.Metrics.RecordBackendCall(ctx, "/speakers", callStatus(err), time.Since(start))
	if err != nil {
		return nil, &DirectoryUnavailableError{Cause: err}
	}
	return directory.SpeakerSet(set), nil
}

// ---- auth commands ----

// Login saves the endpoint (and optional secret) for identity, keeping any
// existing device ID, then probes /speakers to verify the endpoint. The
// probe result is reported but never fails the login itself.
func (r *Router) Login(ctx context.Context, identity, endpoint, secret string) (reply string, err error) {
	defer func() { r.record(ctx, "login", err) }()

	endpoint = creds.NormalizeEndpoint(endpoint)
	if endpoint == "" {
		return "", errors.New("command: login: endpoint must not be empty")
	}

	deviceID := ""
	if existing, err := r.cfg.Store.Get(ctx, identity); err == nil {
		deviceID = existing.DeviceID
	}
	if deviceID == "" {
		var err error
		deviceID, err = creds.NewDeviceID()
		if err != nil {
			return "", err
		}
	}

	cred := creds.Credential{Endpoint: endpoint, Secret: secret, DeviceID: deviceID}
	if err := r.cfg.Store.Put(ctx, identity, cred); err != nil {
		return "", err
	}
	slog.Info("login saved", "identity", identity, "endpoint", endpoint, "has_secret", secret != "")

	secretSet := "no"
	if secret != "" {
		secretSet = "yes"
	}
	reply = fmt.Sprintf("Saved endpoint for %s. Secret set: %s. Device ID: %s.", identity, secretSet, deviceID)

	client, err := sonos.New(endpoint,
		sonos.WithSecret(secret),
		sonos.WithHTTPClient(r.cfg.HTTPClient),
	)
	if err != nil {
		return reply, nil
	}
	set, err := r.speakers(ctx, client)
	if err != nil {
		return reply + fmt.Sprintf("\nWarning: could not verify the endpoint (%v). Try `/sonos speakers` to re-check.", errors.Unwrap(err)), nil
	}
	if len(set) == 0 {
		return reply + "\nConnected, but the backend reported no speakers.", nil
	}
	return reply + fmt.Sprintf("\nConnected. Found %d speaker(s): %s.", len(set), namePreview(set)), nil
}

// WhoAmI reports the stored endpoint and device ID. The secret is never
// echoed, only whether one is set.
func (r *Router) WhoAmI(ctx context.Context, identity string) (reply string, err error) {
	defer func() { r.record(ctx, "whoami", err) }()

	cred, err := r.cfg.Store.Get(ctx, identity)
	if err != nil {
		return "", err
	}
	secretSet := "no"
	if cred.Secret != "" {
		secretSet = "yes"
	}
	device := cred.DeviceID
	if device == "" {
		device = r.cfg.DefaultDevice
	}
	return fmt.Sprintf("Endpoint: %s\nSecret set: %s\nDevice ID: %s", cred.Endpoint, secretSet, device), nil
}

// Logout removes the stored credential, discarding the device ID.
func (r *Router) Logout(ctx context.Context, identity string) (reply string, err error) {
	defer func() { r.record(ctx, "logout", err) }()

	if _, err := r.cfg.Store.Get(ctx, identity); errors.Is(err, creds.ErrNotFound) {
		return "You have no saved login.", nil
	}
	if err := r.cfg.Store.Delete(ctx, identity); err != nil {
		return "", err
	}
	slog.Info("logout", "identity", identity)
	return "Logged out. Your endpoint and secret have been removed.", nil
}

// ---- speaker commands ----

// Speakers lists the backend's current speakers with their addresses.
func (r *Router) Speakers(ctx context.Context, identity string) (reply string, err error) {
	defer func() { r.record(ctx, "speakers", err) }()

	if err := r.authorize(ctx, identity); err != nil {
		return "", err
	}
	client, _, err := r.backend(ctx, identity)
	if err != nil {
		return "", err
	}
	set, err := r.speakers(ctx, client)
	if err != nil {
		return "", err
	}
	if len(set) == 0 {
		return "The backend reported no speakers.", nil
	}

	names := set.Names()
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("Available speakers:\n")
	for _, name := range names {
		if addr := set[name]; addr != "" {
			fmt.Fprintf(&b, "- %s → %s\n", name, addr)
		} else {
			fmt.Fprintf(&b, "- %s\n", name)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// SpeakerNames returns the sorted speaker names visible to identity, for
// autocomplete. It is best-effort: unauthorized identities, missing logins
// and backend failures all yield an empty list rather than an error.
func (r *Router) SpeakerNames(ctx context.Context, identity string) []string {
	if !r.cfg.Allowlist.Allowed(identity) {
		return nil
	}
	client, _, err := r.backend(ctx, identity)
	if err != nil {
		return nil
	}
	set, err := r.speakers(ctx, client)
	if err != nil {
		return nil
	}
	names := set.Names()
	sort.Strings(names)
	return names
}

// Play starts playback. args is "<speaker> <uri>" or just "<uri>"; in the
// latter form the channel's remembered speaker is used. The speaker token
// may be multi-word and is matched case-insensitively against a fresh
// speaker listing; a leading "#" on the speaker is tolerated.
//
// The device is always re-bound to the resolved speaker before the play
// call — backend bindings are not trusted to persist.
func (r *Router) Play(ctx context.Context, identity, channelID, args string) (reply string, err error) {
	defer func() { r.record(ctx, "play", err) }()

	if err := r.authorize(ctx, identity); err != nil {
		return "", err
	}
	client, deviceID, err := r.backend(ctx, identity)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(args)
	var speaker, uri string
	if !strings.Contains(text, " ") {
		uri = text
		remembered, ok := r.cfg.Sessions.Get(channelID)
		if !ok {
			return "", ErrNoSessionSpeaker
		}
		speaker = remembered
	} else {
		idx := strings.LastIndex(text, " ")
		speakerInput := strings.TrimPrefix(strings.TrimSpace(text[:idx]), "#")
		uri = text[idx+1:]

		set, err := r.speakers(ctx, client)
		if err != nil {
			return "", err
		}
		speaker, err = directory.Resolve(speakerInput, set)
		if err != nil {
			return "", err
		}
	}

	if err := r.bind(ctx, client, deviceID, speaker); err != nil {
		return "", err
	}
	r.cfg.Sessions.Set(channelID, speaker)

	route := media.Classify(deviceID, uri)
	start := time.Now()
	raw, err := client.Play(ctx, route.Path, route.Body)
	r.cfg.Metrics.RecordBackendCall(ctx, route.Path, callStatus(err), time.Since(start))
	if err != nil {
		return "", err
	}

	slog.Info("play", "identity", identity, "speaker", speaker, "route", route.Path)
	return fmt.Sprintf("Playing via %s on %s → %s", route.Path, speaker, strings.TrimSpace(string(raw))), nil
}

// bind issues the unconditional set_speaker call that precedes every play.
func (r *Router) bind(ctx context.Context, client *sonos.Client, deviceID, speaker string) error {
	start := time.Now()
	err := client.SetSpeaker(ctx, deviceID, speaker)
	r.cfg.Metrics.RecordBackendCall(ctx, "/set_speaker", callStatus(err), time.Since(start))
	return err
}

// ---- transport commands ----

// Pause toggles playback.
func (r *Router) Pause(ctx context.Context, identity string) (string, error) {
	return r.transport(ctx, identity, "pause", "/play_pause", "Pause (toggle)",
		func(ctx context.Context, c *sonos.Client, device string) (any, error) {
			return c.PlayPause(ctx, device)
		})
}

// Next skips to the next track.
func (r *Router) Next(ctx context.Context, identity string) (string, error) {
	return r.transport(ctx, identity, "next", "/next", "Next track",
		func(ctx context.Context, c *sonos.Client, device string) (any, error) {
			return c.Next(ctx, device)
		})
}

// Previous skips to the previous track.
func (r *Router) Previous(ctx context.Context, identity string) (string, error) {
	return r.transport(ctx, identity, "previous", "/previous", "Previous track",
		func(ctx context.Context, c *sonos.Client, device string) (any, error) {
			return c.Previous(ctx, device)
		})
}

func (r *Router) transport(ctx context.Context, identity, name, path, label string,
	call func(context.Context, *sonos.Client, string) (any, error),
) (reply string, err error) {
	defer func() { r.record(ctx, name, err) }()

	if err := r.authorize(ctx, identity); err != nil {
		return "", err
	}
	client, deviceID, err := r.backend(ctx, identity)
	if err != nil {
		return "", err
	}

	start := time.Now()
	raw, err := call(ctx, client, deviceID)
	r.cfg.Metrics.RecordBackendCall(ctx, path, callStatus(err), time.Since(start))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: %s", label, rawString(raw)), nil
}

// ---- group commands ----

// Group joins the named speakers into one zone. The first resolved speaker
// becomes the group coordinator. Members may be comma-separated or run
// together ("Edith Bad 2 etg"); at least two are required.
func (r *Router) Group(ctx context.Context, identity, members string) (reply string, err error) {
	defer func() { r.record(ctx, "group", err) }()

	if err := r.authorize(ctx, identity); err != nil {
		return "", err
	}
	client, _, err := r.backend(ctx, identity)
	if err != nil {
		return "", err
	}
	set, err := r.speakers(ctx, client)
	if err != nil {
		return "", err
	}

	resolved, err := directory.ResolveGroup(members, set)
	if err != nil {
		return "", err
	}
	coordinator := resolved[0]

	start := time.Now()
	res, err := client.Group(ctx, resolved, coordinator)
	r.cfg.Metrics.RecordBackendCall(ctx, "/group", callStatus(err), time.Since(start))
	if err != nil {
		return "", err
	}
	slog.Info("group", "identity", identity, "coordinator", coordinator, "members", resolved)

	added := strings.Join(res.Added, ", ")
	if added == "" {
		added = "none"
	}
	finalGroup := strings.Join(res.FinalGroup, ", ")
	if finalGroup == "" {
		finalGroup = "unknown"
	}
	msg := fmt.Sprintf("Grouped with %s as coordinator.\nAdded: %s\nFinal group: %s", coordinator, added, finalGroup)
	if len(res.Errors) > 0 {
		msg += "\nErrors: " + strings.Join(res.Errors, "; ")
	}
	return msg, nil
}

// Ungroup dissolves all groups. Repeating it on an already-solo system must
// render cleanly, whatever shape the backend answers with.
func (r *Router) Ungroup(ctx context.Context, identity string) (reply string, err error) {
	defer func() { r.record(ctx, "ungroup", err) }()

	if err := r.authorize(ctx, identity); err != nil {
		return "", err
	}
	client, _, err := r.backend(ctx, identity)
	if err != nil {
		return "", err
	}

	start := time.Now()
	res, err := client.Ungroup(ctx)
	r.cfg.Metrics.RecordBackendCall(ctx, "/ungroup", callStatus(err), time.Since(start))
	if err != nil {
		return "", err
	}

	var parts []string
	if len(res.Ungrouped) > 0 {
		parts = append(parts, "Ungrouped: "+strings.Join(res.Ungrouped, ", "))
	}
	if len(res.AlreadySolo) > 0 {
		parts = append(parts, "Already solo: "+strings.Join(res.AlreadySolo, ", "))
	}
	if len(parts) > 0 {
		return strings.Join(parts, "; "), nil
	}
	if raw := strings.TrimSpace(string(res.Raw)); raw != "" && raw != "{}" && raw != "null" {
		return "Ungroup: " + raw, nil
	}
	return "Done.", nil
}

// ---- helpers ----

// record counts one handled command under its outcome status.
func (r *Router) record(ctx context.Context, name string, err error) {
	r.cfg.Metrics.RecordCommand(ctx, name, callStatus(err))
}

// callStatus maps a backend call result onto the metric status attribute.
func callStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// rawString renders a backend response body for chat display.
func rawString(v any) string {
	switch raw := v.(type) {
	case json.RawMessage:
		return strings.TrimSpace(string(raw))
	case []byte:
		return strings.TrimSpace(string(raw))
	default:
		return fmt.Sprintf("%v", v)
	}
}

// namePreview renders up to ten sorted speaker names for the login reply.
func namePreview(set directory.SpeakerSet) string {
	names := set.Names()
	sort.Strings(names)
	if len(names) <= 10 {
		return strings.Join(names, ", ")
	}
	return strings.Join(names[:10], ", ") + fmt.Sprintf(" (+%d more)", len(names)-10)
}
