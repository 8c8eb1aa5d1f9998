package command

import (
	"errors"
	"fmt"

	"github.com/vibb/socobo/internal/creds"
	"github.com/vibb/socobo/internal/directory"
	"github.com/vibb/socobo/internal/sonos"
)

// Sentinel errors for the terminal states a command can end in before any
// backend call is made.
var (
	// ErrUnauthorized means the caller failed the allowlist check.
	ErrUnauthorized = errors.New("command: not allowed to use Sonos commands")

	// ErrNoSessionSpeaker means a play command omitted the speaker and the
	// channel has no remembered one.
	ErrNoSessionSpeaker = errors.New("command: no speaker specified and none used before in this channel")
)

// DirectoryUnavailableError wraps a failed speaker-listing call. It is
// distinct from "the backend reported zero speakers".
type DirectoryUnavailableError struct {
	Cause error
}

func (e *DirectoryUnavailableError) Error() string {
	return fmt.Sprintf("command: could not fetch speakers from backend: %v", e.Cause)
}

func (e *DirectoryUnavailableError) Unwrap() error { return e.Cause }

// UserMessage converts any error escaping a command handler into the single
// human-readable reply shown in chat. Internal detail is surfaced only where
// the user can act on it.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "You are not allowed to use Sonos commands."
	case errors.Is(err, creds.ErrNotFound):
		return "Not logged in. Use `/sonos login endpoint: <url>` first."
	case errors.Is(err, ErrNoSessionSpeaker):
		return "No speaker specified and none used before in this channel. Name one once: `/sonos play args: <speaker> <uri>`."
	}

	var dirErr *DirectoryUnavailableError
	if errors.As(err, &dirErr) {
		return fmt.Sprintf("Could not fetch speakers from the backend: %v", dirErr.Cause)
	}

	var notFound *directory.NotFoundError
	if errors.As(err, &notFound) {
		if notFound.Suggestion != "" {
			return fmt.Sprintf("Unknown speaker: %s (did you mean %s?)", notFound.Query, notFound.Suggestion)
		}
		return fmt.Sprintf("Unknown speaker: %s", notFound.Query)
	}

	var parseErr *directory.ParseError
	if errors.As(err, &parseErr) {
		return fmt.Sprintf("Could not parse speakers near: %q. Tip: separate names with commas, e.g. `Edith, Bad 2 etg`.", parseErr.Remainder)
	}

	var sizeErr *directory.GroupSizeError
	if errors.As(err, &sizeErr) {
		return "Need at least two speakers. Example: `/sonos group members: Edith, Bad 2 etg`."
	}

	var statusErr *sonos.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("Backend call %s failed with HTTP %d: %s", statusErr.Path, statusErr.Status, statusErr.Body)
	}

	return fmt.Sprintf("Command failed: %v", err)
}
