// Package media classifies a user-supplied playback URI into the backend
// play route and request body it should be sent to.
package media

import (
	"regexp"
	"strings"
)

// Backend play routes. Each route expects a specific body shape, produced
// by [Classify].
const (
	RoutePodcast  = "/play/nrk_podcast"
	RoutePlayLink = "/play/playlink"
	RouteStream   = "/play/stream"
)

// Route pairs a backend play endpoint with the JSON body to POST to it.
type Route struct {
	Path string
	Body map[string]string
}

// URI patterns, tested in priority order. Scheme and host matching is
// case-insensitive; the slug character classes are case-sensitive.
var (
	// An NRK podcast episode: /podkast/<series-slug>/<episode-slug>.
	podcastEpisodeRe = regexp.MustCompile(`^(?i:https?://radio\.nrk\.no/podkast/)([a-z0-9_]+)/([A-Za-z0-9_-]+)$`)

	// An NRK podcast series page: /podkast/<series-slug> with no episode.
	podcastSeriesRe = regexp.MustCompile(`^(?i:https?://radio\.nrk\.no/podkast/)([a-z0-9_]+)$`)

	// A Spotify PlayLink, either the spotify: scheme or an open.spotify.com URL.
	playLinkRe = regexp.MustCompile(`^(?i:spotify:|https?://open\.spotify\.com/)`)
)

// Classify maps uri to the backend route that should play it. The function
// is total: anything that is not an NRK podcast or a Spotify link falls
// through to the generic stream route, so there is no "invalid URI" at this
// layer.
func Classify(deviceID, uri string) Route {
	if podcastEpisodeRe.MatchString(uri) {
		// The backend resolves the episode title itself; send the URI as-is.
		return Route{
			Path: RoutePodcast,
			Body: map[string]string{"device_id": deviceID, "media": uri},
		}
	}

	if podcastSeriesRe.MatchString(strings.TrimRight(uri, "/")) {
		trimmed := strings.TrimRight(uri, "/")
		slug := trimmed[strings.LastIndex(trimmed, "/")+1:]
		return Route{
			Path: RoutePodcast,
			Body: map[string]string{"device_id": deviceID, "media": slug + ".xml"},
		}
	}

	if playLinkRe.MatchString(uri) {
		return Route{
			Path: RoutePlayLink,
			Body: map[string]string{"device_id": deviceID, "media": uri},
		}
	}

	return Route{
		Path: RouteStream,
		Body: map[string]string{"device_id": deviceID, "uri": uri},
	}
}
