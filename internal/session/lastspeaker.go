// Package session keeps per-channel command memory for the bot.
//
// The only state tracked is the last speaker successfully addressed in each
// channel, which lets users say "play <uri>" without naming a speaker again.
// The memory is process-local and intentionally not persisted; losing it on
// restart only means the next play command must name its speaker.
package session

import "sync"

// LastSpeaker remembers the most recently resolved speaker per channel.
// All methods are safe for concurrent use. Races between commands in the
// same channel are last-writer-wins; the mutex only protects the map
// structure itself.
type LastSpeaker struct {
	mu   sync.Mutex
	byCh map[string]string
}

// NewLastSpeaker creates an empty LastSpeaker store.
func NewLastSpeaker() *LastSpeaker {
	return &LastSpeaker{byCh: make(map[string]string)}
}

// Get returns the last speaker used in the channel, and whether one exists.
func (l *LastSpeaker) Get(channelID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name, ok := l.byCh[channelID]
	return name, ok
}

// Set records speaker as the last one addressed in the channel, overwriting
// any previous entry.
func (l *LastSpeaker) Set(channelID, speaker string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byCh[channelID] = speaker
}
