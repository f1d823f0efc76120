package listener

import (
	"context"
	"log/slog"
	"sync"

	"github.com/foxseedlab/kikitori/internal/discord"
)

const (
	UnresolvedIdentity = "unknown"
	NonHumanIdentity   = "bot"
)

// Speaker is the registry entry for one SSRC. Its fields are guarded by mu so
// that entries can be updated independently of each other.
type Speaker struct {
	SSRC uint32

	mu       sync.Mutex
	identity string
	userID   string
	pipeline *Pipeline

	// lookupSeq numbers identity lookups in the order they were requested;
	// appliedSeq is the newest one whose result was stored.
	lookupSeq  uint64
	appliedSeq uint64
}

func (s *Speaker) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Speaker) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Speaker) Human() bool {
	return s.Identity() != NonHumanIdentity
}

func (s *Speaker) Pipeline() *Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline
}

// Registry maps SSRCs to speakers for one voice session. Entries are never
// removed; the set is bounded by the number of distinct participants.
type Registry struct {
	guildID   string
	directory discord.Directory
	speakers  sync.Map // uint32 -> *Speaker
}

func NewRegistry(guildID string, directory discord.Directory) *Registry {
	return &Registry{guildID: guildID, directory: directory}
}

func (r *Registry) GetOrCreate(ssrc uint32) *Speaker {
	if v, ok := r.speakers.Load(ssrc); ok {
		return v.(*Speaker)
	}
	v, _ := r.speakers.LoadOrStore(ssrc, &Speaker{SSRC: ssrc, identity: UnresolvedIdentity})
	return v.(*Speaker)
}

func (r *Registry) Lookup(ssrc uint32) (*Speaker, bool) {
	v, ok := r.speakers.Load(ssrc)
	if !ok {
		return nil, false
	}
	return v.(*Speaker), true
}

// ResolveIdentity refreshes the display name of ssrc's speaker. A failed
// lookup is logged and leaves the entry as it was. Lookups may run
// concurrently; a result older than one already stored is discarded.
func (r *Registry) ResolveIdentity(ctx context.Context, ssrc uint32, userID string) {
	speaker := r.GetOrCreate(ssrc)
	if userID == "" {
		return
	}
	speaker.mu.Lock()
	speaker.lookupSeq++
	seq := speaker.lookupSeq
	speaker.mu.Unlock()

	name, isBot, err := r.directory.LookupDisplayName(ctx, r.guildID, userID)
	if err != nil {
		slog.Warn("failed to resolve speaker identity", "error", err, "ssrc", ssrc, "user_id", userID)
		return
	}
	if isBot {
		name = NonHumanIdentity
	}
	speaker.mu.Lock()
	if seq < speaker.appliedSeq {
		speaker.mu.Unlock()
		slog.Debug("discarding stale speaker identity", "ssrc", ssrc, "user_id", userID)
		return
	}
	speaker.appliedSeq = seq
	speaker.identity = name
	speaker.userID = userID
	speaker.mu.Unlock()
	slog.Debug("speaker identity resolved", "ssrc", ssrc, "user_id", userID, "identity", name)
}

// ClearPipeline detaches and returns ssrc's pipeline handle, if any. The
// speaker entry itself is kept.
func (r *Registry) ClearPipeline(ssrc uint32) *Pipeline {
	speaker, ok := r.Lookup(ssrc)
	if !ok {
		return nil
	}
	speaker.mu.Lock()
	defer speaker.mu.Unlock()
	p := speaker.pipeline
	speaker.pipeline = nil
	return p
}

func (r *Registry) Range(fn func(*Speaker) bool) {
	r.speakers.Range(func(_, v any) bool {
		return fn(v.(*Speaker))
	})
}
