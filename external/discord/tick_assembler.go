package discord

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	discordpkg "github.com/foxseedlab/kikitori/internal/discord"
)

var errDecodeUnavailable = errors.New("opus decoding is not available in this build")

type frameDecoder interface {
	Decode(packet []byte) ([]int16, error)
}

type speakerQueue struct {
	decoder frameDecoder
	// frames holds decoded frames in arrival order; a nil entry marks a
	// packet that could not be decoded.
	frames    [][]int16
	idleTicks int
}

// tickAssembler buffers received packets per SSRC and releases at most one
// frame per SSRC on every tick.
type tickAssembler struct {
	mu           sync.Mutex
	silenceTicks int
	newDecoder   func() (frameDecoder, error)
	speakers     map[uint32]*speakerQueue
	warnedDecode bool
}

func newTickAssembler(silenceTicks int, newDecoder func() (frameDecoder, error)) *tickAssembler {
	if silenceTicks < 1 {
		silenceTicks = 1
	}
	return &tickAssembler{
		silenceTicks: silenceTicks,
		newDecoder:   newDecoder,
		speakers:     make(map[uint32]*speakerQueue),
	}
}

func (a *tickAssembler) writePacket(ssrc uint32, packet []byte) {
	if len(packet) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	q, ok := a.speakers[ssrc]
	if !ok {
		q = &speakerQueue{}
		dec, err := a.newDecoder()
		if err != nil {
			if !a.warnedDecode {
				slog.Warn("opus decoder unavailable; frames will be delivered undecoded", "error", err)
				a.warnedDecode = true
			}
		} else {
			q.decoder = dec
		}
		a.speakers[ssrc] = q
	}
	q.frames = append(q.frames, a.decode(q, ssrc, packet))
}

func (a *tickAssembler) decode(q *speakerQueue, ssrc uint32, packet []byte) []int16 {
	if q.decoder == nil {
		return nil
	}
	frame, err := q.decoder.Decode(packet)
	if err != nil {
		slog.Debug("failed to decode opus packet", "error", err, "ssrc", ssrc)
		return nil
	}
	return frame
}

// tick releases the next frame of every buffered SSRC. An SSRC that stays
// without packets for silenceTicks consecutive ticks is reported silent once
// and forgotten.
func (a *tickAssembler) tick() discordpkg.Tick {
	a.mu.Lock()
	defer a.mu.Unlock()
	var t discordpkg.Tick
	for ssrc, q := range a.speakers {
		if len(q.frames) > 0 {
			frame := q.frames[0]
			q.frames[0] = nil
			q.frames = q.frames[1:]
			q.idleTicks = 0
			if t.Speaking == nil {
				t.Speaking = make(map[uint32]discordpkg.Frame)
			}
			t.Speaking[ssrc] = discordpkg.Frame{Decoded: frame}
			continue
		}
		q.idleTicks++
		if q.idleTicks >= a.silenceTicks {
			t.Silent = append(t.Silent, ssrc)
			delete(a.speakers, ssrc)
		}
	}
	sort.Slice(t.Silent, func(i, j int) bool { return t.Silent[i] < t.Silent[j] })
	return t
}

func isEmptyTick(t discordpkg.Tick) bool {
	return len(t.Speaking) == 0 && len(t.Silent) == 0
}
