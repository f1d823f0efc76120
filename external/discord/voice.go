package discord

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	discordpkg "github.com/foxseedlab/kikitori/internal/discord"
)

const tickInterval = 20 * time.Millisecond

type voiceConnectionImpl struct {
	vc           *discordgo.VoiceConnection
	silenceTicks int
	newDecoder   func() (frameDecoder, error)

	stop     chan struct{}
	stopOnce sync.Once

	mu sync.Mutex
	// receiving is closed when the receive loop has returned; nil until it starts.
	receiving chan struct{}
}

func newVoiceConnection(vc *discordgo.VoiceConnection, silenceTicks int) *voiceConnectionImpl {
	return &voiceConnectionImpl{
		vc:           vc,
		silenceTicks: silenceTicks,
		newDecoder:   newFrameDecoder,
		stop:         make(chan struct{}),
	}
}

// Disconnect stops the receive loop, waits until no tick can reach the
// handler any more, then leaves the voice channel.
func (v *voiceConnectionImpl) Disconnect() error {
	v.stopReceiving()
	return v.vc.Disconnect()
}

// Receive decodes incoming packets per SSRC and delivers one tick every 20ms
// until the connection is disconnected or the packet channel closes.
func (v *voiceConnectionImpl) Receive(handler discordpkg.VoiceHandler) {
	if v.vc.OpusRecv == nil {
		return
	}
	v.vc.AddHandler(func(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
		if vs == nil || vs.UserID == "" {
			return
		}
		update := discordpkg.SpeakingUpdate{SSRC: uint32(vs.SSRC), UserID: vs.UserID, Speaking: vs.Speaking}
		// Lookups hit REST; keep them off the voice event goroutine.
		go handler.HandleSpeakingUpdate(update)
	})
	v.receive(v.vc.OpusRecv, handler)
}

func (v *voiceConnectionImpl) receive(packets <-chan *discordgo.Packet, handler discordpkg.VoiceHandler) {
	done, ok := v.beginReceive()
	if !ok {
		return
	}
	defer close(done)

	assembler := newTickAssembler(v.silenceTicks, v.newDecoder)
	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		for {
			select {
			case <-v.stop:
				return
			case p, ok := <-packets:
				if !ok {
					return
				}
				if p == nil {
					continue
				}
				assembler.writePacket(p.SSRC, p.Opus)
			}
		}
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-v.stop:
			<-recvDone
			return
		case <-recvDone:
			return
		case <-ticker.C:
			if t := assembler.tick(); !isEmptyTick(t) {
				handler.HandleTick(t)
			}
		}
	}
}

func (v *voiceConnectionImpl) beginReceive() (chan struct{}, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	select {
	case <-v.stop:
		return nil, false
	default:
	}
	if v.receiving != nil {
		return nil, false
	}
	v.receiving = make(chan struct{})
	return v.receiving, true
}

func (v *voiceConnectionImpl) stopReceiving() {
	v.stopOnce.Do(func() { close(v.stop) })
	v.mu.Lock()
	done := v.receiving
	v.mu.Unlock()
	if done != nil {
		<-done
	}
}
