package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/responder"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/foxseedlab/kikitori/internal/webhook"
)

const relayStepTimeout = 90 * time.Second

type relayItem struct {
	sessionID  string
	guildID    string
	transcript transcriber.Transcript
	// barrier, when set, is closed once every earlier item of the channel
	// has been handled.
	barrier chan struct{}
}

// Relay delivers finished transcripts to storage, the text channel, the
// webhook and the responder. Items of one text channel are handled in the
// order they were submitted by a dedicated worker.
type Relay struct {
	cfg       *config.Config
	repo      repository.Repository
	discord   discord.Client
	webhook   webhook.Sender
	responder responder.Responder

	mu      sync.Mutex
	workers map[string]*channelWorker
	closed  bool
	wg      sync.WaitGroup
}

func NewRelay(cfg *config.Config, repo repository.Repository, dc discord.Client, wh webhook.Sender, rs responder.Responder) *Relay {
	return &Relay{
		cfg:       cfg,
		repo:      repo,
		discord:   dc,
		webhook:   wh,
		responder: rs,
		workers:   make(map[string]*channelWorker),
	}
}

// SinkFor returns a transcript sink bound to one listening session.
func (r *Relay) SinkFor(sessionID, guildID string) transcriber.Sink {
	return &sessionSink{relay: r, sessionID: sessionID, guildID: guildID}
}

type sessionSink struct {
	relay     *Relay
	sessionID string
	guildID   string
}

func (s *sessionSink) Emit(t transcriber.Transcript) {
	s.relay.submit(relayItem{sessionID: s.sessionID, guildID: s.guildID, transcript: t})
}

func (r *Relay) submit(item relayItem) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		slog.Warn("relay closed; dropping transcript", "channel_id", item.transcript.ChannelID, "session_id", item.sessionID)
		return false
	}
	channelID := item.transcript.ChannelID
	w, ok := r.workers[channelID]
	if !ok {
		w = newChannelWorker()
		r.workers[channelID] = w
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			w.run(r.handle)
		}()
	}
	w.enqueue(item)
	return true
}

// Flush waits until every transcript submitted so far for channelID has been
// handled.
func (r *Relay) Flush(ctx context.Context, channelID string) error {
	barrier := make(chan struct{})
	if !r.submit(relayItem{transcript: transcriber.Transcript{ChannelID: channelID}, barrier: barrier}) {
		return nil
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting transcripts and waits for queued ones to be handled.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, w := range r.workers {
		w.close()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) handle(item relayItem) {
	if item.barrier != nil {
		close(item.barrier)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayStepTimeout)
	defer cancel()

	t := item.transcript
	logger := slog.With("session_id", item.sessionID, "channel_id", t.ChannelID, "ssrc", t.SSRC)
	if err := r.repo.InsertMessage(ctx, repository.InsertMessageInput{
		SessionID: item.sessionID,
		ChannelID: t.ChannelID,
		Author:    t.Identity,
		UserID:    t.UserID,
		IsBot:     !t.Human,
		Content:   t.Text,
		SpokenAt:  t.SpokenAt,
	}); err != nil {
		logger.Error("failed to store transcript", "error", err)
	}
	if r.cfg.PostTranscripts {
		if err := r.discord.SendChannelMessage(t.ChannelID, formatTranscriptLine(t.Identity, t.Text)); err != nil {
			logger.Error("failed to post transcript message", "error", err)
		}
	}
	if err := r.webhook.SendTranscript(ctx, webhook.TranscriptPayload{
		SessionID: item.sessionID,
		GuildID:   item.guildID,
		ChannelID: t.ChannelID,
		Speaker:   t.Identity,
		UserID:    t.UserID,
		IsBot:     !t.Human,
		Text:      t.Text,
		SpokenAt:  t.SpokenAt,
	}); err != nil {
		logger.Error("failed to send transcript webhook", "error", err)
	}
	if r.shouldRespond(t) {
		r.respond(ctx, item.sessionID, t.ChannelID)
	}
}

// shouldRespond reports whether t asks the bot for a reply. Non-human
// speakers and the bot's own name never trigger one.
func (r *Relay) shouldRespond(t transcriber.Transcript) bool {
	if r.responder == nil || r.cfg.ActivationPhrase == "" {
		return false
	}
	if !t.Human || strings.EqualFold(t.Identity, r.cfg.BotName) {
		return false
	}
	return strings.Contains(strings.ToLower(t.Text), strings.ToLower(r.cfg.ActivationPhrase))
}

func (r *Relay) respond(ctx context.Context, sessionID, channelID string) {
	logger := slog.With("session_id", sessionID, "channel_id", channelID)
	history, err := r.repo.ListRecentMessagesByChannel(ctx, channelID, r.cfg.ResponderHistoryLimit)
	if err != nil {
		logger.Error("failed to load channel history", "error", err)
		return
	}
	turns := make([]responder.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, responder.Turn{
			Author:        m.Author,
			Content:       m.Content,
			FromAssistant: m.IsBot && m.Author == r.cfg.BotName,
		})
	}
	reply, err := r.responder.Respond(ctx, turns)
	if err != nil {
		logger.Error("responder failed", "error", err)
		return
	}
	if err := r.discord.SendChannelMessage(channelID, reply); err != nil {
		logger.Error("failed to post reply", "error", err)
	}
	if err := r.repo.InsertMessage(ctx, repository.InsertMessageInput{
		SessionID: sessionID,
		ChannelID: channelID,
		Author:    r.cfg.BotName,
		IsBot:     true,
		Content:   reply,
		SpokenAt:  time.Now(),
	}); err != nil {
		logger.Error("failed to store reply", "error", err)
	}
	logger.Info("reply posted", "chars", len(reply), "history", len(turns))
}

type channelWorker struct {
	mu     sync.Mutex
	items  []relayItem
	closed bool
	notify chan struct{}
}

func newChannelWorker() *channelWorker {
	return &channelWorker{notify: make(chan struct{}, 1)}
}

func (w *channelWorker) enqueue(item relayItem) {
	w.mu.Lock()
	w.items = append(w.items, item)
	w.mu.Unlock()
	w.signal()
}

func (w *channelWorker) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.signal()
}

func (w *channelWorker) signal() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *channelWorker) run(handle func(relayItem)) {
	for {
		w.mu.Lock()
		if len(w.items) == 0 {
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return
			}
			<-w.notify
			continue
		}
		item := w.items[0]
		w.items = w.items[1:]
		w.mu.Unlock()
		handle(item)
	}
}
