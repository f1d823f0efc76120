package session

import (
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/observe"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/responder"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/foxseedlab/kikitori/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Relay, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		dc := do.MustInvoke[discord.Client](i)
		wh := do.MustInvoke[webhook.Sender](i)
		rs := do.MustInvoke[responder.Responder](i)
		return NewRelay(cfg, repo, dc, wh, rs), nil
	})
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		dc := do.MustInvoke[discord.Client](i)
		dialer := do.MustInvoke[transcriber.Dialer](i)
		relay := do.MustInvoke[*Relay](i)
		metrics := do.MustInvoke[*observe.Metrics](i)
		return NewManager(cfg, repo, dc, dialer, relay, metrics), nil
	})
}
