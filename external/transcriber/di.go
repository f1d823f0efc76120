package transcriber

import (
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcriber.Dialer, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewWebSocketDialer(WebSocketConfig{
			URL:         c.STTWebSocketURL,
			ReadTimeout: c.ReadTimeout(),
		}), nil
	})
}
