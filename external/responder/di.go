package responder

import (
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/responder"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (responder.Responder, error) {
		c := do.MustInvoke[*config.Config](i)
		if !c.ResponderEnabled() {
			return nil, nil
		}
		return NewOpenAIResponder(OpenAIConfig{
			BaseURL:      c.ResponderBaseURL,
			APIKey:       c.ResponderAPIKey,
			Model:        c.ResponderModel,
			SystemPrompt: c.ResponderSystemPrompt,
		})
	})
}
