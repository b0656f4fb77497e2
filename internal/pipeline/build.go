package pipeline

import (
	"log/slog"
	"net/http"

	"storybook/internal/config"
	"storybook/internal/deck"
	"storybook/internal/match"
	"storybook/internal/notifications"
	"storybook/internal/photo"
	"storybook/internal/queue"
	"storybook/internal/services/faceswap"
	"storybook/internal/services/stylize"
	"storybook/internal/services/vision"
	"storybook/internal/templates"
)

// Components is the production wiring shared by the daemon and the CLI.
type Components struct {
	Vision       *vision.Client
	Templates    *templates.Store
	Validator    *photo.Validator
	Notifier     notifications.Service
	Orchestrator *Orchestrator
}

// Build wires the provider clients, template store and orchestrator from
// configuration.
func Build(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Components {
	visionClient := vision.New(cfg.Vision)
	tmplStore := templates.NewStore(cfg.Paths.TemplatesDir, visionClient, logger)
	notifier := notifications.NewService(cfg)
	swapCfg := cfg.FaceSwap

	orch := New(cfg, Deps{
		Store:     store,
		Templates: tmplStore,
		Matcher:   match.New(cfg, visionClient, visionClient, logger),
		Stylizer:  stylize.New(cfg.Stylize, logger),
		Swappers: func(client *http.Client) faceswap.Swapper {
			return faceswap.New(swapCfg, logger, faceswap.WithHTTPClient(client))
		},
		Renderer: deck.NewRenderer(cfg.Render, logger),
		Notifier: notifier,
	}, logger)

	return &Components{
		Vision:       visionClient,
		Templates:    tmplStore,
		Validator:    photo.NewValidator(cfg.Photo, visionClient, logger),
		Notifier:     notifier,
		Orchestrator: orch,
	}
}
