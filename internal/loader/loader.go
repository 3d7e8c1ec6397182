// Package loader turns a parsed config into a fully wired application:
// state store, artifact store, sources, extraction engine, destinations
// and the runner on top.
package loader

import (
	"context"
	"fmt"
	"log/slog"

	"gazeta/internal/artifacts"
	"gazeta/internal/config"
	"gazeta/internal/core"
	"gazeta/internal/extract"
	"gazeta/internal/platforms"
	"gazeta/internal/publish"
	"gazeta/internal/registry"
	"gazeta/internal/sources"
	"gazeta/internal/storage"
	"gazeta/internal/types"

	_ "gazeta/internal/storage/sqlite"
)

type App struct {
	name         string
	runner       *core.Runner
	orchestrator *core.Orchestrator
	publisher    *publish.MultiPublisher
	store        storage.StateStore
	logger       *slog.Logger
}

// LoadAndBuild reads the config file and assembles the application.
// Nothing external is contacted until Start.
func LoadAndBuild(ctx context.Context, path string, opts types.RunOptions, runOnce bool) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return Build(ctx, cfg, opts, runOnce)
}

func Build(ctx context.Context, cfg *config.Config, opts types.RunOptions, runOnce bool) (*App, error) {
	logger := slog.Default()

	store, err := storage.New(cfg.Storage.Type, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	artifactStore, err := artifacts.NewStore(cfg.Pipeline.DataDir)
	if err != nil {
		return nil, err
	}

	reg := registry.New(buildProfiles(cfg), buildSets(cfg))

	publisher, err := buildPublisher(cfg, logger)
	if err != nil {
		return nil, err
	}

	handles, err := buildSources(cfg, artifactStore, logger)
	if err != nil {
		return nil, err
	}

	engine := extract.NewEngine(artifactStore, nil, logger)

	orchestrator := core.NewOrchestrator(core.OrchestratorConfig{
		Store:      store,
		Registry:   reg,
		Engine:     engine,
		Publisher:  publisher,
		Sources:    handles,
		Workers:    cfg.Pipeline.Workers,
		DefaultMax: cfg.Pipeline.MaxItems,
		Logger:     logger,
	})

	runner := core.NewRunner(core.RunnerConfig{
		Name:         cfg.Pipeline.Name,
		Orchestrator: orchestrator,
		Interval:     cfg.Interval(),
		RunOnce:      runOnce || cfg.Pipeline.RunOnce,
		Options:      opts,
		Logger:       logger,
	})

	return &App{
		name:         cfg.Pipeline.Name,
		runner:       runner,
		orchestrator: orchestrator,
		publisher:    publisher,
		store:        store,
		logger:       logger,
	}, nil
}

func (a *App) Name() string {
	return a.name
}

func (a *App) Start(ctx context.Context) error {
	if err := a.publisher.Initialize(ctx); err != nil {
		return err
	}
	return a.runner.Start(ctx)
}

func (a *App) Stop(ctx context.Context) error {
	if err := a.runner.Stop(ctx); err != nil {
		a.logger.Error("runner stop failed", "error", err)
	}
	if err := a.publisher.Shutdown(ctx); err != nil {
		a.logger.Error("publisher shutdown failed", "error", err)
	}
	return a.store.Close(ctx)
}

func (a *App) Stats(ctx context.Context) (*types.Stats, error) {
	return a.orchestrator.Stats(ctx)
}

// Close releases the store without running the pipeline. Used by the
// stats command.
func (a *App) Close(ctx context.Context) error {
	return a.store.Close(ctx)
}

func buildProfiles(cfg *config.Config) map[string]types.Profile {
	profiles := make(map[string]types.Profile, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		profiles[name] = types.Profile{
			Provider:        p.Provider,
			Model:           p.Model,
			Host:            p.Host,
			APIKey:          p.APIKey,
			MaxChars:        p.MaxChars,
			AnalysisPrompt:  p.AnalysisPrompt,
			StructurePrompt: p.StructurePrompt,
			FocusAreas:      p.FocusAreas,
		}
	}
	return profiles
}

func buildSets(cfg *config.Config) map[string]types.DestinationSet {
	sets := make(map[string]types.DestinationSet, len(cfg.DestinationSets))
	for name, s := range cfg.DestinationSets {
		sets[name] = types.DestinationSet{Destinations: s.Destinations}
	}
	return sets
}

func buildPublisher(cfg *config.Config, logger *slog.Logger) (*publish.MultiPublisher, error) {
	publisher := publish.NewMultiPublisher(logger)

	for name, dst := range cfg.Destinations {
		var (
			dest publish.Destination
			err  error
		)

		switch dst.Type {
		case "notion":
			dest, err = publish.NewNotionDestination(name, dst.Notion)
		case "discord":
			var platform *platforms.DiscordPlatform
			platform, err = platforms.NewDiscordPlatform(dst.Discord.BotToken, dst.Discord.Sleep)
			if err == nil {
				dest, err = publish.NewDiscordDestination(name, platform, dst.Discord.ChannelID, dst.Discord.ChannelType)
			}
		case "bluesky":
			var platform *platforms.BlueskyPlatform
			platform, err = platforms.NewBlueskyPlatform(dst.Bluesky.Host, dst.Bluesky.Identifier, dst.Bluesky.Password)
			if err == nil {
				dest = publish.NewBlueskyDestination(name, platform, dst.Bluesky.Languages)
			}
		case "feed":
			dest, err = publish.NewFeedDestination(name, dst.Feed)
		default:
			err = fmt.Errorf("unsupported destination type: %s", dst.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to build destination %s: %w", name, err)
		}

		publisher.Register(dest)
	}

	return publisher, nil
}

func buildSources(cfg *config.Config, artifactStore *artifacts.Store, logger *slog.Logger) ([]core.SourceHandle, error) {
	var handles []core.SourceHandle

	for id, src := range cfg.Sources {
		if !src.Enabled {
			continue
		}

		name := src.Name
		if name == "" {
			name = id
		}

		spec := types.SourceSpec{
			ID:             id,
			Name:           name,
			Address:        src.Address,
			Enabled:        true,
			Profile:        src.Profile,
			DestinationSet: src.DestinationSet,
			MaxItems:       src.MaxItems,
		}

		switch src.Type {
		case "", "mailbox":
			source, err := sources.NewMailboxSource(name, cfg.Mailbox, cfg.MailboxTimeout(), artifactStore, logger)
			if err != nil {
				return nil, err
			}
			handles = append(handles, core.SourceHandle{Spec: spec, Adapter: source, Fetcher: source})
		case "rss":
			feedURL := src.FeedURL
			if feedURL == "" {
				feedURL = src.Address
			}
			source, err := sources.NewRSSSource(name, feedURL, cfg.MailboxTimeout(), artifactStore, logger)
			if err != nil {
				return nil, err
			}
			handles = append(handles, core.SourceHandle{Spec: spec, Adapter: source, Fetcher: source})
		default:
			return nil, fmt.Errorf("source %s: unsupported type %s", id, src.Type)
		}
	}

	return handles, nil
}
