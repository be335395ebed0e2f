// Package appstate holds the process-wide collaborators: the tool catalog,
// the model tracker and the orchestrator built on top of them.
package appstate

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"labagent/internal/agent"
	"labagent/internal/config"
	"labagent/internal/engine"
	"labagent/internal/mcp"
	"labagent/internal/models"
)

// State is built once per process and handed to the HTTP surface and the
// CLI. Tests build their own.
type State struct {
	Config config.Config

	MCP      *mcp.Client
	Catalog  *mcp.Catalog
	Registry *models.Registry
	Tracker  *models.Tracker
	Engine   *engine.Resident
	Agent    *agent.Orchestrator

	StartedAt time.Time
	Logger    *log.Logger
}

// Deps replaces the default collaborators. Zero fields fall back to the ones
// New derives from config.
type Deps struct {
	Downloader models.Downloader
	Loader     models.Loader
	Logger     *log.Logger
}

// New wires the collaborators described by cfg. It creates the models
// directory and opens the registry but does not contact the tool server.
func New(ctx context.Context, cfg config.Config, deps Deps) (*State, error) {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	if err := os.MkdirAll(cfg.Models.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}
	registry := models.NewRegistry(cfg.RegistryPath())
	if err := registry.Init(ctx); err != nil {
		return nil, fmt.Errorf("open model registry: %w", err)
	}

	client := mcp.New(cfg.MCP.URL, cfg.App.Version, cfg.Verbose)
	client.Logger = logger
	catalog := mcp.NewCatalog(client)
	catalog.Logger = logger

	downloader := deps.Downloader
	if downloader == nil {
		downloader = models.NewHubDownloader(cfg.Models.HubURL, cfg.Models.HubToken)
	}
	loader := deps.Loader
	if loader == nil {
		oa := engine.NewOpenAI(cfg.Engine.BaseURL, cfg.Engine.APIKey)
		oa.Logger = logger
		oa.Verbose = cfg.Verbose
		loader = oa
	}

	tracker := models.NewTracker(cfg.Models.Dir, downloader, loader, registry)
	tracker.Logger = logger

	resident := engine.NewResident(tracker)
	orch := agent.New(resident, catalog, client)
	orch.Version = cfg.App.Version
	orch.Logger = logger
	orch.Verbose = cfg.Verbose

	return &State{
		Config:    cfg,
		MCP:       client,
		Catalog:   catalog,
		Registry:  registry,
		Tracker:   tracker,
		Engine:    resident,
		Agent:     orch,
		StartedAt: time.Now(),
		Logger:    logger,
	}, nil
}

// Startup prefetches the tool catalog and loads the default model when it is
// already on disk. Neither failure is fatal: the service comes up without
// tools or without a model and reports that through its status routes.
func (s *State) Startup(ctx context.Context) {
	tools := s.Catalog.Tools(ctx)
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	if len(names) == 0 {
		s.Logger.Printf("[startup] MCP tools unavailable at %s; continuing without tools", s.MCP.Endpoint())
	} else {
		s.Logger.Printf("[startup] MCP tools loaded: %s", strings.Join(names, ", "))
	}

	id := strings.TrimSpace(s.Config.Models.Default)
	if id == "" {
		return
	}
	if !s.Tracker.Downloaded(id) {
		s.Logger.Printf("[startup] default model %s not downloaded; skipping auto-load", id)
		return
	}
	if err := s.Tracker.LoadModel(ctx, id); err != nil {
		s.Logger.Printf("[startup] auto-load %s failed: %v", id, err)
		return
	}
	s.Logger.Printf("[startup] auto-loaded %s", id)
}

// Request builds an agent request from the configured generation defaults.
// Zero arguments keep the defaults.
func (s *State) Request(turns []agent.Turn, maxNewTokens int, temperature *float64) agent.Request {
	req := agent.Request{
		Turns:        turns,
		MaxNewTokens: s.Config.Generation.MaxNewTokens,
		Temperature:  s.Config.Generation.Temperature,
		MaxToolCalls: s.Config.Generation.MaxToolCalls,
	}
	if maxNewTokens > 0 {
		req.MaxNewTokens = maxNewTokens
	}
	if temperature != nil {
		req.Temperature = *temperature
	}
	return req
}

// Close stops downloads, releases the model and closes the registry.
func (s *State) Close() error {
	terr := s.Tracker.Close()
	rerr := s.Registry.Close()
	if terr != nil {
		return terr
	}
	return rerr
}
