package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotidal/internal/auth"
	"github.com/desertthunder/spotidal/internal/batch"
	"github.com/desertthunder/spotidal/internal/models"
	"github.com/desertthunder/spotidal/internal/server"
	"github.com/desertthunder/spotidal/internal/services"
	"github.com/desertthunder/spotidal/internal/shared"
	"github.com/desertthunder/spotidal/internal/tasks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// authenticator is the part of [auth.Provider] the CLI drives.
type authenticator interface {
	Service() string
	Token(ctx context.Context) (*oauth2.Token, error)
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error)
	Clear(ctx context.Context) error
	Status(ctx context.Context) (auth.Status, error)
}

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config      *shared.Config
	configPath  string
	source      services.Source
	dest        services.Destination
	providers   map[string]authenticator
	clients     map[string]*services.RESTClient
	store       auth.Store
	engine      tasks.SyncEngine
	httpClient  *http.Client
	logger      *log.Logger
	logOutput   *shared.SwapWriter
	output      io.Writer
	openBrowser func(string) error
	authTimeout time.Duration
	stopMetrics context.CancelFunc
}

// RunnerOpts contains configuration options for creating a Runner.
//
// Services left nil are built from the config in [Runner.Before].
type RunnerOpts struct {
	Config      *shared.Config
	ConfigPath  string
	Source      services.Source
	Dest        services.Destination
	Providers   map[string]authenticator
	Clients     map[string]*services.RESTClient
	Engine      tasks.SyncEngine
	HTTPClient  *http.Client
	Logger      *log.Logger
	Output      io.Writer
	OpenBrowser func(string) error
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	logOutput := shared.NewSwapWriter(os.Stderr)
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(logOutput)
	} else {
		logOutput = nil
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = shared.OpenBrowser
	}
	if opts.Providers == nil {
		opts.Providers = map[string]authenticator{}
	}
	if opts.Clients == nil {
		opts.Clients = map[string]*services.RESTClient{}
	}

	r := &Runner{
		config:      opts.Config,
		configPath:  opts.ConfigPath,
		source:      opts.Source,
		dest:        opts.Dest,
		providers:   opts.Providers,
		clients:     opts.Clients,
		engine:      opts.Engine,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		logOutput:   logOutput,
		output:      opts.Output,
		openBrowser: opts.OpenBrowser,
		authTimeout: 2 * time.Minute,
	}
	if r.engine == nil && r.source != nil && r.dest != nil {
		r.engine = r.newEngine()
	}
	return r
}

func (r *Runner) newEngine() *tasks.PlaylistEngine {
	var delay time.Duration
	if r.config != nil {
		delay = r.config.Batch.Delay()
	}
	return tasks.NewPlaylistEngine(r.source, r.dest, tasks.EngineOptions{
		Logger:      r.logger,
		ExportDelay: delay,
	})
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, spotifyCommand, tidalCommand, apiCommand, transferCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Before loads the configuration named by --config and wires the services it describes.
//
// A missing config file is not an error: defaults are used so `setup` can create one.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if path := cmd.String("config"); path != "" {
		r.configPath = path
	}
	if r.configPath == "" {
		r.configPath = shared.ConfigPath()
	}

	if r.config == nil {
		config, err := shared.LoadConfig(r.configPath)
		switch {
		case err == nil:
			r.config = config
		case errors.Is(err, shared.ErrMissingConfig):
			r.logger.Debug("config file not found, using defaults", "path", r.configPath)
			r.config = shared.DefaultConfig()
		default:
			return ctx, err
		}
	}

	level := r.config.Log.Level
	if cmd.Bool("debug") {
		level = "debug"
	}
	if lvl, err := log.ParseLevel(level); err == nil {
		shared.SetLogLevel(r.logger, lvl)
	}

	if err := r.wire(); err != nil {
		return ctx, err
	}

	if addr := r.config.Metrics.Addr; addr != "" {
		if err := r.startMetrics(ctx, addr); err != nil {
			r.logger.Warn("metrics server not started", "addr", addr, "error", err)
		}
	}
	return ctx, nil
}

// After releases the token store and stops the metrics server.
func (r *Runner) After(context.Context, *cli.Command) error {
	if r.stopMetrics != nil {
		r.stopMetrics()
	}
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// wire builds providers, services and the engine for whichever vendors have credentials.
func (r *Runner) wire() error {
	if r.source != nil && r.dest != nil {
		return nil
	}

	store, err := auth.NewStore(r.config, r.configPath)
	if err != nil {
		return fmt.Errorf("failed to open token store: %w", err)
	}
	r.store = store

	b := r.config.Batch
	clientOpts := []services.ClientOption{
		services.WithHTTPClient(r.httpClient),
		services.WithRateLimit(b.RequestsPerSecond),
		services.WithClientLogger(r.logger),
	}

	if r.source == nil {
		if err := r.wireSpotify(clientOpts); err != nil {
			r.logger.Debug("spotify not configured", "error", err)
		}
	}
	if r.dest == nil {
		if err := r.wireTidal(clientOpts); err != nil {
			r.logger.Debug("tidal not configured", "error", err)
		}
	}

	if r.engine == nil && r.source != nil && r.dest != nil {
		r.engine = r.newEngine()
	}
	return nil
}

func (r *Runner) wireSpotify(clientOpts []services.ClientOption) error {
	config, err := services.SpotifyOAuthConfig(r.config.Credentials.Spotify)
	if err != nil {
		return err
	}
	provider := auth.NewProvider(models.ServiceSpotify, config, r.store, r.logger)

	client, err := services.NewRESTClient(models.ServiceSpotify, services.SpotifyBaseURL, clientOpts...)
	if err != nil {
		return err
	}

	b := r.config.Batch
	svc, err := services.NewSpotifyService(config, provider, services.SpotifyOptions{
		Client: client,
		Pages:  batch.PageOptions{Delay: b.SpotifyPageDelay(), MaxPages: b.MaxPages},
		Logger: shared.WithLogger(r.logger, "service", models.ServiceSpotify),
	})
	if err != nil {
		return err
	}

	r.providers[models.ServiceSpotify] = provider
	r.clients[models.ServiceSpotify] = client
	r.source = svc
	return nil
}

func (r *Runner) wireTidal(clientOpts []services.ClientOption) error {
	creds := r.config.Credentials.Tidal
	config, err := services.TidalOAuthConfig(creds)
	if err != nil {
		return err
	}
	provider := auth.NewProvider(models.ServiceTidal, config, r.store, r.logger)

	client, err := services.NewRESTClient(models.ServiceTidal, services.TidalBaseURL,
		append(clientOpts, services.WithContentType("application/vnd.api+json"))...)
	if err != nil {
		return err
	}

	b := r.config.Batch
	svc, err := services.NewTidalService(config, provider, services.TidalOptions{
		Client: client,
		Batch: batch.Options{
			ChunkSize:    b.ChunkSize,
			Delay:        b.Delay(),
			ChunkTimeout: b.ChunkTimeout(),
		},
		Pages:          batch.PageOptions{Delay: b.TidalPageDelay(), MaxPages: b.MaxPages},
		Logger:         shared.WithLogger(r.logger, "service", models.ServiceTidal),
		DefaultCountry: creds.CountryCode,
	})
	if err != nil {
		return err
	}

	r.providers[models.ServiceTidal] = provider
	r.clients[models.ServiceTidal] = client
	r.dest = svc
	return nil
}

// startMetrics serves /metrics and /healthz until ctx is done or [Runner.After] runs.
func (r *Runner) startMetrics(ctx context.Context, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	router := server.NewBasicRouter()
	router.Use(server.Recover(r.logger))
	router.Handler(server.NewMetricsHandler(prometheus.DefaultGatherer))

	srv := server.New(addr, router, r.logger)
	errs, err := srv.Start(ctx)
	if err != nil {
		cancel()
		return err
	}
	r.stopMetrics = cancel
	r.logger.Info("metrics server listening", "addr", srv.Addr())

	go func() {
		if err := <-errs; err != nil {
			r.logger.Warn("metrics server stopped", "error", err)
		}
	}()
	return nil
}

func (r *Runner) requireSource() (services.Source, error) {
	if r.source == nil {
		return nil, fmt.Errorf("%w: Spotify credentials missing from %s", shared.ErrServiceUnavailable, r.configPath)
	}
	return r.source, nil
}

func (r *Runner) requireDest() (services.Destination, error) {
	if r.dest == nil {
		return nil, fmt.Errorf("%w: Tidal credentials missing from %s", shared.ErrServiceUnavailable, r.configPath)
	}
	return r.dest, nil
}

func (r *Runner) requireEngine() (tasks.SyncEngine, error) {
	if _, err := r.requireSource(); err != nil {
		return nil, err
	}
	if _, err := r.requireDest(); err != nil {
		return nil, err
	}
	if r.engine == nil {
		return nil, fmt.Errorf("%w: transfer engine not initialized", shared.ErrServiceUnavailable)
	}
	return r.engine, nil
}

func (r *Runner) provider(service string) (authenticator, error) {
	p, ok := r.providers[service]
	if !ok {
		return nil, fmt.Errorf("%w: %s credentials missing from %s", shared.ErrServiceUnavailable, service, r.configPath)
	}
	return p, nil
}

// authHint wraps auth errors with the command that fixes them.
func authHint(service string, err error) error {
	if !services.IsAuthError(err) {
		return err
	}
	if service == "" {
		return fmt.Errorf("%w (run `spotidal spotify auth` and `spotidal tidal auth`)", err)
	}
	return fmt.Errorf("%w (run `spotidal %s auth`)", err, service)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	rule := strings.Repeat("═", 39)
	r.writePlain("%s\n%v\n%s\n", rule, title, rule)
}
