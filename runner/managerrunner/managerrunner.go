package managerrunner

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sadewadee/mystic-shorts/internal/api"
	"github.com/sadewadee/mystic-shorts/internal/api/handlers"
	"github.com/sadewadee/mystic-shorts/internal/heartbeat"
	"github.com/sadewadee/mystic-shorts/internal/proxypool"
	"github.com/sadewadee/mystic-shorts/runner"
)

// ManagerRunner serves the HTTP API together with the periodic background
// monitors. In standalone mode it also executes background tasks in process.
type ManagerRunner struct {
	cfg       *runner.Config
	app       *runner.App
	srv       *http.Server
	hbMonitor *heartbeat.Monitor
	pxMonitor *proxypool.Monitor
	gateway   *proxypool.Gateway
}

// New creates a new ManagerRunner
func New(ctx context.Context, cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeStandalone && cfg.RunMode != runner.RunModeAPI {
		return nil, runner.ErrInvalidRunMode
	}

	app, err := runner.NewApp(ctx, cfg, cfg.RunMode == runner.RunModeStandalone)
	if err != nil {
		return nil, err
	}

	svc := app.Services
	router := api.NewRouter(
		handlers.NewAccountHandler(svc.Accounts),
		handlers.NewVideoHandler(svc.Videos),
		handlers.NewCaptchaHandler(svc.Captcha),
		handlers.NewProxyHandler(svc.Proxies),
		handlers.NewExportHandler(svc.Accounts, svc.Videos),
		handlers.NewHealthHandler(app.DB, runner.Version, cfg.DataFolder),
	)

	if cfg.APIToken == "" {
		log.Warn("no API token configured, the API is open to anyone who can reach it")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router.Setup(cfg.APIToken),
		ReadHeaderTimeout: 10 * time.Second,
		// bulk uploads stream large multipart bodies
		WriteTimeout:   10 * time.Minute,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	m := &ManagerRunner{
		cfg: cfg,
		app: app,
		srv: srv,
		hbMonitor: heartbeat.NewMonitor(0, cfg.StaleAfter, map[string]heartbeat.Reaper{
			"videos":   svc.Videos,
			"accounts": svc.Accounts,
		}),
	}

	if cfg.ProxyHealthInterval > 0 {
		m.pxMonitor = proxypool.NewMonitor(app.Proxies, cfg.ProxyHealthInterval)
	}

	if cfg.ProxyGateAddr != "" {
		var country *string
		if cfg.ProxyGateCountry != "" {
			c := strings.ToUpper(cfg.ProxyGateCountry)
			country = &c
		}
		m.gateway = proxypool.NewGateway(cfg.ProxyGateAddr, app.Proxies, country)
	}

	return m, nil
}

// Run starts the API server and the monitors
func (m *ManagerRunner) Run(ctx context.Context) error {
	egroup, ctx := errgroup.WithContext(ctx)

	egroup.Go(func() error {
		return m.hbMonitor.Run(ctx)
	})

	if m.pxMonitor != nil {
		egroup.Go(func() error {
			return m.pxMonitor.Run(ctx)
		})
	}

	if m.gateway != nil {
		egroup.Go(func() error {
			return m.gateway.Run(ctx)
		})
	}

	egroup.Go(func() error {
		return m.startServer(ctx)
	})

	return egroup.Wait()
}

// Close cleans up resources
func (m *ManagerRunner) Close(ctx context.Context) error {
	return m.app.Close(ctx)
}

func (m *ManagerRunner) startServer(ctx context.Context) error {
	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := m.srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("error shutting down server")
		}
	}()

	mode := "api"
	if m.app.Local != nil {
		mode = "standalone"
	}

	log.WithFields(log.Fields{
		"addr": m.cfg.Addr,
		"mode": mode,
	}).Info("API server starting, endpoints available at /api/v1/")

	err := m.srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
