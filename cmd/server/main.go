package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-audit-server/audit/jobs"
	"github.com/jrsteele09/go-audit-server/audit/orchestrator"
	"github.com/jrsteele09/go-audit-server/audit/runner"
	"github.com/jrsteele09/go-audit-server/auditlog"
	"github.com/jrsteele09/go-audit-server/csrf"
	"github.com/jrsteele09/go-audit-server/internal/config"
	"github.com/jrsteele09/go-audit-server/oauthflow"
	"github.com/jrsteele09/go-audit-server/permissions"
	"github.com/jrsteele09/go-audit-server/server"
	"github.com/jrsteele09/go-audit-server/sessions"
	"github.com/jrsteele09/go-audit-server/token"
	"github.com/jrsteele09/go-audit-server/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	shutdownTimeout      = 15 * time.Second
	sessionSweepInterval = 10 * time.Minute
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.New()
	if err != nil {
		return err
	}
	setupLogging(c)
	displayAppname(c.GetAppName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobRepo, closeRepo, err := newJobRepo(ctx, c)
	if err != nil {
		return err
	}
	defer closeRepo()

	audits, err := orchestrator.New(jobRepo, newRunner(c),
		orchestrator.WithJobTimeout(c.GetJobTimeout()),
		orchestrator.WithRetention(c.GetJobRetention()),
		orchestrator.WithParallelFanOut(c.GetParallelFanOut()),
		orchestrator.WithRegisterer(prometheus.DefaultRegisterer),
	)
	if err != nil {
		return fmt.Errorf("[run] failed to create orchestrator: %w", err)
	}

	provider := oauthflow.NewGoogleProvider(
		c.GetClientID(),
		c.GetClientSecret(),
		c.GetBaseURL()+server.RouteAuthCallback,
		c.GetIssuerURL(),
		c.GetRequestedScopes(),
	)
	authManager, err := oauthflow.NewManager(provider, oauthflow.Repos{
		Users:    users.NewInMemoryRepo(),
		Tokens:   token.NewInMemoryRepo(),
		Sessions: sessions.NewInMemoryRepo(),
		AuditLog: auditlog.NewInMemoryRepo(),
	}, oauthflow.WithSessionTTL(c.GetMaxSessionAge()))
	if err != nil {
		return fmt.Errorf("[run] failed to create auth manager: %w", err)
	}

	secret, err := sessionSecret(c)
	if err != nil {
		return err
	}
	guard, err := csrf.NewGuard(secret, c.GetCSRFTokenTTL())
	if err != nil {
		return fmt.Errorf("[run] failed to create csrf guard: %w", err)
	}

	handler, err := server.New(c, server.Deps{
		Auth:        authManager,
		CSRF:        guard,
		Permissions: permissions.NewChecker(c.GetRequiredScopes()),
		Audits:      audits,
		Gatherer:    prometheus.DefaultGatherer,
	})
	if err != nil {
		return fmt.Errorf("[run] failed to create server: %w", err)
	}

	go audits.RunJanitor(ctx, c.GetJanitorInterval())
	go sweepSessions(ctx, authManager)

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- listenAndServe(httpServer)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-serveErr:
		returnError = err
	}
	if err := shutdown(httpServer, audits); err != nil && returnError == nil {
		returnError = err
	}
	return returnError
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// newJobRepo returns the configured job store and a function releasing it.
func newJobRepo(ctx context.Context, c config.Config) (jobs.Repo, func(), error) {
	switch c.GetJobStore() {
	case config.JobStoreRedis:
		client, err := jobs.NewRedisClient(ctx, c.GetRedisAddr(), c.GetRedisPassword(), c.GetRedisDB())
		if err != nil {
			return nil, nil, fmt.Errorf("[newJobRepo] %w", err)
		}
		log.Info().Str("addr", c.GetRedisAddr()).Msg("Audit jobs stored in redis")
		return jobs.NewRedisRepo(client, c.GetJobRetention()), func() {
			if err := client.Close(); err != nil {
				log.Err(err).Msg("Failed to close redis client")
			}
		}, nil
	case config.JobStoreMemory, "":
		return jobs.NewInMemoryRepo(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("[newJobRepo] unknown job store %q", c.GetJobStore())
	}
}

func newRunner(c config.Config) runner.Runner {
	return runner.NewDispatcher(
		runner.NewScriptRunner(c.GetScriptInterpreter(), c.GetScriptsDir(), c.GetOutputDir()),
		runner.NewAPIRunner(c.GetStorageAPIBaseURL(), c.GetComputeAPIBaseURL()),
	)
}

// sessionSecret returns the configured secret, or a random one that makes
// CSRF tokens invalid after a restart.
func sessionSecret(c config.Config) ([]byte, error) {
	if s := c.GetSessionSecret(); s != "" {
		return []byte(s), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("[sessionSecret] failed to generate secret: %w", err)
	}
	log.Warn().Msg("SESSION_SECRET is not set; using an ephemeral secret")
	return secret, nil
}

func sweepSessions(ctx context.Context, m *oauthflow.Manager) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := m.SweepExpiredSessions()
			if err != nil {
				log.Err(err).Msg("Session sweep failed")
				continue
			}
			if removed > 0 {
				log.Info().Int("removed", removed).Msg("Removed expired sessions")
			}
		}
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

// shutdown drains HTTP requests first, then lets running audits record their final state.
func shutdown(server *http.Server, audits *orchestrator.Orchestrator) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	if err := audits.Shutdown(ctx); err != nil {
		return fmt.Errorf("audits.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
