package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/triage/internal/config"
	"github.com/ehr/triage/internal/domain/encounter"
	"github.com/ehr/triage/internal/domain/facility"
	"github.com/ehr/triage/internal/domain/triage"
	"github.com/ehr/triage/internal/platform/auth"
	"github.com/ehr/triage/internal/platform/db"
	"github.com/ehr/triage/internal/platform/events"
	"github.com/ehr/triage/internal/platform/metrics"
	"github.com/ehr/triage/internal/platform/middleware"
	"github.com/ehr/triage/internal/platform/websocket"
	"github.com/ehr/triage/migrations"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "triage-server",
		Short: "Emergency triage, queue and routing API server",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(catalogCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the triage API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	logger := zerolog.New(out).With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		logger = logger.Level(lvl)
	}
	return logger
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

func runServer(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)
	for _, w := range cfg.Warnings() {
		logger.Warn().Msg(w)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	var (
		pool          *pgxpool.Pool
		facilityRepo  facility.Repository
		encounterRepo encounter.Repository
	)
	switch cfg.Store {
	case config.StoreMemory:
		facilityRepo = facility.NewMemoryRepo()
		encounterRepo = encounter.NewMemoryRepo()
	default:
		pool, err = openPool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
		facilityRepo = facility.NewRepoPG(pool)
		encounterRepo = encounter.NewRepoPG(pool)
	}

	// Events
	hub := websocket.NewHub(logger)
	publishers := events.Multi{hub}
	if cfg.NATSURL != "" {
		nats, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer nats.Close()
		publishers = append(publishers, nats)
		logger.Info().Str("url", cfg.NATSURL).Msg("publishing events to nats")
	}

	// Domain
	engine := triage.NewEngine(triage.DefaultCatalog(), logger)
	facilitySvc := facility.NewService(facilityRepo)
	encounterSvc, err := encounter.NewService(encounterRepo, facilitySvc, engine, publishers, encounter.Config{
		Queue:             cfg.QueueConfig(),
		Routing:           cfg.RoutingWeights(),
		CacheSize:         cfg.QueueCacheSize,
		CacheTTL:          cfg.QueueCacheTTL,
		RoutingMaxResults: cfg.RoutingMaxResults,
	}, logger)
	if err != nil {
		return fmt.Errorf("build encounter service: %w", err)
	}
	hub.SetSnapshotFunc(encounterSvc.QueueSnapshot)

	e := newServer(cfg, logger, pool, hub)
	api := e.Group("/api/v1", authMiddleware(cfg))
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		MaxClients:        cfg.RateLimitMaxClients,
	}))
	facility.NewHandler(facilitySvc).RegisterRoutes(api)
	encounter.NewHandler(encounterSvc).RegisterRoutes(api)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.Store).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with global middleware and the
// unauthenticated operational routes.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, hub *websocket.Hub) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	ws := e.Group("", authMiddleware(cfg), auth.RequireRole(auth.RoleTriageNurse, auth.RolePhysician, auth.RoleCoordinator))
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(ws)
	return e
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("to")
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				var (
					count int
					err   error
				)
				if target > 0 {
					count, err = m.UpTo(ctx, target)
				} else {
					count, err = m.Up(ctx)
				}
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().Int("to", 0, "Apply migrations up to and including this version")
	cmd.AddCommand(upCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})
	return cmd
}

func withMigrator(ctx context.Context, fn func(context.Context, *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Store != config.StorePostgres {
		return fmt.Errorf("migrations require STORE=%s", config.StorePostgres)
	}
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, migrations.FS))
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a triage tier offline and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := resolveInput(cmd)
			if err != nil {
				return err
			}
			engine := triage.NewEngine(triage.DefaultCatalog(), zerolog.New(cmd.ErrOrStderr()).Level(zerolog.WarnLevel))
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(engine.Resolve(in))
		},
	}
	cmd.Flags().String("presentation", "", "Presentation flowchart id, e.g. chest_pain")
	cmd.Flags().StringSlice("answer", nil, "Discriminator confirmed present (repeatable)")
	cmd.Flags().StringSlice("deny", nil, "Discriminator confirmed absent (repeatable)")
	cmd.Flags().StringArray("vital", nil, "Vital sign as name=value (repeatable)")
	cmd.Flags().Int("age-months", -1, "Patient age in months")
	cmd.Flags().Bool("pregnant", false, "Patient is pregnant")
	cmd.Flags().Int("gestational-weeks", -1, "Gestational age in weeks")
	return cmd
}

func resolveInput(cmd *cobra.Command) (triage.Input, error) {
	flags := cmd.Flags()
	presentation, _ := flags.GetString("presentation")
	yes, _ := flags.GetStringSlice("answer")
	no, _ := flags.GetStringSlice("deny")
	rawVitals, _ := flags.GetStringArray("vital")
	age, _ := flags.GetInt("age-months")
	pregnant, _ := flags.GetBool("pregnant")
	weeks, _ := flags.GetInt("gestational-weeks")

	vitals, err := parseVitals(rawVitals)
	if err != nil {
		return triage.Input{}, err
	}
	in := triage.Input{
		PresentationID: presentation,
		Answers:        make(map[string]bool, len(yes)+len(no)),
		Vitals:         vitals,
		IsPregnant:     pregnant,
	}
	for _, id := range no {
		in.Answers[id] = false
	}
	for _, id := range yes {
		in.Answers[id] = true
	}
	if age >= 0 {
		in.AgeMonths = &age
	}
	if weeks >= 0 {
		in.GestationalWeeks = &weeks
	}
	return in, nil
}

// parseVitals turns name=value pairs into measurements. Numeric values are
// stored as float64, anything else as the raw string.
func parseVitals(pairs []string) (triage.Measurements, error) {
	out := make(triage.Measurements, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			return nil, fmt.Errorf("invalid vital %q: expected name=value", p)
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			out[name] = f
		} else {
			out[name] = value
		}
	}
	return out, nil
}

func catalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List presentations and their discriminators",
		RunE: func(cmd *cobra.Command, args []string) error {
			printCatalog(cmd.OutOrStdout(), triage.DefaultCatalog())
			return nil
		},
	}
}

func printCatalog(w io.Writer, c *triage.Catalog) {
	fmt.Fprintln(w, "GENERAL")
	printDiscriminators(w, c.GeneralDiscriminators())

	for _, id := range c.Presentations() {
		p, _ := c.Flowchart(id)
		fmt.Fprintf(w, "\n%s  %s\n", strings.ToUpper(p.ID), p.Name)
		printDiscriminators(w, p.Discriminators)
	}
}

func printDiscriminators(w io.Writer, ds []triage.Discriminator) {
	for _, d := range ds {
		fmt.Fprintf(w, "  %-8s %-32s %s\n", d.Tier, d.ID, d.Description)
	}
}
