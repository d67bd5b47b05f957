package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/spf13/cobra"

	"github.com/boris-cremit/nebula/internal/config"
	"github.com/boris-cremit/nebula/internal/httpapi"
	"github.com/boris-cremit/nebula/pkg/app"
	"github.com/boris-cremit/nebula/pkg/authority"
	"github.com/boris-cremit/nebula/pkg/dbscope"
	"github.com/boris-cremit/nebula/pkg/jwks"
	"github.com/boris-cremit/nebula/pkg/log"
	"github.com/boris-cremit/nebula/pkg/metrics"
	"github.com/boris-cremit/nebula/pkg/migrate"
	"github.com/boris-cremit/nebula/pkg/parameter"
	"github.com/boris-cremit/nebula/pkg/path"
	"github.com/boris-cremit/nebula/pkg/policy"
	"github.com/boris-cremit/nebula/pkg/saml"
	"github.com/boris-cremit/nebula/pkg/secret"
	"github.com/boris-cremit/nebula/pkg/token"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "nebula-server",
	Short:   "Nebula workspace secrets and policy authority",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("nebula-server version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/nebula/config.toml", "Path to the TOML configuration file")
	rootCmd.PersistentFlags().Uint16P("port", "p", 0, "Override the configured listen port")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	logger := log.WithComponent("server")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetUint16("port")
		cfg.Port = port
	}

	dsn := migrate.DSN{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		DatabaseName: cfg.Database.DatabaseName,
	}
	if cfg.Database.Auth.Credential != nil {
		dsn.Username = cfg.Database.Auth.Credential.Username
		dsn.Password = cfg.Database.Auth.Credential.Password
	} else if cfg.Database.Auth.RdsIamAuth != nil {
		dsn.Username = cfg.Database.Auth.RdsIamAuth.Username
	}

	if err := migrate.Control(ctx, dsn); err != nil {
		return fmt.Errorf("migrating control schema: %w", err)
	}

	switch cfg.Workspace.Mode {
	case config.WorkspaceModeStatic:
		if err := migrate.Static(ctx, dsn, cfg.Workspace.Name); err != nil {
			return fmt.Errorf("migrating static workspace schema: %w", err)
		}
	case config.WorkspaceModeDynamic:
		listDB, err := sql.Open("pgx", poolDSN(cfg))
		if err != nil {
			return fmt.Errorf("opening workspace enumeration connection: %w", err)
		}
		defer listDB.Close()
		if err := migrate.AllWorkspaces(ctx, dsn, listDB); err != nil {
			return fmt.Errorf("migrating existing workspace schemas: %w", err)
		}
	}

	pool, err := pgxpool.New(ctx, poolDSN(cfg))
	if err != nil {
		return fmt.Errorf("opening database pool: %w", err)
	}
	defer pool.Close()

	scope := dbscope.New(pool)

	refreshInterval := time.Duration(0)
	if cfg.JwksRefreshInterval != nil {
		refreshInterval = time.Duration(*cfg.JwksRefreshInterval) * time.Second
	}
	discovery, err := jwks.NewFromConfig(ctx, cfg.JwksURL, refreshInterval)
	if err != nil {
		return fmt.Errorf("resolving upstream jwks: %w", err)
	}
	metrics.RegisterComponent("jwks", true, "ready")

	signingKeys, err := jwk.ReadFile(cfg.Token.Jwks)
	if err != nil {
		return fmt.Errorf("reading signing jwks %s: %w", cfg.Token.Jwks, err)
	}
	minter, err := token.NewMinter(cfg.BaseURL, time.Duration(cfg.Token.LifetimeSeconds)*time.Second, signingKeys, cfg.Token.JwkKid)
	if err != nil {
		return fmt.Errorf("constructing token minter: %w", err)
	}

	samlConnector, err := saml.New(saml.Config{
		EntityID:  cfg.UpstreamIdP.SAML.EntityID,
		AcsURL:    cfg.RedirectURI(),
		SSOURL:    cfg.UpstreamIdP.SAML.SSOURL,
		IdPIssuer: cfg.UpstreamIdP.SAML.IdpIssuer,
		CAPEM:     cfg.UpstreamIdP.SAML.CA,
		Attributes: saml.AttributeMapping{
			Gid:           cfg.UpstreamIdP.SAML.Attributes["gid"],
			WorkspaceName: cfg.UpstreamIdP.SAML.Attributes["workspace_name"],
		},
		AdminRole: saml.AdminRolePredicate{
			Attribute: cfg.UpstreamIdP.SAML.AdminRole.Attribute,
			Value:     cfg.UpstreamIdP.SAML.AdminRole.Value,
		},
	})
	if err != nil {
		return fmt.Errorf("constructing saml connector: %w", err)
	}
	metrics.RegisterComponent("saml", true, "ready")

	application := app.New(cfg, scope, discovery, minter, samlConnector, app.Services{
		Workspace:       authority.PostgresWorkspaceService{},
		MachineIdentity: authority.PostgresMachineIdentityService{},
		Path:            path.PostgresService{},
		Policy:          policy.PostgresService{},
		Secret:          secret.PostgresService{},
		Parameter:       parameter.PostgresService{},
	})

	if cfg.Workspace.Mode == config.WorkspaceModeStatic {
		if err := application.InitStaticWorkspace(ctx); err != nil {
			return fmt.Errorf("initializing static workspace: %w", err)
		}
	}
	metrics.RegisterComponent("database", true, "ready")

	collector := metrics.NewCollector(metrics.NewPostgresWorkspaceCounter(pool))
	collector.Start()
	defer collector.Stop()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: httpapi.NewRouter(application),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", int(cfg.Port)).Msg("nebula-server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

// poolDSN builds the connection string pgxpool parses, distinct from
// migrate.DSN's URL form since pgxpool accepts its own config string.
func poolDSN(cfg *config.Config) string {
	user := ""
	if cfg.Database.Auth.Credential != nil {
		user = fmt.Sprintf("%s:%s@", cfg.Database.Auth.Credential.Username, cfg.Database.Auth.Credential.Password)
	} else if cfg.Database.Auth.RdsIamAuth != nil {
		user = fmt.Sprintf("%s@", cfg.Database.Auth.RdsIamAuth.Username)
	}
	return fmt.Sprintf("postgres://%s%s:%d/%s?sslmode=disable", user, cfg.Database.Host, cfg.Database.Port, cfg.Database.DatabaseName)
}
