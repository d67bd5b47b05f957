package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"

	"github.com/boris-cremit/nebula/internal/config"
	"github.com/boris-cremit/nebula/pkg/migrate"
)

var (
	configPath = flag.String("config", "/etc/nebula/config.toml", "Path to the TOML configuration file")
	dryRun     = flag.Bool("dry-run", false, "Print the migrations that would run without applying them")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Nebula Schema Migration Tool")
	log.Println("============================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
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

	log.Printf("Target: %s:%d/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.DatabaseName)
	log.Printf("Workspace mode: %s", cfg.Workspace.Mode)
	log.Printf("Dry run: %v", *dryRun)

	ctx := context.Background()

	if *dryRun {
		log.Println("would migrate control schema")
		if cfg.Workspace.Mode == config.WorkspaceModeStatic {
			log.Printf("would migrate static workspace schema %q", cfg.Workspace.Name)
		} else {
			log.Println("would migrate every workspace schema recorded in control.workspace")
		}
		return
	}

	if err := migrate.Control(ctx, dsn); err != nil {
		log.Fatalf("migrating control schema: %v", err)
	}
	log.Println("control schema migrated")

	switch cfg.Workspace.Mode {
	case config.WorkspaceModeStatic:
		if err := migrate.Static(ctx, dsn, cfg.Workspace.Name); err != nil {
			log.Fatalf("migrating workspace %q: %v", cfg.Workspace.Name, err)
		}
		log.Printf("workspace %q migrated", cfg.Workspace.Name)
	case config.WorkspaceModeDynamic:
		db, err := sql.Open("pgx", dynamicListDSN(cfg))
		if err != nil {
			log.Fatalf("opening workspace enumeration connection: %v", err)
		}
		defer db.Close()
		if err := migrate.AllWorkspaces(ctx, dsn, db); err != nil {
			log.Fatalf("migrating workspaces: %v", err)
		}
		log.Println("all recorded workspaces migrated")
	}

	log.Println("migration complete")
}

func dynamicListDSN(cfg *config.Config) string {
	user := ""
	if cfg.Database.Auth.Credential != nil {
		user = fmt.Sprintf("%s:%s@", cfg.Database.Auth.Credential.Username, cfg.Database.Auth.Credential.Password)
	} else if cfg.Database.Auth.RdsIamAuth != nil {
		user = fmt.Sprintf("%s@", cfg.Database.Auth.RdsIamAuth.Username)
	}
	return fmt.Sprintf("postgres://%s%s:%d/%s?sslmode=disable", user, cfg.Database.Host, cfg.Database.Port, cfg.Database.DatabaseName)
}
