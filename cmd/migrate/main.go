package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/adtrail-backend/pkg/config"
	"github.com/angelmondragon/adtrail-backend/pkg/db"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
	"github.com/angelmondragon/adtrail-backend/pkg/migrate"
)

const serviceName = "migrate"

type options struct {
	dir     string
	name    string
	version string
}

// dbCommands need a live connection; offlineCommands only touch files.
var dbCommands = map[string]func(ctx context.Context, m *migrate.Migrator, logg *logger.Logger, opts options) error{
	"up": func(ctx context.Context, m *migrate.Migrator, _ *logger.Logger, _ options) error {
		return m.Up(ctx)
	},
	"down": func(ctx context.Context, m *migrate.Migrator, _ *logger.Logger, _ options) error {
		return m.Down(ctx)
	},
	"version": func(ctx context.Context, m *migrate.Migrator, _ *logger.Logger, opts options) error {
		if opts.version == "" {
			return errors.New("missing -version")
		}
		return m.To(ctx, opts.version)
	},
	"status": func(ctx context.Context, m *migrate.Migrator, logg *logger.Logger, _ options) error {
		statuses, err := m.Status(ctx)
		if err != nil {
			return err
		}
		for _, st := range statuses {
			fields := map[string]any{"version": st.Version, "path": st.Path, "applied": st.Applied}
			if st.Applied {
				fields["applied_at"] = st.AppliedAt.UTC().Format(time.RFC3339)
			}
			logg.Info(logg.WithFields(ctx, fields), "migration status")
		}
		return nil
	},
}

var offlineCommands = map[string]func(opts options) (string, error){
	"create": func(opts options) (string, error) {
		if opts.name == "" {
			return "", errors.New("missing -name")
		}
		path, err := migrate.Create(diskDir(opts), opts.name, time.Now())
		if err != nil {
			return "", err
		}
		return "created migration " + path, nil
	},
	"validate": func(opts options) (string, error) {
		source, err := migrate.Source(diskDir(opts))
		if err != nil {
			return "", err
		}
		if err := migrate.Validate(source); err != nil {
			return "", err
		}
		return "migrations valid", nil
	},
}

// diskDir is the checkout directory used when -dir is not given for file-only commands.
func diskDir(opts options) string {
	if opts.dir == "" {
		return migrate.DefaultDir
	}
	return opts.dir
}

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "up|down|status|version|create|validate")
	var opts options
	flag.StringVar(&opts.dir, "dir", "", "migrations directory; database commands default to the embedded set, file commands to "+migrate.DefaultDir)
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	if run, ok := offlineCommands[*cmd]; ok {
		msg, err := run(opts)
		exitOnErr(context.Background(), logg, *cmd, err)
		logg.Info(logg.WithField(context.Background(), "dir", diskDir(opts)), msg)
		return
	}
	run, ok := dbCommands[*cmd]
	if !ok {
		exitOnErr(context.Background(), logg, *cmd, fmt.Errorf("unknown -cmd value %q", *cmd))
	}

	cfg, err := config.Load()
	exitOnErr(context.Background(), logg, "config", err)
	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	source := opts.dir
	if source == "" {
		source = "embedded"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":    cfg.App.Env,
		"cmd":    *cmd,
		"source": source,
	})

	os.Exit(execute(ctx, logg, cfg, opts, run))
}

// execute owns the connection so it is closed before main exits.
func execute(ctx context.Context, logg *logger.Logger, cfg *config.Config, opts options, run func(context.Context, *migrate.Migrator, *logger.Logger, options) error) int {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "migrate database failed", err)
		return 1
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		logg.Error(ctx, "migrate sql database failed", err)
		return 1
	}
	fsys, err := migrate.Source(opts.dir)
	if err != nil {
		logg.Error(ctx, "migrate source failed", err)
		return 1
	}
	migrator, err := migrate.New(sqlDB, fsys, logg)
	if err != nil {
		logg.Error(ctx, "migrate setup failed", err)
		return 1
	}

	if err := run(ctx, migrator, logg, opts); err != nil {
		logg.Error(ctx, "migrate command failed", err)
		return 1
	}
	logg.Info(ctx, "migrations finished")
	return 0
}

func exitOnErr(ctx context.Context, logg *logger.Logger, step string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("migrate %s failed", step), err)
	os.Exit(1)
}
