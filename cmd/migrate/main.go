package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lutefd/telemetry-api/internal/config"
	"github.com/lutefd/telemetry-api/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	v := config.New()
	var dir string

	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply the rollup archive migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if !cfg.Archive.Enabled() {
				return errors.New("archive.dsn is required (METRICS_ARCHIVE_DSN or --dsn)")
			}
			log, err := logger.New(cfg.Log.Level)
			if err != nil {
				return err
			}
			defer logger.Flush(log)
			return migrate(cmd.Context(), log, cfg.Archive.DSN, dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "migrations", "directory holding *.up.sql files")
	cmd.Flags().String("dsn", "", "postgres DSN")
	_ = v.BindPFlag("archive.dsn", cmd.Flags().Lookup("dsn"))
	return cmd
}

func migrate(ctx context.Context, log *zap.Logger, dsn, dir string) error {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer pool.Close()

	files, err := listUpMigrations(dir)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		log.Info("applied migration", zap.String("file", file))
	}
	return nil
}

func listUpMigrations(root string) ([]string, error) {
	files := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".up.sql") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
