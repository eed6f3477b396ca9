package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/safar/order-lifecycle/internal/config"
	"github.com/safar/order-lifecycle/internal/database"
	"github.com/safar/order-lifecycle/internal/logging"
)

const migrationDir = "migrations"

func main() {
	if len(os.Args) < 2 || (os.Args[1] != "up" && os.Args[1] != "down") {
		fmt.Fprintln(os.Stderr, "Usage: go run ./scripts [up|down]")
		os.Exit(2)
	}
	direction := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	files, err := migrationFiles(migrationDir, direction)
	if err != nil {
		logger.Fatal("read migrations", zap.Error(err))
	}

	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(migrationDir, name))
		if err != nil {
			logger.Fatal("read migration file", zap.String("file", name), zap.Error(err))
		}

		logger.Info("running migration", zap.String("file", name))
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			logger.Fatal("execute migration", zap.String("file", name), zap.Error(err))
		}
	}

	logger.Info("migrations complete", zap.Int("count", len(files)), zap.String("direction", direction))
}

// migrationFiles lists the files for direction in the order they must run:
// ascending for up, descending for down.
func migrationFiles(dir, direction string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), "."+direction+".sql") {
			files = append(files, e.Name())
		}
	}
	slices.Sort(files)
	if direction == "down" {
		slices.Reverse(files)
	}
	return files, nil
}
