package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/condenser-ai/condenser/internal/artifact"
	"github.com/condenser-ai/condenser/internal/cache"
	"github.com/condenser-ai/condenser/internal/db"
	"github.com/condenser-ai/condenser/internal/ledger"
	"github.com/condenser-ai/condenser/internal/pipeline"
	"github.com/condenser-ai/condenser/internal/queue"
)

// cliEnv bundles the pipeline service with its database handle so
// commands can close it when done.
type cliEnv struct {
	svc     *pipeline.Service
	dbStore *db.Store
}

func (e *cliEnv) Close() error {
	return e.dbStore.Close()
}

// getEnv opens the database and wires the pipeline service. The CLI
// talks to the same database as the daemon; it does not need the daemon
// running for submissions, only for jobs to make progress.
func getEnv() (*cliEnv, error) {
	path := dbPath
	if path == "" {
		var err error
		path, err = db.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}

	// Quiet logger: CLI output goes through the format switch, not
	// the log.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dbStore, err := db.NewSqliteStore(&db.SqliteConfig{
		DatabaseFileName: path,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	artifacts := artifact.NewStore(dbStore)
	svc := pipeline.NewService(
		pipeline.Config{},
		queue.NewStore(dbStore),
		cache.NewStore(dbStore, artifacts),
		ledger.NewStore(dbStore),
		artifacts,
		logger,
	)

	return &cliEnv{svc: svc, dbStore: dbStore}, nil
}

// requireUser enforces the --user flag for user-scoped commands.
func requireUser() error {
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}

func outputJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// readInput returns the submission text: the argument if given,
// otherwise stdin.
func readInput(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}
