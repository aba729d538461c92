package commands

import (
	"database/sql"

	"github.com/teranos/tren/am"
	"github.com/teranos/tren/db"
	"github.com/teranos/tren/errors"
	"github.com/teranos/tren/logger"
)

// loadConfig loads and validates the configuration cascade
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithHint(errors.Wrap(err, "invalid configuration"), "run `tren am check` to locate the problem")
	}
	return cfg, nil
}

// openDatabase opens and migrates the database. An empty dbPath uses the
// configured path.
func openDatabase(cfg *am.Config, dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		dbPath = cfg.GetDatabasePath()
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}
