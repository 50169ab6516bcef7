// MeterDB contains the raw data sets read from the meter and their hourly
// snapshots. It should only be written to by meter_collector
// but can be read by any service.
package meterdb

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/NotCoffee418/iec62056_meter/pkg/pathing"
	"github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"
)

var (
	db     *sql.DB
	dbErr  error
	once   sync.Once
	migMux sync.Mutex
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// GetDB opens and migrates the meter database at its default location once.
func GetDB() (*sql.DB, error) {
	once.Do(func() {
		db, dbErr = Open(pathing.GetMeterDbPath())
	})
	return db, dbErr
}

// Open opens the SQLite database at path and applies pending migrations.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// SQLite allows a single writer
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// the migrator keeps its database type globally
	migMux.Lock()
	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(
		conn,
		migrationFS,
		"migrations",
	)
	migMux.Unlock()

	if _, err := conn.Exec("SELECT 1 FROM data_sets LIMIT 1;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	logrus.Debugf("Opened meter database %s", path)
	return conn, nil
}
