package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialector picks the gorm driver for dsn: sqlite for "file:" and ".db"
// DSNs (and ":memory:"), MySQL otherwise.
func Dialector(dsn string) gorm.Dialector {
	if IsSQLite(dsn) {
		return sqlite.Open(dsn)
	}
	return mysql.Open(dsn)
}

func IsSQLite(dsn string) bool {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "file:") || d == ":memory:" {
		return true
	}
	if i := strings.IndexByte(d, '?'); i >= 0 {
		d = d[:i]
	}
	return strings.HasSuffix(d, ".db") || strings.HasSuffix(d, ".sqlite")
}

// Connect opens the ledger database.
func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(Dialector(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if IsSQLite(dsn) {
		// sqlite allows one writer at a time
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return gdb, nil
}
