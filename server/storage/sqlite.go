package storage

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	_ "github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// DriverPure is the cgo-free sqlite driver and the default.
	DriverPure = "sqlite"
	// DriverCgo selects the mattn/go-sqlite3 driver.
	DriverCgo = "sqlite3"
)

type Database interface {
	Storage
	KeyStore
	Open() error
	Close()
}

// sqliteDatabase holds entities and actor keys in a sqlite database
type sqliteDatabase struct {
	connection string
	driver     string
	db         *gorm.DB
	sqldb      *sql.DB
}

func (s *sqliteDatabase) Open() error {
	if s.db != nil {
		s.Close()
	}
	newLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             time.Second,  // Slow SQL threshold
			LogLevel:                  logger.Error, // Log level
			IgnoreRecordNotFoundError: true,         // Ignore ErrRecordNotFound error for logger
			Colorful:                  false,        // Disable color
		},
	)
	driver := s.driver
	if driver == "" {
		driver = DriverPure
	}
	if driver != DriverPure && driver != DriverCgo {
		return fmt.Errorf("unsupported database driver %q", driver)
	}
	dialector := &sqlite.Dialector{DriverName: driver, DSN: s.connection}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return err
	}
	s.sqldb, err = db.DB()
	if err != nil {
		return err
	}
	// sqlite allows a single writer
	s.sqldb.SetMaxOpenConns(1)
	s.db = db
	// create tables
	if err := s.db.Migrator().AutoMigrate(&entity{}, &actorKey{}); err != nil {
		s.Close()
		return fmt.Errorf("migrating %s: %w", s.connection, err)
	}
	return nil
}

func (s *sqliteDatabase) Close() {
	if s.db != nil {
		s.sqldb.Close()
		s.sqldb = nil
		s.db = nil
	}
}

func (s *sqliteDatabase) opened() error {
	if s.db == nil {
		return fmt.Errorf("database %s has not been opened", s.connection)
	}
	return nil
}

// NewDatabase returns an unopened database. Driver is DriverPure or DriverCgo;
// empty means DriverPure.
func NewDatabase(connection string, driver string) Database {
	return &sqliteDatabase{
		connection: connection,
		driver:     driver,
	}
}

// MemoryConnection returns a connection string for a named in-memory database
// shared by every connection in the process.
func MemoryConnection(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}
