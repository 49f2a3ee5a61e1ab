package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flashbots/secagg/protocol"
	_ "github.com/lib/pq"
)

// PostgresStore implements PackageStore with PostgreSQL persistence.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore connects using config.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	return OpenPostgresStore(config.ConnectionString())
}

// OpenPostgresStore connects using a lib/pq DSN and runs migrations.
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS encrypted_packages (
		round BIGINT NOT NULL,
		client_id VARCHAR(128) NOT NULL,
		package BYTEA NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (round, client_id)
	);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) List(ctx context.Context, round uint64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT client_id FROM encrypted_packages WHERE round = $1 ORDER BY client_id COLLATE "C"`,
		int64(round))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Read(ctx context.Context, round uint64, id string) (*protocol.EncryptedPackage, error) {
	data, err := s.read(ctx, round, id)
	if err != nil {
		return nil, err
	}
	return decodeStored(round, id, data)
}

func (s *PostgresStore) read(ctx context.Context, round uint64, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT package FROM encrypted_packages WHERE round = $1 AND client_id = $2`,
		int64(round), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *PostgresStore) Write(ctx context.Context, round uint64, id string, pkg *protocol.EncryptedPackage) error {
	data, err := encodeForWrite(id, pkg)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
	INSERT INTO encrypted_packages (round, client_id, package)
	VALUES ($1, $2, $3)
	ON CONFLICT (round, client_id) DO NOTHING
	`, int64(round), id, data)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	existing, err := s.read(ctx, round, id)
	if err != nil {
		return err
	}
	return checkExisting(existing, data)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
