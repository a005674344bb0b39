package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// PostgresStorage keeps each table as one JSONB row in state_tables.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(ctx context.Context, config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}

	if err := storage.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("Connected to PostgreSQL",
		zap.String("host", config.Host),
		zap.String("database", config.DBName))

	return storage, nil
}

func (s *PostgresStorage) initializeSchema(ctx context.Context) error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Load(ctx context.Context, table string, dst any) error {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM state_tables WHERE name = $1`, table,
	).Scan(&payload)

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("error loading table %s: %w", table, err)
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("error decoding table %s: %w", table, err)
	}
	return nil
}

// Save upserts the table in a single statement, so readers see either the
// previous or the new document.
func (s *PostgresStorage) Save(ctx context.Context, table string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error encoding table %s: %w", table, err)
	}

	query := `
		INSERT INTO state_tables (name, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`

	if _, err := s.db.ExecContext(ctx, query, table, payload); err != nil {
		return fmt.Errorf("error saving table %s: %w", table, err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
