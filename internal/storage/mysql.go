package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/maneesh/cloudchest/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MySQLStore implements MetadataStore on MySQL (or TiDB) with tracing.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore initializes a new MySQL-backed metadata store
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &MySQLStore{db: db}, nil
}

// Close closes the database connection
func (ms *MySQLStore) Close() error {
	return ms.db.Close()
}

// EnsureSchema creates the files table if it does not exist. It runs
// unconditionally on every cold start; there is no cached "already
// initialized" flag to go stale across redeploys.
func (ms *MySQLStore) EnsureSchema(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "mysql.ensure_schema")
	defer span.End()

	query := `CREATE TABLE IF NOT EXISTS files (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(1024) NOT NULL,
		size BIGINT NOT NULL,
		type VARCHAR(255) NOT NULL,
		upload_date DATETIME NOT NULL,
		download_url TEXT NOT NULL
	)`

	_, err := ms.db.ExecContext(ctx, query)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	span.SetAttributes(attribute.Bool("schema_ready", true))
	return nil
}

// CreateFileRecord inserts the durable row for an assembled file with tracing
func (ms *MySQLStore) CreateFileRecord(ctx context.Context, record *models.FileRecord) error {
	ctx, span := tracer.Start(ctx, "mysql.create_file_record",
		trace.WithAttributes(
			attribute.String("file_id", record.FileID),
			attribute.String("file_name", record.Name),
			attribute.Int64("file_size", record.Size),
		),
	)
	defer span.End()

	query := `INSERT INTO files (id, name, size, type, upload_date, download_url)
			  VALUES (?, ?, ?, ?, ?, ?)`

	_, err := ms.db.ExecContext(ctx, query, record.FileID, record.Name, record.Size, record.Type, record.UploadDate, record.DownloadURL)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert file record: %w", err)
	}

	span.SetAttributes(attribute.Bool("insert_success", true))
	return nil
}

// GetFileRecord retrieves file metadata by ID with tracing
func (ms *MySQLStore) GetFileRecord(ctx context.Context, fileID string) (*models.FileRecord, error) {
	ctx, span := tracer.Start(ctx, "mysql.get_file_record",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
		),
	)
	defer span.End()

	query := `SELECT id, name, size, type, upload_date, download_url FROM files WHERE id = ?`

	var record models.FileRecord
	err := ms.db.QueryRowContext(ctx, query, fileID).Scan(
		&record.FileID,
		&record.Name,
		&record.Size,
		&record.Type,
		&record.UploadDate,
		&record.DownloadURL,
	)

	if err == sql.ErrNoRows {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("file not found: %s", fileID)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query file record: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return &record, nil
}
