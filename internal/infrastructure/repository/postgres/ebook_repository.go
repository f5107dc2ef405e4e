package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/ebook-library/internal/core/domain"
)

const schemaLockKey int64 = 2026101601

type EbookRepository struct {
	db *sql.DB
}

func NewEbookRepository(db *sql.DB) *EbookRepository {
	return &EbookRepository{db: db}
}

func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *EbookRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// api and worker may start together.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS ebooks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	author TEXT NOT NULL,
	genre TEXT NOT NULL DEFAULT 'Unknown',
	language TEXT NOT NULL DEFAULT 'Unknown',
	file_path TEXT NOT NULL,
	file_format TEXT NOT NULL,
	extraction_status TEXT NOT NULL DEFAULT 'none',
	extracted_text_path TEXT NOT NULL DEFAULT '',
	extraction_error TEXT NOT NULL DEFAULT '',
	added_at TIMESTAMPTZ NOT NULL,
	last_processed TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ebooks_author ON ebooks(author);
CREATE INDEX IF NOT EXISTS idx_ebooks_added_at ON ebooks(added_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *EbookRepository) Create(ctx context.Context, book *domain.Ebook) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO ebooks (
	id, title, author, genre, language, file_path, file_format, extraction_status,
	extracted_text_path, extraction_error, added_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`,
		book.ID, book.Title, book.Author, book.Genre, book.Language, book.FilePath,
		string(book.FileFormat), string(book.ExtractionStatus), book.ExtractedTextPath,
		book.ExtractionError, book.AddedAt, book.CreatedAt, book.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ebook: %w", err)
	}
	return nil
}

const selectColumns = `
SELECT id, title, author, genre, language, file_path, file_format, extraction_status,
	extracted_text_path, extraction_error, added_at, last_processed, created_at, updated_at
FROM ebooks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEbook(row rowScanner) (*domain.Ebook, error) {
	var (
		book          domain.Ebook
		format        string
		status        string
		lastProcessed sql.NullTime
	)
	if err := row.Scan(
		&book.ID, &book.Title, &book.Author, &book.Genre, &book.Language, &book.FilePath,
		&format, &status, &book.ExtractedTextPath, &book.ExtractionError,
		&book.AddedAt, &lastProcessed, &book.CreatedAt, &book.UpdatedAt,
	); err != nil {
		return nil, err
	}
	book.FileFormat = domain.FileFormat(format)
	book.ExtractionStatus = domain.ExtractionStatus(status)
	if lastProcessed.Valid {
		at := lastProcessed.Time
		book.LastProcessed = &at
	}
	return &book, nil
}

func (r *EbookRepository) GetByID(ctx context.Context, id string) (*domain.Ebook, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id)
	book, err := scanEbook(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get ebook", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan ebook: %w", err)
	}
	return book, nil
}

func (r *EbookRepository) List(ctx context.Context, limit int) ([]domain.Ebook, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY added_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query ebooks: %w", err)
	}
	defer rows.Close()

	books := make([]domain.Ebook, 0, limit)
	for rows.Next() {
		book, err := scanEbook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ebook: %w", err)
		}
		books = append(books, *book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ebooks: %w", err)
	}
	return books, nil
}

func (r *EbookRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ebooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete ebook: %w", err)
	}
	return ensureAffected(res, "delete ebook", id)
}

// UpdateExtraction stores the outcome of an extraction attempt. Only a ready
// update touches extracted_text_path and last_processed.
func (r *EbookRepository) UpdateExtraction(ctx context.Context, id string, update domain.ExtractionUpdate) error {
	var (
		res sql.Result
		err error
	)
	if update.Status == domain.ExtractionReady {
		res, err = r.db.ExecContext(ctx, `
UPDATE ebooks
SET extraction_status = $2, extraction_error = $3, extracted_text_path = $4, last_processed = $5, updated_at = $5
WHERE id = $1
`, id, string(update.Status), update.Error, update.TextPath, update.At)
	} else {
		res, err = r.db.ExecContext(ctx, `
UPDATE ebooks
SET extraction_status = $2, extraction_error = $3, updated_at = $4
WHERE id = $1
`, id, string(update.Status), update.Error, update.At)
	}
	if err != nil {
		return fmt.Errorf("update extraction status: %w", err)
	}
	return ensureAffected(res, "update extraction status", id)
}

func ensureAffected(res sql.Result, op, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("id=%s", id))
	}
	return nil
}
