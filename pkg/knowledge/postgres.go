package knowledge

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/harunnryd/callbridge/pkg/dialogue"
)

//go:embed migrations/*.sql
var migrations embed.FS

const defaultLimit = 3

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate knowledge schema: %w", err)
	}
	return nil
}

// Snippet is one row of the knowledge table. An empty Phase applies to every phase.
type Snippet struct {
	Title   string
	Content string
	Phase   string
}

// PostgresRetriever runs full-text search over knowledge_snippets.
type PostgresRetriever struct {
	pool  *pgxpool.Pool
	limit int
}

func NewPostgresRetriever(pool *pgxpool.Pool, limit int) *PostgresRetriever {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &PostgresRetriever{pool: pool, limit: limit}
}

const searchQuery = `
	SELECT content
	FROM knowledge_snippets
	WHERE (phase = $2 OR phase = '')
	  AND search @@ plainto_tsquery('english', $1)
	ORDER BY ts_rank(search, plainto_tsquery('english', $1)) DESC, id
	LIMIT $3
`

func (r *PostgresRetriever) Retrieve(ctx context.Context, query string, phase dialogue.Phase) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil
	}
	rows, err := r.pool.Query(ctx, searchQuery, query, phase.String(), r.limit)
	if err != nil {
		return "", fmt.Errorf("search knowledge: %w", err)
	}
	parts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", fmt.Errorf("scan knowledge: %w", err)
	}
	return strings.Join(parts, "\n\n"), nil
}

// Add inserts a snippet. Used by the seeding script.
func (r *PostgresRetriever) Add(ctx context.Context, s Snippet) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO knowledge_snippets (title, content, phase) VALUES ($1, $2, $3)`,
		s.Title, s.Content, s.Phase)
	return err
}
