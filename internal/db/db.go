package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"sort"
	"strconv"

	"github.com/xtrntr/marketplace/internal/book"
	"github.com/xtrntr/marketplace/internal/config"
	"github.com/xtrntr/marketplace/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Connect opens a pool from the database section of the config
func Connect(ctx context.Context, cfg config.DBConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// BuildConnString renders cfg as a postgres:// URL
func BuildConnString(cfg config.DBConfig) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:   "/" + cfg.Name,
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return u.String()
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// Migrate applies the embedded schema files in name order. Every statement
// is idempotent so running it twice is harmless.
func (db *DB) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		ddl, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		if _, err := db.Pool.Exec(ctx, string(ddl)); err != nil {
			return fmt.Errorf("failed to apply %s: %w", name, err)
		}
	}
	return nil
}

// CreateParticipant inserts a new participant
func (db *DB) CreateParticipant(ctx context.Context, name, passwordHash string) (*models.Participant, error) {
	p := &models.Participant{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO participants (name, password_hash) VALUES ($1, $2) RETURNING id, name, password_hash, created_at",
		name, passwordHash).Scan(&p.ID, &p.Name, &p.PasswordHash, &p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, models.ErrNameTaken
		}
		return nil, fmt.Errorf("failed to create participant: %w", err)
	}
	return p, nil
}

// GetParticipantByName retrieves a participant by name
func (db *DB) GetParticipantByName(ctx context.Context, name string) (*models.Participant, error) {
	p := &models.Participant{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, name, password_hash, created_at FROM participants WHERE name = $1",
		name).Scan(&p.ID, &p.Name, &p.PasswordHash, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

// Status reports whether the interval has a clearing result
func (db *DB) Status(ctx context.Context, intervalID int64) (models.IntervalStatus, error) {
	var cleared bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM clearing_results WHERE interval_id = $1)",
		intervalID).Scan(&cleared)
	if err != nil {
		return "", fmt.Errorf("failed to read interval status: %w", err)
	}
	if cleared {
		return models.StatusCleared, nil
	}
	return models.StatusOpen, nil
}

// Book loads every order of the interval in submission order, plus the
// result and its fills once cleared.
func (db *DB) Book(ctx context.Context, intervalID int64) (*book.Book, error) {
	b := book.New(intervalID)

	rows, err := db.Pool.Query(ctx, `
		SELECT id, seq, kind, sender, amount, price, submitted_at
		FROM orders
		WHERE interval_id = $1
		ORDER BY seq ASC
	`, intervalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get interval orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			o             models.Order
			kind          string
			amount, price int64
		)
		if err := rows.Scan(&o.ID, &o.Seq, &kind, &o.Sender, &amount, &price, &o.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		k, ok := models.ParseKind(kind)
		if !ok {
			return nil, fmt.Errorf("order %s has unknown kind %q", o.ID, kind)
		}
		o.IntervalID = intervalID
		o.Kind = k
		o.Amount = uint64(amount)
		o.Price = uint64(price)
		b.Append(o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result, err := db.result(ctx, intervalID)
	if err != nil {
		return nil, err
	}
	b.Result = result
	return b, nil
}

func (db *DB) result(ctx context.Context, intervalID int64) (*models.ClearingResult, error) {
	var price, qty int64
	r := &models.ClearingResult{IntervalID: intervalID, Fills: []models.Fill{}}
	err := db.Pool.QueryRow(ctx,
		"SELECT clearing_price, cleared_quantity, cleared_by, cleared_at FROM clearing_results WHERE interval_id = $1",
		intervalID).Scan(&price, &qty, &r.ClearedBy, &r.ClearedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clearing result: %w", err)
	}
	r.ClearingPrice = uint64(price)
	r.ClearedQuantity = uint64(qty)

	rows, err := db.Pool.Query(ctx, `
		SELECT bid_id, ask_id, buyer, seller, quantity
		FROM fills
		WHERE interval_id = $1
		ORDER BY idx ASC
	`, intervalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get fills: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			f models.Fill
			q int64
		)
		if err := rows.Scan(&f.BidID, &f.AskID, &f.Buyer, &f.Seller, &q); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		f.Quantity = uint64(q)
		r.Fills = append(r.Fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

// Commit writes one staged mutation in a single transaction. Writers on the
// same interval queue on an advisory lock keyed by the interval id.
func (db *DB) Commit(ctx context.Context, m book.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", m.IntervalID); err != nil {
		return fmt.Errorf("failed to lock interval %d: %w", m.IntervalID, err)
	}

	var sealed bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM clearing_results WHERE interval_id = $1)",
		m.IntervalID).Scan(&sealed)
	if err != nil {
		return fmt.Errorf("failed to read interval status: %w", err)
	}
	if sealed {
		return book.ErrSealed
	}

	if m.Order != nil {
		err = insertOrder(ctx, tx, m.Order)
	} else {
		err = insertResult(ctx, tx, m.Result)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertOrder(ctx context.Context, tx pgx.Tx, o *models.Order) error {
	_, err := tx.Exec(ctx,
		"INSERT INTO orders (id, interval_id, seq, kind, sender, amount, price, submitted_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		o.ID, o.IntervalID, o.Seq, o.Kind.String(), o.Sender, int64(o.Amount), int64(o.Price), o.SubmittedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func insertResult(ctx context.Context, tx pgx.Tx, r *models.ClearingResult) error {
	_, err := tx.Exec(ctx,
		"INSERT INTO clearing_results (interval_id, clearing_price, cleared_quantity, cleared_by, cleared_at) VALUES ($1, $2, $3, $4, $5)",
		r.IntervalID, int64(r.ClearingPrice), int64(r.ClearedQuantity), r.ClearedBy, r.ClearedAt)
	if err != nil {
		return fmt.Errorf("failed to create clearing result: %w", err)
	}
	if len(r.Fills) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, f := range r.Fills {
		batch.Queue(
			"INSERT INTO fills (interval_id, idx, bid_id, ask_id, buyer, seller, quantity) VALUES ($1, $2, $3, $4, $5, $6, $7)",
			r.IntervalID, i, f.BidID, f.AskID, f.Buyer, f.Seller, int64(f.Quantity))
	}
	br := tx.SendBatch(ctx, batch)
	for range r.Fills {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to create fill: %w", err)
		}
	}
	return br.Close()
}
