package journal

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"time"

	"AgentFlow-Chain/deploy/migrations"
	xerrors "AgentFlow-Chain/internal/errors"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLConfig describes the journal database connection.
type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// MySQLStore persists payment records in MySQL so a restarted process can
// pick up unverified or partially settled payments.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens the connection pool and ensures the table exists.
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	if cfg.DSN == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "journal dsn is empty")
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "open journal database")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeConnection, err, "ping journal database")
	}
	statements, err := migrations.Statements()
	if err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "load journal migrations")
	}
	for _, statement := range statements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			db.Close()
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "apply journal migration")
		}
	}
	return &MySQLStore{db: db}, nil
}

// Save implements Store as an upsert keyed by intent id.
func (s *MySQLStore) Save(ctx context.Context, record Record) error {
	if record.IntentID == "" {
		return xerrors.New(xerrors.CodeConfiguration, "journal record requires an intent id")
	}
	now := time.Now().Unix()
	if record.CreatedAt == 0 {
		record.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO payment_journal
    (intent_id, currency, recipient, amount, fee_amount, tx_hash, tx_hash_fee, chain_id, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    fee_amount = VALUES(fee_amount),
    tx_hash = VALUES(tx_hash),
    tx_hash_fee = VALUES(tx_hash_fee),
    status = VALUES(status),
    updated_at = VALUES(updated_at)`,
		record.IntentID, record.Currency, record.Recipient, record.Amount, record.FeeAmount,
		record.TxHash, record.TxHashFee, record.ChainID, record.Status, record.CreatedAt, now,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConnection, err, "save journal record")
	}
	return nil
}

// Get implements Store.
func (s *MySQLStore) Get(ctx context.Context, intentID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT intent_id, currency, recipient, amount, fee_amount, tx_hash, tx_hash_fee, chain_id, status, created_at, updated_at
FROM payment_journal WHERE intent_id = ?`, intentID)
	var record Record
	err := row.Scan(&record.IntentID, &record.Currency, &record.Recipient, &record.Amount,
		&record.FeeAmount, &record.TxHash, &record.TxHashFee, &record.ChainID,
		&record.Status, &record.CreatedAt, &record.UpdatedAt)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConnection, err, "load journal record")
	}
	return &record, nil
}

// ListLatest implements Store, newest first.
func (s *MySQLStore) ListLatest(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT intent_id, currency, recipient, amount, fee_amount, tx_hash, tx_hash_fee, chain_id, status, created_at, updated_at
FROM payment_journal ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConnection, err, "list journal records")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var record Record
		if err := rows.Scan(&record.IntentID, &record.Currency, &record.Recipient, &record.Amount,
			&record.FeeAmount, &record.TxHash, &record.TxHashFee, &record.ChainID,
			&record.Status, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConnection, err, "scan journal record")
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConnection, err, "iterate journal records")
	}
	return out, nil
}

// Close implements Store.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
