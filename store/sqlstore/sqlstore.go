/*
Package sqlstore provides a SQL-backed implementation of ledger.TxStore.

PURPOSE:
  Persists users, investments and transactions in SQLite or PostgreSQL.
  The same queries serve both: they are written with ? placeholders and
  rebound per driver by sqlx.

DRIVERS:
  sqlite3:  github.com/mattn/go-sqlite3, opened with WAL and foreign keys,
            one open connection (SQLite allows a single writer anyway)
  postgres: github.com/lib/pq

CONDITIONAL WRITES:
  users/investments:  UPDATE ... WHERE id = ? AND version = ?
                      0 rows → ErrConcurrencyConflict (or NotFound)
  transactions:       UPDATE ... WHERE id = ? AND status = 'pending'
                      0 rows → AlreadyProcessedError (or NotFound)

  Nothing else updates these tables; there are no DELETE statements.

COLUMN ENCODING:
  Money:      TEXT in SQLite, NUMERIC in Postgres; scanned through
              decimal.Decimal's sql.Scanner
  Timestamps: unix nanoseconds; NULL for "not set" (zero time.Time)

MIGRATION:
  Versioned schema under migrations/<driver>, embedded in the binary and
  applied by golang-migrate on New().

USAGE:
  st, err := sqlstore.NewSQLite("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  svc := ledger.NewService(ledger.Config{Store: st})

SEE ALSO:
  - ledger/store.go: the contract
  - ledger/store/memory.go: in-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/stake-ledger/ledger"
)

//go:embed migrations
var migrations embed.FS

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store implements ledger.TxStore.
type Store struct {
	conn
	db     *sqlx.DB
	driver string
	dsn    string
}

// conn runs the record queries against either the pool or an open tx.
type conn struct {
	q sqlx.ExtContext
}

// New opens the database and applies migrations.
func New(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{conn: conn{q: db}, db: db, driver: driver, dsn: dsn}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// sqliteDSN turns on foreign keys and WAL, keeping any query the caller set.
func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_journal_mode=WAL"
}

// NewSQLite opens a SQLite database at path. Use ":memory:" for tests.
func NewSQLite(path string) (*Store, error) {
	return New(DriverSQLite, path)
}

// NewWithDB wraps an already migrated database.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{conn: conn{q: db}, db: db, driver: db.DriverName()}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	src, err := iofs.New(migrations, "migrations/"+s.driver)
	if err != nil {
		return err
	}

	var m *migrate.Migrate
	switch s.driver {
	case DriverSQLite:
		// m.Close would close the store's own pool; not called.
		drv, err := migratesqlite.WithInstance(s.db.DB, &migratesqlite.Config{})
		if err != nil {
			return err
		}
		if m, err = migrate.NewWithInstance("iofs", src, "sqlite3", drv); err != nil {
			return err
		}
	case DriverPostgres:
		mdb, err := sql.Open(DriverPostgres, s.dsn)
		if err != nil {
			return err
		}
		drv, err := migratepg.WithInstance(mdb, &migratepg.Config{})
		if err != nil {
			mdb.Close()
			return err
		}
		if m, err = migrate.NewWithInstance("iofs", src, "postgres", drv); err != nil {
			mdb.Close()
			return err
		}
		defer m.Close()
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&conn{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// USERS
// =============================================================================

type userRow struct {
	ID             string          `db:"id"`
	Email          string          `db:"email"`
	Name           string          `db:"name"`
	Balance        decimal.Decimal `db:"balance"`
	TotalInvested  decimal.Decimal `db:"total_invested"`
	TotalWithdrawn decimal.Decimal `db:"total_withdrawn"`
	TotalROI       decimal.Decimal `db:"total_roi"`
	Blocked        bool            `db:"blocked"`
	Verified       bool            `db:"verified"`
	Version        int64           `db:"version"`
	CreatedAt      int64           `db:"created_at"`
	UpdatedAt      int64           `db:"updated_at"`
}

func (r userRow) toUser() *ledger.User {
	return &ledger.User{
		ID:             ledger.UserID(r.ID),
		Email:          r.Email,
		Name:           r.Name,
		Balance:        r.Balance,
		TotalInvested:  r.TotalInvested,
		TotalWithdrawn: r.TotalWithdrawn,
		TotalROI:       r.TotalROI,
		Blocked:        r.Blocked,
		Verified:       r.Verified,
		Version:        r.Version,
		CreatedAt:      fromNanos(r.CreatedAt),
		UpdatedAt:      fromNanos(r.UpdatedAt),
	}
}

const userColumns = `id, email, name, balance, total_invested, total_withdrawn, total_roi,
	blocked, verified, version, created_at, updated_at`

func (c *conn) CreateUser(ctx context.Context, u *ledger.User) error {
	var taken int
	if err := sqlx.GetContext(ctx, c.q, &taken,
		c.q.Rebind(`SELECT COUNT(*) FROM users WHERE LOWER(email) = LOWER(?)`), u.Email); err != nil {
		return fmt.Errorf("failed to check email: %w", err)
	}
	if taken > 0 {
		return &ledger.ValidationError{Field: "email", Reason: "already registered"}
	}

	_, err := c.q.ExecContext(ctx, c.q.Rebind(`
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(u.ID), u.Email, u.Name,
		u.Balance, u.TotalInvested, u.TotalWithdrawn, u.TotalROI,
		u.Blocked, u.Verified, u.Version,
		u.CreatedAt.UnixNano(), u.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &ledger.ValidationError{Field: "email", Reason: "already registered"}
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (c *conn) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	var row userRow
	err := sqlx.GetContext(ctx, c.q, &row,
		c.q.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "user", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return row.toUser(), nil
}

func (c *conn) UpdateUser(ctx context.Context, u *ledger.User) error {
	res, err := c.q.ExecContext(ctx, c.q.Rebind(`
		UPDATE users SET
			email = ?, name = ?,
			balance = ?, total_invested = ?, total_withdrawn = ?, total_roi = ?,
			blocked = ?, verified = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`),
		u.Email, u.Name,
		u.Balance, u.TotalInvested, u.TotalWithdrawn, u.TotalROI,
		u.Blocked, u.Verified,
		u.UpdatedAt.UnixNano(),
		string(u.ID), u.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if err := c.checkVersioned(ctx, res, "users", "user", string(u.ID)); err != nil {
		return err
	}
	u.Version++
	return nil
}

// =============================================================================
// INVESTMENTS
// =============================================================================

type investmentRow struct {
	ID            string          `db:"id"`
	UserID        string          `db:"user_id"`
	Amount        decimal.Decimal `db:"amount"`
	Method        string          `db:"method"`
	WalletInfo    string          `db:"wallet_info"`
	Status        string          `db:"status"`
	ROIRate       decimal.Decimal `db:"roi_rate"`
	ROIPeriod     string          `db:"roi_period"`
	StartDate     sql.NullInt64   `db:"start_date"`
	LastClaimedAt sql.NullInt64   `db:"last_claimed_at"`
	Returns       decimal.Decimal `db:"returns"`
	TotalClaimed  decimal.Decimal `db:"total_claimed"`
	Version       int64           `db:"version"`
	CreatedAt     int64           `db:"created_at"`
	UpdatedAt     int64           `db:"updated_at"`
}

func (r investmentRow) toInvestment() ledger.Investment {
	return ledger.Investment{
		ID:            ledger.InvestmentID(r.ID),
		UserID:        ledger.UserID(r.UserID),
		Amount:        r.Amount,
		Method:        r.Method,
		WalletInfo:    r.WalletInfo,
		Status:        ledger.InvestmentStatus(r.Status),
		ROIRate:       r.ROIRate,
		ROIPeriod:     ledger.ROIPeriod(r.ROIPeriod),
		StartDate:     fromNullNanos(r.StartDate),
		LastClaimedAt: fromNullNanos(r.LastClaimedAt),
		Returns:       r.Returns,
		TotalClaimed:  r.TotalClaimed,
		Version:       r.Version,
		CreatedAt:     fromNanos(r.CreatedAt),
		UpdatedAt:     fromNanos(r.UpdatedAt),
	}
}

const investmentColumns = `id, user_id, amount, method, wallet_info, status, roi_rate, roi_period,
	start_date, last_claimed_at, returns, total_claimed, version, created_at, updated_at`

func (c *conn) CreateInvestment(ctx context.Context, inv *ledger.Investment) error {
	_, err := c.q.ExecContext(ctx, c.q.Rebind(`
		INSERT INTO investments (`+investmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(inv.ID), string(inv.UserID), inv.Amount, inv.Method, inv.WalletInfo,
		string(inv.Status), inv.ROIRate, string(inv.ROIPeriod),
		nullNanos(inv.StartDate), nullNanos(inv.LastClaimedAt),
		inv.Returns, inv.TotalClaimed, inv.Version,
		inv.CreatedAt.UnixNano(), inv.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return &ledger.NotFoundError{Kind: "user", ID: string(inv.UserID)}
		}
		return fmt.Errorf("failed to insert investment: %w", err)
	}
	return nil
}

func (c *conn) GetInvestment(ctx context.Context, id ledger.InvestmentID) (*ledger.Investment, error) {
	var row investmentRow
	err := sqlx.GetContext(ctx, c.q, &row,
		c.q.Rebind(`SELECT `+investmentColumns+` FROM investments WHERE id = ?`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "investment", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load investment: %w", err)
	}
	inv := row.toInvestment()
	return &inv, nil
}

func (c *conn) UpdateInvestment(ctx context.Context, inv *ledger.Investment) error {
	res, err := c.q.ExecContext(ctx, c.q.Rebind(`
		UPDATE investments SET
			amount = ?, status = ?,
			start_date = ?, last_claimed_at = ?,
			returns = ?, total_claimed = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`),
		inv.Amount, string(inv.Status),
		nullNanos(inv.StartDate), nullNanos(inv.LastClaimedAt),
		inv.Returns, inv.TotalClaimed,
		inv.UpdatedAt.UnixNano(),
		string(inv.ID), inv.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update investment: %w", err)
	}
	if err := c.checkVersioned(ctx, res, "investments", "investment", string(inv.ID)); err != nil {
		return err
	}
	inv.Version++
	return nil
}

func (c *conn) ListInvestments(ctx context.Context, userID ledger.UserID) ([]ledger.Investment, error) {
	return c.queryInvestments(ctx, `
		SELECT `+investmentColumns+` FROM investments
		WHERE user_id = ?
		ORDER BY created_at, id`, string(userID))
}

func (c *conn) ListInvestmentsByStatus(ctx context.Context, userID ledger.UserID, status ledger.InvestmentStatus) ([]ledger.Investment, error) {
	return c.queryInvestments(ctx, `
		SELECT `+investmentColumns+` FROM investments
		WHERE user_id = ? AND status = ?
		ORDER BY COALESCE(start_date, 0), created_at, id`, string(userID), string(status))
}

func (c *conn) queryInvestments(ctx context.Context, query string, args ...any) ([]ledger.Investment, error) {
	var rows []investmentRow
	if err := sqlx.SelectContext(ctx, c.q, &rows, c.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list investments: %w", err)
	}
	out := make([]ledger.Investment, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toInvestment())
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type transactionRow struct {
	ID           string          `db:"id"`
	UserID       string          `db:"user_id"`
	InvestmentID string          `db:"investment_id"`
	Type         string          `db:"tx_type"`
	Amount       decimal.Decimal `db:"amount"`
	Method       string          `db:"method"`
	Address      string          `db:"address"`
	Status       string          `db:"status"`
	IsSOS        bool            `db:"is_sos"`
	TxRef        string          `db:"tx_ref"`
	Note         string          `db:"note"`
	SettledBy    string          `db:"settled_by"`
	CreatedAt    int64           `db:"created_at"`
	SettledAt    sql.NullInt64   `db:"settled_at"`
}

func (r transactionRow) toTransaction() ledger.Transaction {
	return ledger.Transaction{
		ID:           ledger.TransactionID(r.ID),
		UserID:       ledger.UserID(r.UserID),
		InvestmentID: ledger.InvestmentID(r.InvestmentID),
		Type:         ledger.TransactionType(r.Type),
		Amount:       r.Amount,
		Method:       r.Method,
		Address:      r.Address,
		Status:       ledger.TransactionStatus(r.Status),
		IsSOS:        r.IsSOS,
		TxRef:        r.TxRef,
		Note:         r.Note,
		SettledBy:    r.SettledBy,
		CreatedAt:    fromNanos(r.CreatedAt),
		SettledAt:    fromNullNanos(r.SettledAt),
	}
}

const transactionColumns = `id, user_id, investment_id, tx_type, amount, method, address, status,
	is_sos, tx_ref, note, settled_by, created_at, settled_at`

func (c *conn) CreateTransaction(ctx context.Context, tx *ledger.Transaction) error {
	_, err := c.q.ExecContext(ctx, c.q.Rebind(`
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(tx.ID), string(tx.UserID), string(tx.InvestmentID), string(tx.Type),
		tx.Amount, tx.Method, tx.Address, string(tx.Status),
		tx.IsSOS, tx.TxRef, tx.Note, tx.SettledBy,
		tx.CreatedAt.UnixNano(), nullNanos(tx.SettledAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return &ledger.NotFoundError{Kind: "user", ID: string(tx.UserID)}
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (c *conn) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	var row transactionRow
	err := sqlx.GetContext(ctx, c.q, &row,
		c.q.Rebind(`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "transaction", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	tx := row.toTransaction()
	return &tx, nil
}

// SettleTransaction is the pending → terminal gate.
func (c *conn) SettleTransaction(ctx context.Context, tx *ledger.Transaction) error {
	res, err := c.q.ExecContext(ctx, c.q.Rebind(`
		UPDATE transactions SET
			status = ?, tx_ref = ?, note = ?, settled_by = ?, settled_at = ?
		WHERE id = ? AND status = ?`),
		string(tx.Status), tx.TxRef, tx.Note, tx.SettledBy, nullNanos(tx.SettledAt),
		string(tx.ID), string(ledger.TxPending),
	)
	if err != nil {
		return fmt.Errorf("failed to settle transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to settle transaction: %w", err)
	}
	if n == 1 {
		return nil
	}

	current, err := c.GetTransaction(ctx, tx.ID)
	if err != nil {
		return err
	}
	return &ledger.AlreadyProcessedError{TransactionID: tx.ID, Status: current.Status}
}

func (c *conn) ListTransactions(ctx context.Context, userID ledger.UserID) ([]ledger.Transaction, error) {
	return c.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = ?
		ORDER BY created_at, id`, string(userID))
}

func (c *conn) ListTransactionsByStatus(ctx context.Context, txType ledger.TransactionType, status ledger.TransactionStatus) ([]ledger.Transaction, error) {
	return c.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE tx_type = ? AND status = ?
		ORDER BY created_at, id`, string(txType), string(status))
}

func (c *conn) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, c.q, &rows, c.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	out := make([]ledger.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toTransaction())
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// checkVersioned turns a 0-row conditional update into NotFound or a conflict.
func (c *conn) checkVersioned(ctx context.Context, res sql.Result, table, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", kind, err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := sqlx.GetContext(ctx, c.q, &exists,
		c.q.Rebind(`SELECT COUNT(*) FROM `+table+` WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to check %s: %w", kind, err)
	}
	if exists == 0 {
		return &ledger.NotFoundError{Kind: kind, ID: id}
	}
	return ledger.ErrConcurrencyConflict
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return fromNanos(n.Int64)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func isForeignKeyError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "FOREIGN KEY constraint failed") ||
		strings.Contains(err.Error(), "violates foreign key constraint"))
}
