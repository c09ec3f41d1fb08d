package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"shiftledger/backend/internal/domain"
	"shiftledger/backend/internal/store"
	"shiftledger/backend/internal/xid"
)

var prefixPattern = regexp.MustCompile(`^[a-z0-9_]*$`)

// Tables holds the physical table names. Deployments sharing a database
// separate themselves with a prefix.
type Tables struct {
	Shifts       string
	Transactions string
	CashDrops    string
	Adjustments  string
	Movements    string
	AuditLogs    string
}

func TablesWithPrefix(prefix string) (Tables, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if !prefixPattern.MatchString(prefix) {
		return Tables{}, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return Tables{
		Shifts:       prefix + "shift_sessions",
		Transactions: prefix + "register_transactions",
		CashDrops:    prefix + "cash_drops",
		Adjustments:  prefix + "cash_adjustments",
		Movements:    prefix + "account_movements",
		AuditLogs:    prefix + "audit_logs",
	}, nil
}

type Store struct {
	db     *sql.DB
	tables Tables
}

func New(ctx context.Context, databaseURL string, tablePrefix string) (*Store, error) {
	tables, err := TablesWithPrefix(tablePrefix)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, tables: tables}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables and indexes if they do not exist. Each statement
// is idempotent so it is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	t := s.tables
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			branch_id TEXT NOT NULL,
			register_id TEXT NOT NULL,
			employee_id TEXT NOT NULL,
			status TEXT NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL,
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, t.Shifts),
		// One open shift per register and per employee.
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_open_register_uq ON %s (company_id, branch_id, register_id)
			WHERE status IN ('active', 'suspended')`, t.Shifts, t.Shifts),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_open_employee_uq ON %s (company_id, employee_id)
			WHERE status IN ('active', 'suspended')`, t.Shifts, t.Shifts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			shift_id TEXT NOT NULL,
			idempotency_key TEXT,
			occurred_at TIMESTAMPTZ NOT NULL,
			is_voided BOOLEAN NOT NULL DEFAULT false,
			doc JSONB NOT NULL
		)`, t.Transactions),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_idem_uq ON %s (idempotency_key)
			WHERE idempotency_key IS NOT NULL`, t.Transactions, t.Transactions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_shift_time_idx ON %s (shift_id, occurred_at, id)`, t.Transactions, t.Transactions),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			shift_id TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			doc JSONB NOT NULL
		)`, t.CashDrops),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			shift_id TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			doc JSONB NOT NULL
		)`, t.Adjustments),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			shift_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			doc JSONB NOT NULL
		)`, t.Movements),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_shift_account_idx ON %s (shift_id, account_id, occurred_at)`, t.Movements, t.Movements),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			sequence BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			company_id TEXT NOT NULL,
			branch_id TEXT NOT NULL,
			shift_id TEXT NOT NULL,
			action TEXT NOT NULL,
			actor TEXT NOT NULL,
			actor_role TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			details JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
		)`, t.AuditLogs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_shift_idx ON %s (shift_id, sequence)`, t.AuditLogs, t.AuditLogs),
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// WithAtomicUpdate runs fn in a SERIALIZABLE transaction after taking a
// transaction-scoped advisory lock per key, in sorted order.
func (s *Store) WithAtomicUpdate(ctx context.Context, keys []store.Key, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	for _, key := range store.SortKeys(keys) {
		if _, err := sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(key)); err != nil {
			return mapError(err)
		}
	}

	if err := fn(ctx, &pgTx{tx: sqlTx, tables: s.tables}); err != nil {
		return mapError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) GetShift(ctx context.Context, shiftID string) (*domain.ShiftSession, error) {
	return getShift(ctx, s.db, s.tables, shiftID, false)
}

func (s *Store) FindOpenShiftByRegister(ctx context.Context, companyID, branchID, registerID string) (*domain.ShiftSession, error) {
	return findOpenShift(ctx, s.db, s.tables,
		`company_id = $1 AND branch_id = $2 AND register_id = $3`, false, companyID, branchID, registerID)
}

func (s *Store) GetTransaction(ctx context.Context, transactionID string) (*domain.RegisterTransaction, error) {
	return getTransaction(ctx, s.db, s.tables, `id = $1`, false, transactionID)
}

func (s *Store) ListTransactions(ctx context.Context, query store.TransactionQuery) ([]domain.RegisterTransaction, error) {
	stmt := fmt.Sprintf(`SELECT doc FROM %s WHERE shift_id = $1`, s.tables.Transactions)
	if !query.IncludeVoided {
		stmt += ` AND is_voided = false`
	}
	if query.Ordered {
		stmt += ` ORDER BY occurred_at ASC, id ASC`
	}
	args := []any{query.ShiftID}
	if query.Limit > 0 {
		stmt += ` LIMIT $2`
		args = append(args, query.Limit)
	}

	return queryDocs[domain.RegisterTransaction](ctx, s.db, stmt, args...)
}

func (s *Store) ListCashDrops(ctx context.Context, shiftID string) ([]domain.CashDrop, error) {
	return queryDocs[domain.CashDrop](ctx, s.db, fmt.Sprintf(`
		SELECT doc FROM %s WHERE shift_id = $1 ORDER BY occurred_at ASC, id ASC
	`, s.tables.CashDrops), shiftID)
}

func (s *Store) ListCashAdjustments(ctx context.Context, shiftID string) ([]domain.CashAdjustment, error) {
	return queryDocs[domain.CashAdjustment](ctx, s.db, fmt.Sprintf(`
		SELECT doc FROM %s WHERE shift_id = $1 ORDER BY occurred_at ASC, id ASC
	`, s.tables.Adjustments), shiftID)
}

func (s *Store) ListAccountMovements(ctx context.Context, shiftID string, accountID string) ([]domain.AccountMovement, error) {
	return queryDocs[domain.AccountMovement](ctx, s.db, fmt.Sprintf(`
		SELECT doc FROM %s
		WHERE ($1 = '' OR shift_id = $1) AND ($2 = '' OR account_id = $2)
		ORDER BY occurred_at ASC, id ASC
	`, s.tables.Movements), shiftID, accountID)
}

func (s *Store) ListAuditLogs(ctx context.Context, shiftID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT sequence, id, company_id, branch_id, shift_id, action, actor, actor_role,
			entity_type, entity_id, details, created_at
		FROM %s
		WHERE ($1 = '' OR shift_id = $1)
		ORDER BY sequence ASC
		LIMIT $2
	`, s.tables.AuditLogs), shiftID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 32)
	for rows.Next() {
		var entry domain.AuditLog
		var details []byte
		if err := rows.Scan(&entry.Sequence, &entry.ID, &entry.CompanyID, &entry.BranchID, &entry.ShiftID,
			&entry.Action, &entry.Actor, &entry.ActorRole, &entry.EntityType, &entry.EntityID, &details, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			entry.Details = json.RawMessage(details)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type pgTx struct {
	tx     *sql.Tx
	tables Tables
}

func (t *pgTx) GetShift(ctx context.Context, shiftID string) (*domain.ShiftSession, error) {
	return getShift(ctx, t.tx, t.tables, shiftID, true)
}

func (t *pgTx) FindOpenShiftByRegister(ctx context.Context, companyID, branchID, registerID string) (*domain.ShiftSession, error) {
	return findOpenShift(ctx, t.tx, t.tables,
		`company_id = $1 AND branch_id = $2 AND register_id = $3`, true, companyID, branchID, registerID)
}

func (t *pgTx) FindOpenShiftByEmployee(ctx context.Context, companyID, employeeID string) (*domain.ShiftSession, error) {
	return findOpenShift(ctx, t.tx, t.tables, `company_id = $1 AND employee_id = $2`, true, companyID, employeeID)
}

func (t *pgTx) InsertShift(ctx context.Context, shift domain.ShiftSession) error {
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	doc, err := json.Marshal(shift)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, company_id, branch_id, register_id, employee_id, status, opened_at, doc, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
	`, t.tables.Shifts), shift.ID, shift.CompanyID, shift.BranchID, shift.RegisterID, shift.EmployeeID,
		shift.Status, shift.OpenedAt, doc)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (t *pgTx) UpdateShift(ctx context.Context, shift domain.ShiftSession) error {
	doc, err := json.Marshal(shift)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET status = $2, doc = $3, updated_at = now()
		WHERE id = $1
	`, t.tables.Shifts), shift.ID, shift.Status, doc)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) GetTransaction(ctx context.Context, transactionID string) (*domain.RegisterTransaction, error) {
	return getTransaction(ctx, t.tx, t.tables, `id = $1`, true, transactionID)
}

func (t *pgTx) FindTransactionByIdempotency(ctx context.Context, key string) (*domain.RegisterTransaction, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	return getTransaction(ctx, t.tx, t.tables, `idempotency_key = $1`, true, key)
}

func (t *pgTx) InsertTransaction(ctx context.Context, tx domain.RegisterTransaction) error {
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	doc, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, shift_id, idempotency_key, occurred_at, is_voided, doc)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, t.tables.Transactions), tx.ID, tx.ShiftID, nullString(tx.IdempotencyKey), tx.Timestamp, tx.IsVoided, doc)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (t *pgTx) MarkTransactionVoided(ctx context.Context, tx domain.RegisterTransaction) error {
	current, err := t.GetTransaction(ctx, tx.ID)
	if err != nil {
		return err
	}
	if current.IsVoided {
		return store.ErrConflict
	}
	current.IsVoided = true
	current.VoidedAt = tx.VoidedAt
	current.VoidedBy = tx.VoidedBy
	current.VoidReason = tx.VoidReason
	current.VoidApprovedBy = tx.VoidApprovedBy

	doc, err := json.Marshal(current)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET is_voided = true, doc = $2 WHERE id = $1 AND is_voided = false
	`, t.tables.Transactions), tx.ID, doc)
	return err
}

func (t *pgTx) InsertCashDrop(ctx context.Context, drop domain.CashDrop) error {
	return t.insertDoc(ctx, t.tables.CashDrops, drop.ID, drop.ShiftID, drop.Timestamp, drop)
}

func (t *pgTx) InsertCashAdjustment(ctx context.Context, adjustment domain.CashAdjustment) error {
	return t.insertDoc(ctx, t.tables.Adjustments, adjustment.ID, adjustment.ShiftID, adjustment.Timestamp, adjustment)
}

func (t *pgTx) InsertAccountMovement(ctx context.Context, movement domain.AccountMovement) error {
	doc, err := json.Marshal(movement)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, shift_id, account_id, occurred_at, doc)
		VALUES ($1,$2,$3,$4,$5)
	`, t.tables.Movements), movement.ID, movement.ShiftID, movement.AccountID, movement.Timestamp, doc)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (t *pgTx) AppendAuditLog(ctx context.Context, entry domain.AuditLog) (domain.AuditLog, error) {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	var details any
	if len(entry.Details) > 0 {
		details = []byte(entry.Details)
	}

	err := t.tx.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, company_id, branch_id, shift_id, action, actor, actor_role, entity_type, entity_id, details)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING sequence, created_at
	`, t.tables.AuditLogs), entry.ID, entry.CompanyID, entry.BranchID, entry.ShiftID, entry.Action,
		entry.Actor, entry.ActorRole, entry.EntityType, entry.EntityID, details).Scan(&entry.Sequence, &entry.CreatedAt)
	if err != nil {
		return domain.AuditLog{}, err
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, nil
}

func (t *pgTx) insertDoc(ctx context.Context, table string, id string, shiftID string, at time.Time, value any) error {
	doc, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, shift_id, occurred_at, doc) VALUES ($1,$2,$3,$4)
	`, table), id, shiftID, at, doc)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func getShift(ctx context.Context, q queryer, tables Tables, shiftID string, forUpdate bool) (*domain.ShiftSession, error) {
	stmt := fmt.Sprintf(`SELECT doc FROM %s WHERE id = $1`, tables.Shifts)
	if forUpdate {
		stmt += ` FOR UPDATE`
	}
	return scanDoc[domain.ShiftSession](q.QueryRowContext(ctx, stmt, shiftID))
}

func findOpenShift(ctx context.Context, q queryer, tables Tables, where string, forUpdate bool, args ...any) (*domain.ShiftSession, error) {
	stmt := fmt.Sprintf(`
		SELECT doc FROM %s
		WHERE %s AND status IN ('active', 'suspended')
		LIMIT 1
	`, tables.Shifts, where)
	if forUpdate {
		stmt += ` FOR UPDATE`
	}
	return scanDoc[domain.ShiftSession](q.QueryRowContext(ctx, stmt, args...))
}

func getTransaction(ctx context.Context, q queryer, tables Tables, where string, forUpdate bool, args ...any) (*domain.RegisterTransaction, error) {
	stmt := fmt.Sprintf(`SELECT doc FROM %s WHERE %s`, tables.Transactions, where)
	if forUpdate {
		stmt += ` FOR UPDATE`
	}
	return scanDoc[domain.RegisterTransaction](q.QueryRowContext(ctx, stmt, args...))
}

func scanDoc[T any](row *sql.Row) (*T, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return &value, nil
}

func queryDocs[T any](ctx context.Context, q queryer, stmt string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]T, 0, 32)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var value T
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, err
		}
		result = append(result, value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// mapError translates serialization and deadlock failures into
// store.ErrStoreContention and unique violations into store.ErrConflict.
// Non-database errors pass through untouched.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %s", store.ErrStoreContention, pgErr.Message)
	case "23505":
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	default:
		return err
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
