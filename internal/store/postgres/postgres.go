package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"butik/backend/internal/domain"
	"butik/backend/internal/store"
	"butik/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db          *sql.DB
	maxAttempts int
	logger      *slog.Logger
}

type Option func(*Store)

func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
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

	s := &Store{db: db, maxAttempts: store.DefaultMaxAttempts, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "store.postgres"))
	return s, nil
}

// Migrate creates the tables and the balance singleton if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RunTransaction runs fn in a serializable transaction. Reads lock their rows;
// buffered writes are applied in order right before commit. Serialization
// failures and deadlocks re-run fn from the top.
func (s *Store) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	attempt := 0
	return store.RetryOnConflict(ctx, s.maxAttempts, func(ctx context.Context) error {
		attempt++
		err := s.runOnce(ctx, fn)
		if errors.Is(err, store.ErrConflict) {
			s.logger.Debug("transaction conflict", slog.Int("attempt", attempt), slog.Any("error", err))
		}
		return err
	})
}

func (s *Store) runOnce(ctx context.Context, fn store.TxFunc) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	tx := &pgTx{q: sqlTx}
	if err := fn(ctx, tx); err != nil {
		return mapError(err)
	}
	for _, op := range tx.Ops() {
		if err := applyOp(ctx, sqlTx, op); err != nil {
			return mapError(err)
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return getOrder(ctx, s.db, id, false)
}

func (s *Store) DecideOrder(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, bool, error) {
	if !status.IsTerminal() {
		return nil, false, fmt.Errorf("%w: %s is not a decision", store.ErrInvalidInput, status)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $2, decided_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+orderColumns, id, status.String())
	order, err := scanOrder(row)
	if err == nil {
		return order, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, mapError(err)
	}

	// Either the order does not exist or it was already decided.
	order, err = s.GetOrder(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return order, false, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return getProduct(ctx, s.db, id, false)
}

func (s *Store) GetSale(ctx context.Context, productID string, saleID string) (*domain.Sale, error) {
	return getSale(ctx, s.db, productID, saleID, false)
}

func (s *Store) ListSales(ctx context.Context, productID string) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE product_id = $1
		ORDER BY selled_at DESC, id DESC
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 16)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	return sales, rows.Err()
}

func (s *Store) GetBalance(ctx context.Context) (domain.Balance, error) {
	var (
		balance   domain.Balance
		updatedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT total_income, real_profit, updated_at
		FROM balance
		WHERE id = 1
	`).Scan(&balance.TotalIncome, &balance.RealProfit, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Balance{TotalIncome: decimal.Zero, RealProfit: decimal.Zero}, nil
	}
	if err != nil {
		return domain.Balance{}, err
	}
	balance.UpdatedAt = nullTimePtr(updatedAt)
	return balance, nil
}

func (s *Store) FindBalanceTransaction(ctx context.Context, hash string) (*domain.BalanceTransaction, error) {
	return findBalanceTransaction(ctx, s.db, hash, false)
}

func (s *Store) ListBalanceTransactions(ctx context.Context, filter domain.BalanceTransactionFilter) ([]domain.BalanceTransaction, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM balance_transactions
		WHERE ($1 = '' OR product_id = $1)
			AND ($2 = '' OR order_id = $2)
			AND ($3 OR NOT deleted)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, filter.ProductID, filter.OrderID, filter.IncludeDeleted, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.BalanceTransaction, 0, limit)
	for rows.Next() {
		entry, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func (s *Store) SumActiveBalanceTransactions(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	var income, profit decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_income), 0), COALESCE(SUM(real_profit), 0)
		FROM balance_transactions
		WHERE NOT deleted
	`).Scan(&income, &profit)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return income, profit, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) error {
	product.ID = strings.TrimSpace(product.ID)
	if product.ID == "" || product.Quantity < 0 || product.PurchasePrice.IsNegative() {
		return store.ErrInvalidInput
	}
	sizes, err := encodeSizes(product.Sizes)
	if err != nil {
		return err
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, name, quantity, sizes, purchase_price,
			original_price, discount_percentage, discounted_price, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, product.ID, product.Name, product.Quantity, sizes, product.PurchasePrice,
		nullDecimal(product.OriginalPrice), nullDecimal(product.DiscountPercentage), nullDecimal(product.DiscountedPrice),
		product.UpdatedAt)
	return mapError(err)
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) error {
	order.ID = strings.TrimSpace(order.ID)
	if order.ID == "" {
		return store.ErrInvalidInput
	}
	if order.Status == domain.OrderStatusUnknown {
		order.Status = domain.OrderStatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	items, err := json.Marshal(order.Items)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, items, total, status, created_at, decided_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, order.ID, order.UserID, items, order.Total, order.Status.String(), order.CreatedAt, nullTime(order.DecidedAt))
	return mapError(err)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,true,$4,now())
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	return mapError(err)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// mapError translates driver errors into store sentinels. Errors that are not
// from postgres pass through untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %w", store.ErrConflict, err)
	case "23505", "23514":
		return fmt.Errorf("%w: %s", store.ErrInvalidInput, pgErr.Message)
	default:
		return err
	}
}

func expectOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
