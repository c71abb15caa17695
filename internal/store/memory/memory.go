package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"butik/backend/internal/domain"
	"butik/backend/internal/store"
	"butik/backend/internal/xid"
)

// Store keeps every document in process. Transactions read versioned
// snapshots and validate them at commit, so concurrent writers conflict and
// retry exactly like they would against a document database.
type Store struct {
	mu          sync.RWMutex
	now         func() time.Time
	maxAttempts int

	products      map[string]domain.Product
	orders        map[string]domain.Order
	sales         map[string]map[string]domain.Sale
	balance       domain.Balance
	ledgerByID    map[string]domain.BalanceTransaction
	ledgerByHash  map[string]string
	ledgerByOrder map[string][]string
	versions      map[string]uint64

	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

type Option func(*Store)

func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		now:             time.Now,
		maxAttempts:     store.DefaultMaxAttempts,
		products:        make(map[string]domain.Product),
		orders:          make(map[string]domain.Order),
		sales:           make(map[string]map[string]domain.Sale),
		ledgerByID:      make(map[string]domain.BalanceTransaction),
		ledgerByHash:    make(map[string]string),
		ledgerByOrder:   make(map[string][]string),
		versions:        make(map[string]uint64),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error {
	return nil
}

func productKey(id string) string             { return "products/" + id }
func orderKey(id string) string               { return "orders/" + id }
func saleKey(productID, saleID string) string { return "products/" + productID + "/sales/" + saleID }
func ledgerKey(id string) string              { return "balance/transactions/" + id }
func hashKey(hash string) string              { return "balance/transactions/by-hash/" + hash }
func orderLedgerKey(orderID string) string    { return "balance/transactions/by-order/" + orderID }

func (s *Store) bump(key string) {
	s.versions[key]++
}

func (s *Store) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	return store.RetryOnConflict(ctx, s.maxAttempts, func(ctx context.Context) error {
		tx := &memTx{s: s, reads: make(map[string]uint64)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return s.commit(tx)
	})
}

type memTx struct {
	store.WriteBuffer
	s     *Store
	reads map[string]uint64
}

// record must be called with s.mu held.
func (t *memTx) record(key string) {
	if _, seen := t.reads[key]; seen {
		return
	}
	t.reads[key] = t.s.versions[key]
}

func (t *memTx) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	if err := t.CheckRead(); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	t.record(orderKey(id))
	order, ok := t.s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cloned := cloneOrder(order)
	return &cloned, nil
}

func (t *memTx) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	if err := t.CheckRead(); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	t.record(productKey(id))
	product, ok := t.s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cloned := cloneProduct(product)
	return &cloned, nil
}

func (t *memTx) GetSale(_ context.Context, productID string, saleID string) (*domain.Sale, error) {
	if err := t.CheckRead(); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	t.record(saleKey(productID, saleID))
	sale, ok := t.s.sales[productID][saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (t *memTx) FindBalanceTransaction(_ context.Context, hash string) (*domain.BalanceTransaction, error) {
	if err := t.CheckRead(); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	t.record(hashKey(hash))
	id, ok := t.s.ledgerByHash[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	t.record(ledgerKey(id))
	entry := t.s.ledgerByID[id]
	return &entry, nil
}

func (t *memTx) OrderHasBalanceTransactions(_ context.Context, orderID string) (bool, error) {
	if err := t.CheckRead(); err != nil {
		return false, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	t.record(orderLedgerKey(orderID))
	return len(t.s.ledgerByOrder[orderID]) > 0, nil
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, seen := range tx.reads {
		if s.versions[key] != seen {
			return fmt.Errorf("%w: %s changed since read", store.ErrConflict, key)
		}
	}
	if err := s.validateOps(tx.Ops()); err != nil {
		return err
	}

	now := s.now().UTC()
	for _, op := range tx.Ops() {
		s.applyOp(op, now)
	}
	return nil
}

// validateOps checks the whole batch before anything is applied so a commit
// is all-or-nothing.
func (s *Store) validateOps(ops []store.Op) error {
	pendingQty := make(map[string]int)
	pendingHashes := make(map[string]struct{})

	for _, op := range ops {
		switch o := op.(type) {
		case store.IncrementQuantityOp:
			product, ok := s.products[o.ProductID]
			if !ok {
				return fmt.Errorf("product %s: %w", o.ProductID, store.ErrNotFound)
			}
			current, seen := pendingQty[o.ProductID]
			if !seen {
				current = product.Quantity
			}
			if current+o.Delta < 0 {
				return fmt.Errorf("%w: product %s quantity would go negative", store.ErrInvalidInput, o.ProductID)
			}
			pendingQty[o.ProductID] = current + o.Delta
		case store.SetSizesOp:
			if _, ok := s.products[o.ProductID]; !ok {
				return fmt.Errorf("product %s: %w", o.ProductID, store.ErrNotFound)
			}
		case store.CreateSaleOp:
			if _, exists := s.sales[o.Sale.ProductID][o.Sale.ID]; exists {
				return fmt.Errorf("%w: sale %s already exists", store.ErrInvalidInput, o.Sale.ID)
			}
		case store.CreateBalanceTransactionOp:
			hash := o.Entry.TransactionHash
			_, stored := s.ledgerByHash[hash]
			_, pending := pendingHashes[hash]
			if stored || pending {
				return fmt.Errorf("%w: transaction hash %s already recorded", store.ErrInvalidInput, hash)
			}
			pendingHashes[hash] = struct{}{}
		case store.SetOrderStatusOp:
			if _, ok := s.orders[o.OrderID]; !ok {
				return fmt.Errorf("order %s: %w", o.OrderID, store.ErrNotFound)
			}
		case store.DeleteSaleOp:
			if _, ok := s.sales[o.ProductID][o.SaleID]; !ok {
				return fmt.Errorf("sale %s: %w", o.SaleID, store.ErrNotFound)
			}
		case store.DeleteBalanceTransactionOp:
			if _, ok := s.ledgerByID[o.ID]; !ok {
				return fmt.Errorf("ledger line %s: %w", o.ID, store.ErrNotFound)
			}
		case store.IncrementBalanceOp:
		default:
			return fmt.Errorf("%w: unsupported op %T", store.ErrInvalidInput, op)
		}
	}
	return nil
}

func (s *Store) applyOp(op store.Op, now time.Time) {
	switch o := op.(type) {
	case store.IncrementQuantityOp:
		product := s.products[o.ProductID]
		product.Quantity += o.Delta
		product.UpdatedAt = now
		s.products[o.ProductID] = product
		s.bump(productKey(o.ProductID))
	case store.SetSizesOp:
		product := s.products[o.ProductID]
		product.Sizes = slices.Clone(o.Sizes)
		product.UpdatedAt = now
		s.products[o.ProductID] = product
		s.bump(productKey(o.ProductID))
	case store.CreateSaleOp:
		sale := o.Sale
		sale.SelledAt = now
		sale.Deleted = false
		sale.DeletedAt = nil
		if s.sales[sale.ProductID] == nil {
			s.sales[sale.ProductID] = make(map[string]domain.Sale)
		}
		s.sales[sale.ProductID][sale.ID] = sale
		s.bump(saleKey(sale.ProductID, sale.ID))
	case store.CreateBalanceTransactionOp:
		entry := o.Entry
		entry.CreatedAt = now
		entry.Deleted = false
		entry.DeletedAt = nil
		s.ledgerByID[entry.ID] = entry
		s.ledgerByHash[entry.TransactionHash] = entry.ID
		s.bump(ledgerKey(entry.ID))
		s.bump(hashKey(entry.TransactionHash))
		if entry.OrderID != nil {
			s.ledgerByOrder[*entry.OrderID] = append(s.ledgerByOrder[*entry.OrderID], entry.ID)
			s.bump(orderLedgerKey(*entry.OrderID))
		}
	case store.IncrementBalanceOp:
		s.balance.TotalIncome = s.balance.TotalIncome.Add(o.Income)
		s.balance.RealProfit = s.balance.RealProfit.Add(o.Profit)
		at := now
		s.balance.UpdatedAt = &at
	case store.SetOrderStatusOp:
		order := s.orders[o.OrderID]
		order.Status = o.Status
		at := now
		order.DecidedAt = &at
		s.orders[o.OrderID] = order
		s.bump(orderKey(o.OrderID))
	case store.DeleteSaleOp:
		sale := s.sales[o.ProductID][o.SaleID]
		sale.Deleted = true
		sale.DeleteReason = o.Reason
		at := now
		sale.DeletedAt = &at
		s.sales[o.ProductID][o.SaleID] = sale
		s.bump(saleKey(o.ProductID, o.SaleID))
	case store.DeleteBalanceTransactionOp:
		entry := s.ledgerByID[o.ID]
		entry.Deleted = true
		entry.DeleteReason = o.Reason
		at := now
		entry.DeletedAt = &at
		s.ledgerByID[o.ID] = entry
		s.bump(ledgerKey(o.ID))
	}
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cloned := cloneOrder(order)
	return &cloned, nil
}

func (s *Store) DecideOrder(_ context.Context, id string, status domain.OrderStatus) (*domain.Order, bool, error) {
	if !status.IsTerminal() {
		return nil, false, fmt.Errorf("%w: %s is not a decision", store.ErrInvalidInput, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	if order.Status != domain.OrderStatusPending {
		cloned := cloneOrder(order)
		return &cloned, false, nil
	}

	at := s.now().UTC()
	order.Status = status
	order.DecidedAt = &at
	s.orders[id] = order
	s.bump(orderKey(id))

	cloned := cloneOrder(order)
	return &cloned, true, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cloned := cloneProduct(product)
	return &cloned, nil
}

func (s *Store) GetSale(_ context.Context, productID string, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[productID][saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) ListSales(_ context.Context, productID string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.sales[productID]))
	for _, sale := range s.sales[productID] {
		result = append(result, sale)
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		return b.SelledAt.Compare(a.SelledAt)
	})
	return result, nil
}

func (s *Store) GetBalance(_ context.Context) (domain.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balance, nil
}

func (s *Store) FindBalanceTransaction(_ context.Context, hash string) (*domain.BalanceTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.ledgerByHash[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	entry := s.ledgerByID[id]
	return &entry, nil
}

func (s *Store) ListBalanceTransactions(_ context.Context, filter domain.BalanceTransactionFilter) ([]domain.BalanceTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.BalanceTransaction, 0, 64)
	for _, entry := range s.ledgerByID {
		if filter.ProductID != "" && entry.ProductID != filter.ProductID {
			continue
		}
		if filter.OrderID != "" && (entry.OrderID == nil || *entry.OrderID != filter.OrderID) {
			continue
		}
		if entry.Deleted && !filter.IncludeDeleted {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.BalanceTransaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) SumActiveBalanceTransactions(_ context.Context) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	income, profit := decimal.Zero, decimal.Zero
	for _, entry := range s.ledgerByID {
		if entry.Deleted {
			continue
		}
		income = income.Add(entry.TotalIncome)
		profit = profit.Add(entry.RealProfit)
	}
	return income, profit, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) error {
	product.ID = strings.TrimSpace(product.ID)
	if product.ID == "" || product.Quantity < 0 || product.PurchasePrice.IsNegative() {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return fmt.Errorf("%w: product %s already exists", store.ErrInvalidInput, product.ID)
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = s.now().UTC()
	}
	s.products[product.ID] = cloneProduct(product)
	s.bump(productKey(product.ID))
	return nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) error {
	order.ID = strings.TrimSpace(order.ID)
	if order.ID == "" {
		return store.ErrInvalidInput
	}
	if order.Status == domain.OrderStatusUnknown {
		order.Status = domain.OrderStatusPending
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("%w: order %s already exists", store.ErrInvalidInput, order.ID)
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.now().UTC()
	}
	s.orders[order.ID] = cloneOrder(order)
	s.bump(orderKey(order.ID))
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneProduct(p domain.Product) domain.Product {
	p.Sizes = slices.Clone(p.Sizes)
	return p
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = slices.Clone(o.Items)
	if o.DecidedAt != nil {
		at := *o.DecidedAt
		o.DecidedAt = &at
	}
	return o
}

var _ store.Repository = (*Store)(nil)
