package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"butik/backend/internal/cache"
	"butik/backend/internal/domain"
	"butik/backend/internal/fulfillment"
	"butik/backend/internal/metrics"
	"butik/backend/internal/store"
	"butik/backend/internal/xid"
)

var ErrForbidden = errors.New("admin role required")

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	engine   *fulfillment.Engine
	cache    cache.DecisionCache
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithDecisionCache(c cache.DecisionCache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
			s.cacheTTL = ttl
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(repo store.Repository, engine *fulfillment.Engine, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		engine:   engine,
		cache:    cache.NoopDecisionCache{},
		cacheTTL: 10 * time.Minute,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "service"))
	return s
}

func (s *Service) AcceptOrder(ctx context.Context, orderID string) (domain.OrderDecision, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.OrderDecision{}, err
	}
	orderID = strings.TrimSpace(orderID)
	if cached, ok := s.cachedDecision(ctx, orderID); ok {
		return cached, nil
	}

	start := time.Now()
	decision, err := s.engine.AcceptOrder(ctx, orderID)
	s.observe("accept_order", start, err)
	if err != nil {
		return domain.OrderDecision{}, err
	}

	s.rememberDecision(ctx, decision)
	if !decision.AlreadyDecided {
		s.logAudit(ctx, "order_accept", "order", orderID, fmt.Sprintf("sales=%d,recovered=%t", len(decision.Sales), decision.Recovered))
	}
	return decision, nil
}

func (s *Service) DeclineOrder(ctx context.Context, orderID string) (domain.OrderDecision, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.OrderDecision{}, err
	}
	orderID = strings.TrimSpace(orderID)
	if cached, ok := s.cachedDecision(ctx, orderID); ok {
		return cached, nil
	}

	start := time.Now()
	decision, err := s.engine.DeclineOrder(ctx, orderID)
	s.observe("decline_order", start, err)
	if err != nil {
		return domain.OrderDecision{}, err
	}

	s.rememberDecision(ctx, decision)
	if !decision.AlreadyDecided {
		s.logAudit(ctx, "order_decline", "order", orderID, "")
	}
	return decision, nil
}

func (s *Service) RecordDirectSale(ctx context.Context, req domain.DirectSaleRequest) (domain.SaleReceipt, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.SaleReceipt{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if err := s.validateRequest(req); err != nil {
		return domain.SaleReceipt{}, err
	}

	start := time.Now()
	receipt, err := s.engine.RecordDirectSale(ctx, fulfillment.DirectSale{
		ProductID:    req.ProductID,
		SellingPrice: req.SellingPrice,
		Quantity:     req.Quantity,
	})
	s.observe("direct_sale", start, err)
	if err != nil {
		return domain.SaleReceipt{}, err
	}

	s.logAudit(ctx, "direct_sale", "transaction", receipt.TransactionHash,
		fmt.Sprintf("product=%s,qty=%d,income=%s", receipt.ProductID, receipt.Quantity, receipt.TotalIncome.String()))
	return receipt, nil
}

func (s *Service) RevertTransaction(ctx context.Context, req domain.RevertTransactionRequest) (domain.RevertTransactionResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.RevertTransactionResponse{}, err
	}
	req.TransactionHash = strings.TrimSpace(req.TransactionHash)
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validateRequest(req); err != nil {
		return domain.RevertTransactionResponse{}, err
	}

	start := time.Now()
	outcome, err := s.engine.RevertTransaction(ctx, req.TransactionHash, req.Reason)
	s.observe("revert_transaction", start, err)
	if err != nil {
		return domain.RevertTransactionResponse{}, err
	}

	s.logAudit(ctx, "revert_transaction", "transaction", outcome.TransactionHash,
		fmt.Sprintf("reason=%s,restocked=%t", outcome.Reason, outcome.ProductRestored))

	return domain.RevertTransactionResponse{
		OK:              true,
		TransactionHash: outcome.TransactionHash,
		Reason:          outcome.Reason,
		RevertedAt:      s.now().Format(time.RFC3339),
	}, nil
}

// GetTransaction returns a ledger line by its public hash together with the
// sale it mirrors, when that sale still exists.
func (s *Service) GetTransaction(ctx context.Context, hash string) (domain.TransactionDetail, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return domain.TransactionDetail{}, fmt.Errorf("%w: transaction hash required", fulfillment.ErrInvalidInput)
	}

	entry, err := s.repo.FindBalanceTransaction(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return domain.TransactionDetail{}, fmt.Errorf("transaction %s: %w", hash, fulfillment.ErrTransactionNotFound)
	}
	if err != nil {
		return domain.TransactionDetail{}, err
	}

	detail := domain.TransactionDetail{Transaction: *entry}
	if entry.ProductID != "" && entry.SaleID != "" {
		sale, err := s.repo.GetSale(ctx, entry.ProductID, entry.SaleID)
		switch {
		case err == nil:
			detail.Sale = sale
		case !errors.Is(err, store.ErrNotFound):
			return domain.TransactionDetail{}, err
		}
	}
	return detail, nil
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.BalanceTransactionFilter) ([]domain.BalanceTransaction, error) {
	filter.ProductID = strings.TrimSpace(filter.ProductID)
	filter.OrderID = strings.TrimSpace(filter.OrderID)
	filter.Limit = clampLimit(filter.Limit)
	return s.repo.ListBalanceTransactions(ctx, filter)
}

// ListSales returns a product's sale records, reverted ones included, newest
// first. Sales of a product that was removed from the catalog stay readable.
func (s *Service) ListSales(ctx context.Context, productID string) ([]domain.Sale, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, fmt.Errorf("%w: product id required", fulfillment.ErrInvalidInput)
	}

	sales, err := s.repo.ListSales(ctx, productID)
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		_, err := s.repo.GetProduct(ctx, productID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("product %s: %w", productID, fulfillment.ErrProductNotFound)
		}
		if err != nil {
			return nil, err
		}
	}
	return sales, nil
}

func (s *Service) GetBalance(ctx context.Context) (domain.Balance, error) {
	return s.repo.GetBalance(ctx)
}

// Reconcile compares the balance singleton with the sum of active ledger
// lines. The two reads are not taken from one snapshot, so a sale committing
// in between shows up as transient drift.
func (s *Service) Reconcile(ctx context.Context) (domain.ReconcileReport, error) {
	balance, err := s.repo.GetBalance(ctx)
	if err != nil {
		return domain.ReconcileReport{}, err
	}
	income, profit, err := s.repo.SumActiveBalanceTransactions(ctx)
	if err != nil {
		return domain.ReconcileReport{}, err
	}

	report := domain.ReconcileReport{
		Balance:      balance,
		LedgerIncome: income,
		LedgerProfit: profit,
		IncomeDrift:  balance.TotalIncome.Sub(income),
		ProfitDrift:  balance.RealProfit.Sub(profit),
		CheckedAt:    s.now(),
	}
	report.Balanced = report.IncomeDrift.IsZero() && report.ProfitDrift.IsZero()

	if s.metrics != nil {
		s.metrics.SetLedgerDrift(report.IncomeDrift.InexactFloat64(), report.ProfitDrift.InexactFloat64())
	}
	if !report.Balanced {
		s.logger.Warn("balance drifted from ledger",
			slog.String("income_drift", report.IncomeDrift.String()),
			slog.String("profit_drift", report.ProfitDrift.String()),
		)
	}
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", fulfillment.ErrInvalidInput)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, clampLimit(limit))
}

func (s *Service) cachedDecision(ctx context.Context, orderID string) (domain.OrderDecision, bool) {
	if orderID == "" {
		return domain.OrderDecision{}, false
	}
	cached, ok, err := s.cache.Get(ctx, orderID)
	if err != nil {
		s.logger.Warn("decision cache read failed", slog.String("order_id", orderID), slog.Any("error", err))
		return domain.OrderDecision{}, false
	}
	if !ok || cached == nil || !cached.Status.IsTerminal() {
		return domain.OrderDecision{}, false
	}
	decision := *cached
	decision.AlreadyDecided = true
	return decision, true
}

func (s *Service) rememberDecision(ctx context.Context, decision domain.OrderDecision) {
	if err := s.cache.Set(ctx, decision, s.cacheTTL); err != nil {
		s.logger.Warn("decision cache write failed", slog.String("order_id", decision.OrderID), slog.Any("error", err))
	}
}

func (s *Service) validateRequest(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", fulfillment.ErrInvalidInput, err)
	}
	return nil
}

func (s *Service) observe(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = fulfillment.KindOf(err).String()
	}
	s.metrics.ObservePipeline(operation, outcome, time.Since(start))
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New(),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			slog.String("action", action),
			slog.String("entity", entityType+"/"+entityID),
			slog.Any("error", err),
		)
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func clampLimit(limit int) int {
	switch {
	case limit < 1:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}

