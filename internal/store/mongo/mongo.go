// Package mongo is the MongoDB ledger backend. Transactions need a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	xdriver "go.mongodb.org/mongo-driver/x/mongo/driver"

	"butik/backend/internal/domain"
	"butik/backend/internal/store"
	"butik/backend/internal/xid"
)

const writeConflictCode = 112

type Store struct {
	client      *driver.Client
	db          *driver.Database
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

func New(ctx context.Context, uri string, database string, opts ...Option) (*Store, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetMaxPoolSize(50)

	client, err := driver.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	s := &Store{
		client:      client,
		db:          client.Database(database),
		maxAttempts: store.DefaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "store.mongo"))
	return s, nil
}

// Migrate creates the indexes the ledger relies on.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := map[string][]driver.IndexModel{
		colLedger: {
			{Keys: bson.D{{Key: "transactionHash", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "orderId", Value: 1}}},
			{Keys: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}},
		},
		colSales: {
			{Keys: bson.D{{Key: "productId", Value: 1}, {Key: "selledAt", Value: -1}}},
		},
		colAuditLogs: {
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
	}
	for collection, models := range indexes {
		if _, err := s.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", collection, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) col(name string) *driver.Collection {
	return s.db.Collection(name)
}

// RunTransaction runs fn inside a session transaction with snapshot reads.
// The driver re-runs the callback on TransientTransactionError; the attempt
// budget is enforced here so exhaustion surfaces as store.ErrTransient.
func (s *Store) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("%w: start session: %v", store.ErrTransient, err)
	}
	defer session.EndSession(ctx)

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	attempts := 0
	var lastConflict error
	_, err = session.WithTransaction(ctx, func(sc driver.SessionContext) (any, error) {
		attempts++
		if attempts > s.maxAttempts {
			return nil, fmt.Errorf("%w: gave up after %d attempts: %v", store.ErrTransient, s.maxAttempts, lastConflict)
		}

		tx := &mongoTx{s: s}
		if err := fn(sc, tx); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		for _, op := range tx.Ops() {
			if err := s.applyOp(sc, op, now); err != nil {
				if isConflict(err) {
					lastConflict = err
					s.logger.Debug("transaction conflict", slog.Int("attempt", attempts), slog.Any("error", err))
				}
				return nil, err
			}
		}
		return nil, nil
	}, txnOpts)
	return mapError(err)
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.findOrder(ctx, id)
}

func (s *Store) DecideOrder(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, bool, error) {
	if !status.IsTerminal() {
		return nil, false, fmt.Errorf("%w: %s is not a decision", store.ErrInvalidInput, status)
	}

	var doc orderDoc
	err := s.col(colOrders).FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": pendingStatus},
		bson.M{
			"$set":         bson.M{"status": status.String()},
			"$currentDate": bson.M{"decidedAt": true},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		order, err := doc.toDomain()
		return order, true, err
	}
	if !errors.Is(err, driver.ErrNoDocuments) {
		return nil, false, mapError(err)
	}

	order, err := s.findOrder(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return order, false, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.findProduct(ctx, id)
}

func (s *Store) GetSale(ctx context.Context, productID string, saleID string) (*domain.Sale, error) {
	return s.findSale(ctx, productID, saleID)
}

func (s *Store) ListSales(ctx context.Context, productID string) ([]domain.Sale, error) {
	cursor, err := s.col(colSales).Find(ctx,
		bson.M{"productId": productID},
		options.Find().SetSort(bson.D{{Key: "selledAt", Value: -1}, {Key: "_id", Value: -1}}),
	)
	if err != nil {
		return nil, err
	}
	var docs []saleDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	sales := make([]domain.Sale, 0, len(docs))
	for _, doc := range docs {
		sale, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	return sales, nil
}

func (s *Store) GetBalance(ctx context.Context) (domain.Balance, error) {
	var doc balanceDoc
	err := s.col(colBalance).FindOne(ctx, bson.M{"_id": balanceDocID}).Decode(&doc)
	if errors.Is(err, driver.ErrNoDocuments) {
		return domain.Balance{TotalIncome: decimal.Zero, RealProfit: decimal.Zero}, nil
	}
	if err != nil {
		return domain.Balance{}, err
	}

	var c decCodec
	balance := domain.Balance{
		TotalIncome: c.dec(doc.TotalIncome),
		RealProfit:  c.dec(doc.RealProfit),
		UpdatedAt:   utcPtr(doc.UpdatedAt),
	}
	return balance, c.err
}

func (s *Store) FindBalanceTransaction(ctx context.Context, hash string) (*domain.BalanceTransaction, error) {
	return s.findLedger(ctx, hash)
}

func (s *Store) ListBalanceTransactions(ctx context.Context, filter domain.BalanceTransactionFilter) ([]domain.BalanceTransaction, error) {
	query := bson.M{}
	if filter.ProductID != "" {
		query["productId"] = filter.ProductID
	}
	if filter.OrderID != "" {
		query["orderId"] = filter.OrderID
	}
	if !filter.IncludeDeleted {
		query["deleted"] = false
	}
	limit := filter.Limit
	if limit < 1 {
		limit = defaultLimit
	}

	cursor, err := s.col(colLedger).Find(ctx, query,
		options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}
	var docs []ledgerDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	entries := make([]domain.BalanceTransaction, 0, len(docs))
	for _, doc := range docs {
		entry, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (s *Store) SumActiveBalanceTransactions(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	cursor, err := s.col(colLedger).Aggregate(ctx, driver.Pipeline{
		{{Key: "$match", Value: bson.M{"deleted": false}}},
		{{Key: "$group", Value: bson.M{
			"_id":    nil,
			"income": bson.M{"$sum": "$totalIncome"},
			"profit": bson.M{"$sum": "$realProfit"},
		}}},
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	var sums []struct {
		Income primitive.Decimal128 `bson:"income"`
		Profit primitive.Decimal128 `bson:"profit"`
	}
	if err := cursor.All(ctx, &sums); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if len(sums) == 0 {
		return decimal.Zero, decimal.Zero, nil
	}

	var c decCodec
	income, profit := c.dec(sums[0].Income), c.dec(sums[0].Profit)
	return income, profit, c.err
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) error {
	product.ID = strings.TrimSpace(product.ID)
	if product.ID == "" || product.Quantity < 0 || product.PurchasePrice.IsNegative() {
		return store.ErrInvalidInput
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	doc, err := newProductDoc(product)
	if err != nil {
		return err
	}
	_, err = s.col(colProducts).InsertOne(ctx, doc)
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
	doc, err := newOrderDoc(order)
	if err != nil {
		return err
	}
	_, err = s.col(colOrders).InsertOne(ctx, doc)
	return mapError(err)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.col(colAuditLogs).InsertOne(ctx, auditDoc(entry))
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = defaultLimit
	}
	cursor, err := s.col(colAuditLogs).Find(ctx,
		bson.M{"createdAt": bson.M{"$gte": from, "$lt": to}},
		options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, err
	}
	var docs []auditDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	logs := make([]domain.AuditLog, 0, len(docs))
	for _, doc := range docs {
		entry := domain.AuditLog(doc)
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, nil
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
	_, err := s.col(colUsers).InsertOne(ctx, userDoc{
		Username:  user.Username,
		Password:  user.Password,
		Role:      user.Role,
		Active:    true,
		CreatedAt: user.CreatedAt,
	})
	return mapError(err)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	cursor, err := s.col(colUsers).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	users := make([]domain.UserAccount, 0, len(docs))
	for _, doc := range docs {
		users = append(users, domain.UserAccount{
			Username:  doc.Username,
			Password:  doc.Password,
			Role:      doc.Role,
			Active:    doc.Active,
			CreatedAt: doc.CreatedAt.UTC(),
		})
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	res, err := s.col(colUsers).UpdateOne(ctx, bson.M{"_id": username}, bson.M{"$set": bson.M{"password": password}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isConflict(err error) bool {
	var se driver.ServerError
	if !errors.As(err, &se) {
		return false
	}
	return se.HasErrorLabel(xdriver.TransientTransactionError) || se.HasErrorCode(writeConflictCode)
}

// mapError translates driver errors into store sentinels and leaves the rest
// untouched.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrTransient):
		return err
	case driver.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	case isConflict(err):
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	case driver.IsTimeout(err), driver.IsNetworkError(err):
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	default:
		return err
	}
}
