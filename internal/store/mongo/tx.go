package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"butik/backend/internal/domain"
	"butik/backend/internal/store"
)

// mongoTx reads through the session context it is handed, so every read sees
// the transaction snapshot.
type mongoTx struct {
	store.WriteBuffer
	s *Store
}

func (t *mongoTx) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if err := t.CheckRead(); err != nil {
		return nil, err
	}
	return t.s.findOrder(ctx, id)
}

func (t *mongoTx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if err := t.CheckRead(); err != nil {
		return nil, err
	}
	return t.s.findProduct(ctx, id)
}

func (t *mongoTx) GetSale(ctx context.Context, productID string, saleID string) (*domain.Sale, error) {
	if err := t.CheckRead(); err != nil {
		return nil, err
	}
	return t.s.findSale(ctx, productID, saleID)
}

func (t *mongoTx) FindBalanceTransaction(ctx context.Context, hash string) (*domain.BalanceTransaction, error) {
	if err := t.CheckRead(); err != nil {
		return nil, err
	}
	return t.s.findLedger(ctx, hash)
}

func (t *mongoTx) OrderHasBalanceTransactions(ctx context.Context, orderID string) (bool, error) {
	if err := t.CheckRead(); err != nil {
		return false, err
	}
	n, err := t.s.col(colLedger).CountDocuments(ctx, bson.M{"orderId": orderID})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) findOrder(ctx context.Context, id string) (*domain.Order, error) {
	var doc orderDoc
	if err := s.col(colOrders).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return doc.toDomain()
}

func (s *Store) findProduct(ctx context.Context, id string) (*domain.Product, error) {
	var doc productDoc
	if err := s.col(colProducts).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return doc.toDomain()
}

func (s *Store) findSale(ctx context.Context, productID string, saleID string) (*domain.Sale, error) {
	var doc saleDoc
	if err := s.col(colSales).FindOne(ctx, bson.M{"_id": saleID, "productId": productID}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return doc.toDomain()
}

func (s *Store) findLedger(ctx context.Context, hash string) (*domain.BalanceTransaction, error) {
	var doc ledgerDoc
	if err := s.col(colLedger).FindOne(ctx, bson.M{"transactionHash": hash}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return doc.toDomain()
}

// applyOp executes one buffered write through the session context. now is
// only used where a server-side $currentDate cannot be expressed, i.e. inserts.
func (s *Store) applyOp(ctx context.Context, op store.Op, now time.Time) error {
	switch o := op.(type) {
	case store.IncrementQuantityOp:
		filter := bson.M{"_id": o.ProductID}
		if o.Delta < 0 {
			filter["quantity"] = bson.M{"$gte": -o.Delta}
		}
		res, err := s.col(colProducts).UpdateOne(ctx, filter, bson.M{
			"$inc":         bson.M{"quantity": o.Delta},
			"$currentDate": bson.M{"updatedAt": true},
		})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("%w: product %s missing or quantity would go negative", store.ErrInvalidInput, o.ProductID)
		}
		return nil
	case store.SetSizesOp:
		res, err := s.col(colProducts).UpdateOne(ctx, bson.M{"_id": o.ProductID}, bson.M{
			"$set":         bson.M{"sizes": toSizeDocs(o.Sizes)},
			"$currentDate": bson.M{"updatedAt": true},
		})
		if err != nil {
			return err
		}
		return matched(res, "product", o.ProductID)
	case store.CreateSaleOp:
		doc, err := newSaleDoc(o.Sale, now)
		if err != nil {
			return err
		}
		_, err = s.col(colSales).InsertOne(ctx, doc)
		return err
	case store.CreateBalanceTransactionOp:
		doc, err := newLedgerDoc(o.Entry, now)
		if err != nil {
			return err
		}
		_, err = s.col(colLedger).InsertOne(ctx, doc)
		return err
	case store.IncrementBalanceOp:
		var c decCodec
		inc := bson.M{"totalIncome": c.enc(o.Income), "realProfit": c.enc(o.Profit)}
		if c.err != nil {
			return c.err
		}
		_, err := s.col(colBalance).UpdateOne(ctx, bson.M{"_id": balanceDocID}, bson.M{
			"$inc":         inc,
			"$currentDate": bson.M{"updatedAt": true},
		}, options.Update().SetUpsert(true))
		return err
	case store.SetOrderStatusOp:
		res, err := s.col(colOrders).UpdateOne(ctx, bson.M{"_id": o.OrderID}, bson.M{
			"$set":         bson.M{"status": o.Status.String()},
			"$currentDate": bson.M{"decidedAt": true},
		})
		if err != nil {
			return err
		}
		return matched(res, "order", o.OrderID)
	case store.DeleteSaleOp:
		res, err := s.col(colSales).UpdateOne(ctx, bson.M{"_id": o.SaleID, "productId": o.ProductID}, bson.M{
			"$set":         bson.M{"deleted": true, "deleteReason": o.Reason},
			"$currentDate": bson.M{"deletedAt": true},
		})
		if err != nil {
			return err
		}
		return matched(res, "sale", o.SaleID)
	case store.DeleteBalanceTransactionOp:
		res, err := s.col(colLedger).UpdateOne(ctx, bson.M{"_id": o.ID}, bson.M{
			"$set":         bson.M{"deleted": true, "deleteReason": o.Reason},
			"$currentDate": bson.M{"deletedAt": true},
		})
		if err != nil {
			return err
		}
		return matched(res, "ledger line", o.ID)
	default:
		return fmt.Errorf("%w: unsupported op %T", store.ErrInvalidInput, op)
	}
}

func matched(res *driver.UpdateResult, kind string, id string) error {
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, driver.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}
