package mongo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"butik/backend/internal/domain"
)

const (
	colProducts   = "products"
	colOrders     = "orders"
	colSales      = "sales"
	colBalance    = "balance"
	colLedger     = "balanceTransactions"
	colAuditLogs  = "auditLogs"
	colUsers      = "users"
	balanceDocID  = "balance"
	pendingStatus = "pending"
	defaultLimit  = 100
)

type sizeDoc struct {
	Size     string `bson:"size"`
	Quantity int    `bson:"quantity"`
}

type productDoc struct {
	ID                 string                `bson:"_id"`
	Name               string                `bson:"name"`
	Quantity           int                   `bson:"quantity"`
	Sizes              []sizeDoc             `bson:"sizes"`
	PurchasePrice      primitive.Decimal128  `bson:"purchasePrice"`
	OriginalPrice      *primitive.Decimal128 `bson:"originalPrice,omitempty"`
	DiscountPercentage *primitive.Decimal128 `bson:"discountPercentage,omitempty"`
	DiscountedPrice    *primitive.Decimal128 `bson:"discountedPrice,omitempty"`
	UpdatedAt          time.Time             `bson:"updatedAt"`
}

type orderItemDoc struct {
	ProductID    string               `bson:"productId"`
	Name         string               `bson:"name"`
	Price        primitive.Decimal128 `bson:"price"`
	Quantity     int                  `bson:"quantity"`
	SelectedSize *string              `bson:"selectedSize,omitempty"`
}

type orderDoc struct {
	ID        string               `bson:"_id"`
	UserID    string               `bson:"userId"`
	Items     []orderItemDoc       `bson:"items"`
	Total     primitive.Decimal128 `bson:"total"`
	Status    string               `bson:"status"`
	CreatedAt time.Time            `bson:"createdAt"`
	DecidedAt *time.Time           `bson:"decidedAt,omitempty"`
}

type saleDoc struct {
	ID              string               `bson:"_id"`
	ProductID       string               `bson:"productId"`
	Name            string               `bson:"name"`
	SelledAt        time.Time            `bson:"selledAt"`
	Quantity        int                  `bson:"quantity"`
	SellingPrice    primitive.Decimal128 `bson:"sellingPrice"`
	PurchasePrice   primitive.Decimal128 `bson:"purchasePrice"`
	TotalIncome     primitive.Decimal128 `bson:"totalIncome"`
	TotalProfit     primitive.Decimal128 `bson:"totalProfit"`
	Size            *string              `bson:"size,omitempty"`
	TransactionHash string               `bson:"transactionHash"`
	OrderID         *string              `bson:"orderId,omitempty"`
	Deleted         bool                 `bson:"deleted"`
	DeleteReason    string               `bson:"deleteReason,omitempty"`
	DeletedAt       *time.Time           `bson:"deletedAt,omitempty"`
}

type ledgerDoc struct {
	ID              string               `bson:"_id"`
	ProductID       string               `bson:"productId"`
	Name            string               `bson:"name"`
	Quantity        int                  `bson:"quantity"`
	Size            *string              `bson:"size,omitempty"`
	SellingPrice    primitive.Decimal128 `bson:"sellingPrice"`
	PurchasePrice   primitive.Decimal128 `bson:"purchasePrice"`
	TotalIncome     primitive.Decimal128 `bson:"totalIncome"`
	RealProfit      primitive.Decimal128 `bson:"realProfit"`
	SaleID          string               `bson:"saleId"`
	TransactionHash string               `bson:"transactionHash"`
	OrderID         *string              `bson:"orderId,omitempty"`
	CreatedAt       time.Time            `bson:"createdAt"`
	Deleted         bool                 `bson:"deleted"`
	DeleteReason    string               `bson:"deleteReason,omitempty"`
	DeletedAt       *time.Time           `bson:"deletedAt,omitempty"`
}

type balanceDoc struct {
	ID          string               `bson:"_id"`
	TotalIncome primitive.Decimal128 `bson:"totalIncome"`
	RealProfit  primitive.Decimal128 `bson:"realProfit"`
	UpdatedAt   *time.Time           `bson:"updatedAt,omitempty"`
}

type auditDoc struct {
	ID            string    `bson:"_id"`
	ActorUsername string    `bson:"actorUsername"`
	ActorRole     string    `bson:"actorRole"`
	Action        string    `bson:"action"`
	EntityType    string    `bson:"entityType"`
	EntityID      string    `bson:"entityId"`
	Detail        string    `bson:"detail"`
	CreatedAt     time.Time `bson:"createdAt"`
}

type userDoc struct {
	Username  string    `bson:"_id"`
	Password  string    `bson:"password"`
	Role      string    `bson:"role"`
	Active    bool      `bson:"active"`
	CreatedAt time.Time `bson:"createdAt"`
}

// decCodec converts between decimal.Decimal and Decimal128, keeping the first
// failure so a whole document can be converted before checking.
type decCodec struct {
	err error
}

func (c *decCodec) enc(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil && c.err == nil {
		c.err = fmt.Errorf("encode decimal %s: %w", d.String(), err)
	}
	return v
}

func (c *decCodec) encPtr(d *decimal.Decimal) *primitive.Decimal128 {
	if d == nil {
		return nil
	}
	v := c.enc(*d)
	return &v
}

func (c *decCodec) dec(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		if c.err == nil {
			c.err = fmt.Errorf("decode decimal %s: %w", v.String(), err)
		}
		return decimal.Zero
	}
	return d
}

func (c *decCodec) decPtr(v *primitive.Decimal128) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := c.dec(*v)
	return &d
}

func toSizeDocs(sizes []domain.SizeStock) []sizeDoc {
	out := make([]sizeDoc, 0, len(sizes))
	for _, s := range sizes {
		out = append(out, sizeDoc{Size: s.Size, Quantity: s.Quantity})
	}
	return out
}

func fromSizeDocs(docs []sizeDoc) []domain.SizeStock {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.SizeStock, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.SizeStock{Size: d.Size, Quantity: d.Quantity})
	}
	return out
}

func newProductDoc(p domain.Product) (productDoc, error) {
	var c decCodec
	doc := productDoc{
		ID:                 p.ID,
		Name:               p.Name,
		Quantity:           p.Quantity,
		Sizes:              toSizeDocs(p.Sizes),
		PurchasePrice:      c.enc(p.PurchasePrice),
		OriginalPrice:      c.encPtr(p.OriginalPrice),
		DiscountPercentage: c.encPtr(p.DiscountPercentage),
		DiscountedPrice:    c.encPtr(p.DiscountedPrice),
		UpdatedAt:          p.UpdatedAt,
	}
	return doc, c.err
}

func (d productDoc) toDomain() (*domain.Product, error) {
	var c decCodec
	p := &domain.Product{
		ID:            d.ID,
		Name:          d.Name,
		Quantity:      d.Quantity,
		Sizes:         fromSizeDocs(d.Sizes),
		PurchasePrice: c.dec(d.PurchasePrice),
		Pricing: domain.Pricing{
			OriginalPrice:      c.decPtr(d.OriginalPrice),
			DiscountPercentage: c.decPtr(d.DiscountPercentage),
			DiscountedPrice:    c.decPtr(d.DiscountedPrice),
		},
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	return p, c.err
}

func newOrderDoc(o domain.Order) (orderDoc, error) {
	var c decCodec
	items := make([]orderItemDoc, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemDoc{
			ProductID:    item.ProductID,
			Name:         item.Name,
			Price:        c.enc(item.Price),
			Quantity:     item.Quantity,
			SelectedSize: item.SelectedSize,
		})
	}
	doc := orderDoc{
		ID:        o.ID,
		UserID:    o.UserID,
		Items:     items,
		Total:     c.enc(o.Total),
		Status:    o.Status.String(),
		CreatedAt: o.CreatedAt,
		DecidedAt: o.DecidedAt,
	}
	return doc, c.err
}

func (d orderDoc) toDomain() (*domain.Order, error) {
	var c decCodec
	status, err := domain.ParseOrderStatus(d.Status)
	if err != nil {
		return nil, err
	}
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderItem{
			ProductID:    item.ProductID,
			Name:         item.Name,
			Price:        c.dec(item.Price),
			Quantity:     item.Quantity,
			SelectedSize: item.SelectedSize,
		})
	}
	o := &domain.Order{
		ID:        d.ID,
		UserID:    d.UserID,
		Items:     items,
		Total:     c.dec(d.Total),
		Status:    status,
		CreatedAt: d.CreatedAt.UTC(),
		DecidedAt: utcPtr(d.DecidedAt),
	}
	return o, c.err
}

func newSaleDoc(s domain.Sale, now time.Time) (saleDoc, error) {
	var c decCodec
	doc := saleDoc{
		ID:              s.ID,
		ProductID:       s.ProductID,
		Name:            s.Name,
		SelledAt:        now,
		Quantity:        s.Quantity,
		SellingPrice:    c.enc(s.SellingPrice),
		PurchasePrice:   c.enc(s.PurchasePrice),
		TotalIncome:     c.enc(s.TotalIncome),
		TotalProfit:     c.enc(s.TotalProfit),
		Size:            s.Size,
		TransactionHash: s.TransactionHash,
		OrderID:         s.OrderID,
	}
	return doc, c.err
}

func (d saleDoc) toDomain() (*domain.Sale, error) {
	var c decCodec
	s := &domain.Sale{
		ID:              d.ID,
		ProductID:       d.ProductID,
		Name:            d.Name,
		SelledAt:        d.SelledAt.UTC(),
		Quantity:        d.Quantity,
		SellingPrice:    c.dec(d.SellingPrice),
		PurchasePrice:   c.dec(d.PurchasePrice),
		TotalIncome:     c.dec(d.TotalIncome),
		TotalProfit:     c.dec(d.TotalProfit),
		Size:            d.Size,
		TransactionHash: d.TransactionHash,
		OrderID:         d.OrderID,
		Deleted:         d.Deleted,
		DeleteReason:    d.DeleteReason,
		DeletedAt:       utcPtr(d.DeletedAt),
	}
	return s, c.err
}

func newLedgerDoc(e domain.BalanceTransaction, now time.Time) (ledgerDoc, error) {
	var c decCodec
	doc := ledgerDoc{
		ID:              e.ID,
		ProductID:       e.ProductID,
		Name:            e.Name,
		Quantity:        e.Quantity,
		Size:            e.Size,
		SellingPrice:    c.enc(e.SellingPrice),
		PurchasePrice:   c.enc(e.PurchasePrice),
		TotalIncome:     c.enc(e.TotalIncome),
		RealProfit:      c.enc(e.RealProfit),
		SaleID:          e.SaleID,
		TransactionHash: e.TransactionHash,
		OrderID:         e.OrderID,
		CreatedAt:       now,
	}
	return doc, c.err
}

func (d ledgerDoc) toDomain() (*domain.BalanceTransaction, error) {
	var c decCodec
	e := &domain.BalanceTransaction{
		ID:              d.ID,
		ProductID:       d.ProductID,
		Name:            d.Name,
		Quantity:        d.Quantity,
		Size:            d.Size,
		SellingPrice:    c.dec(d.SellingPrice),
		PurchasePrice:   c.dec(d.PurchasePrice),
		TotalIncome:     c.dec(d.TotalIncome),
		RealProfit:      c.dec(d.RealProfit),
		SaleID:          d.SaleID,
		TransactionHash: d.TransactionHash,
		OrderID:         d.OrderID,
		CreatedAt:       d.CreatedAt.UTC(),
		Deleted:         d.Deleted,
		DeleteReason:    d.DeleteReason,
		DeletedAt:       utcPtr(d.DeletedAt),
	}
	return e, c.err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
