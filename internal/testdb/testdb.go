// Package testdb opens sqlite databases carrying the settlement schema for tests.
package testdb

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/escrow-settlement/pkg/db"
	"github.com/angelmondragon/escrow-settlement/pkg/db/models"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

var schema = []string{
	`CREATE TABLE sellers (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		balance INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE products (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		name TEXT NOT NULL,
		price INTEGER NOT NULL,
		stock INTEGER NOT NULL DEFAULT 0,
		sold INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE cart_items (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE payments (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL,
		total_amount INTEGER NOT NULL,
		paid_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		buyer_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		payment_id TEXT,
		subtotal INTEGER NOT NULL,
		shipping_fee INTEGER NOT NULL DEFAULT 0,
		discount INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL,
		shipping_address_id TEXT,
		status TEXT NOT NULL,
		cancel_reason TEXT,
		inventory_applied_at DATETIME,
		delivered_at DATETIME,
		completed_at DATETIME,
		cancelled_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE order_line_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		name TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price INTEGER NOT NULL,
		line_total INTEGER NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE payment_escrows (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		subtotal INTEGER NOT NULL,
		service_fee INTEGER NOT NULL,
		payment_fee INTEGER NOT NULL,
		escrow_amount INTEGER NOT NULL,
		status TEXT NOT NULL,
		hold_until DATETIME NOT NULL,
		released_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (payment_id, seller_id)
	)`,
	`CREATE TABLE payment_history (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount INTEGER NOT NULL,
		method TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		seller_id TEXT,
		note TEXT NOT NULL DEFAULT '',
		created_at DATETIME,
		UNIQUE (payment_id, transaction_id)
	)`,
	`CREATE TABLE notifications (
		id TEXT PRIMARY KEY,
		recipient_id TEXT NOT NULL,
		order_id TEXT,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		read_at DATETIME,
		created_at DATETIME
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json BLOB NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME
	)`,
}

// Open returns a private in-memory database with the schema applied. A
// single connection serializes transactions the way row locks would.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString()[:8])

	conn, err := gorm.Open(sqlite.Open(dsn), dbpkg.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}

// Client wraps Open in the db.Client used by services.
func Client(t testing.TB) (*dbpkg.Client, *gorm.DB) {
	conn := Open(t)
	return dbpkg.FromGorm(conn), conn
}

// SeedSeller inserts a seller with a zero balance.
func SeedSeller(t testing.TB, db *gorm.DB, name string) models.Seller {
	t.Helper()
	seller := models.Seller{ID: uuid.New(), OwnerID: uuid.New(), Name: name}
	if err := db.Create(&seller).Error; err != nil {
		t.Fatalf("seed seller: %v", err)
	}
	return seller
}

// SeedProduct inserts a product for seller.
func SeedProduct(t testing.TB, db *gorm.DB, sellerID uuid.UUID, price int64, stock int) models.Product {
	t.Helper()
	product := models.Product{ID: uuid.New(), SellerID: sellerID, Name: "product-" + uuid.NewString()[:6], Price: price, Stock: stock}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

// Settlement is a seeded payment with a single seller order and its escrow.
type Settlement struct {
	Seller  models.Seller
	Product models.Product
	Order   models.Order
	Payment models.Payment
	Escrow  models.PaymentEscrow
}

// SettlementOptions tune SeedSettlement.
type SettlementOptions struct {
	OrderStatus   enums.OrderStatus
	PaymentStatus enums.PaymentStatus
	EscrowStatus  enums.EscrowStatus
	Method        enums.PaymentMethod
	HoldUntil     time.Time
	Quantity      int
	UnitPrice     int64
	Stock         int
}

// SeedSettlement inserts seller, product, payment, order, line item and escrow
// rows the way checkout would have left them.
func SeedSettlement(t testing.TB, db *gorm.DB, opts SettlementOptions) Settlement {
	t.Helper()
	if opts.OrderStatus == "" {
		opts.OrderStatus = enums.OrderStatusDelivered
	}
	if opts.PaymentStatus == "" {
		opts.PaymentStatus = enums.PaymentStatusPaid
	}
	if opts.EscrowStatus == "" {
		opts.EscrowStatus = enums.EscrowStatusHold
	}
	if opts.Method == "" {
		opts.Method = enums.PaymentMethodVNPay
	}
	if opts.Quantity == 0 {
		opts.Quantity = 2
	}
	if opts.UnitPrice == 0 {
		opts.UnitPrice = 500000
	}
	if opts.Stock == 0 {
		opts.Stock = 10
	}
	if opts.HoldUntil.IsZero() {
		opts.HoldUntil = time.Now().UTC().Add(-time.Minute)
	}

	now := time.Now().UTC()
	seller := SeedSeller(t, db, "seller-"+uuid.NewString()[:6])
	product := SeedProduct(t, db, seller.ID, opts.UnitPrice, opts.Stock)
	buyerID := uuid.New()
	subtotal := opts.UnitPrice * int64(opts.Quantity)

	payment := models.Payment{
		ID:          uuid.New(),
		BuyerID:     buyerID,
		Method:      opts.Method,
		Status:      opts.PaymentStatus,
		TotalAmount: subtotal,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	order := models.Order{
		ID:        uuid.New(),
		Code:      "EC" + uuid.NewString()[:11],
		BuyerID:   buyerID,
		SellerID:  seller.ID,
		PaymentID: &payment.ID,
		Subtotal:  subtotal,
		Total:     subtotal,
		Status:    opts.OrderStatus,
		Items: []models.OrderLineItem{{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  opts.Quantity,
			UnitPrice: opts.UnitPrice,
			LineTotal: subtotal,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	serviceFee := subtotal * 79 / 1000
	paymentFee := subtotal * 2 / 100
	escrow := models.PaymentEscrow{
		ID:           uuid.New(),
		PaymentID:    payment.ID,
		SellerID:     seller.ID,
		OrderID:      order.ID,
		Subtotal:     subtotal,
		ServiceFee:   serviceFee,
		PaymentFee:   paymentFee,
		EscrowAmount: subtotal - serviceFee - paymentFee,
		Status:       opts.EscrowStatus,
		HoldUntil:    opts.HoldUntil,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := db.Create(&escrow).Error; err != nil {
		t.Fatalf("seed escrow: %v", err)
	}

	return Settlement{Seller: seller, Product: product, Order: order, Payment: payment, Escrow: escrow}
}
