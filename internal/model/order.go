package model

import "time"

// OrderStatus は注文の状態を表す。
type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusShipped    OrderStatus = "Shipped"
	OrderStatusDelivered  OrderStatus = "Delivered"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

// Order はバイヤーからサプライヤーへの注文を表す。
type Order struct {
	ID         int64
	BuyerID    string
	SupplierID string
	ProductID  int64
	Total      float64
	Status     OrderStatus
	CreatedAt  time.Time

	// ProductName は products.name を結合した値。
	ProductName string
}

// QuoteStatus は見積依頼の状態を表す。
type QuoteStatus string

const (
	QuoteStatusPending          QuoteStatus = "Pending"
	QuoteStatusResponseReceived QuoteStatus = "Response Received"
	QuoteStatusAccepted         QuoteStatus = "Accepted"
	QuoteStatusExpired          QuoteStatus = "Expired"
)

// Quote はバイヤーの見積依頼を表す。
type Quote struct {
	ID          int64
	BuyerID     string
	SupplierID  string
	ProductID   int64
	Status      QuoteStatus
	CreatedAt   time.Time
	ProductName string
}
