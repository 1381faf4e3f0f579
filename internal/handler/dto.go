package handler

import (
	"time"

	"github.com/hitoshi/packmart/internal/catalog"
	"github.com/hitoshi/packmart/internal/guard"
	"github.com/hitoshi/packmart/internal/model"
)

// userResponse はログイン中のユーザー情報のAPIレスポンス。
type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	CompanyName string `json:"company_name"`
	DisplayName string `json:"display_name"`
}

// sessionResponse は認証状態のAPIレスポンス。
type sessionResponse struct {
	Authenticated   bool          `json:"authenticated"`
	State           string        `json:"state"`
	User            *userResponse `json:"user,omitempty"`
	ExpiresAt       time.Time     `json:"expires_at,omitzero"`
	ProfileRequired bool          `json:"profile_required,omitempty"`
}

// authResultResponse はログイン・サインアップ成功時のAPIレスポンス。
type authResultResponse struct {
	sessionResponse
	RedirectTo        string `json:"redirect_to,omitempty"`
	NeedsVerification bool   `json:"needs_verification,omitempty"`
}

func toSessionResponse(sess *model.Session) sessionResponse {
	resp := sessionResponse{State: guard.StateOf(sess).String()}
	if sess == nil {
		return resp
	}
	resp.Authenticated = true
	resp.ExpiresAt = sess.ExpiresAt
	resp.User = &userResponse{
		ID:          sess.UserID(),
		Email:       sess.Identity.Email,
		Role:        string(sess.Role()),
		CompanyName: sess.Profile.CompanyName,
		DisplayName: sess.Profile.DisplayName(),
	}
	return resp
}

// productResponse は商品のAPIレスポンス。
type productResponse struct {
	ID           int64     `json:"id"`
	SupplierID   string    `json:"supplier_id"`
	SupplierName string    `json:"supplier_name,omitempty"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Price        float64   `json:"price"`
	Category     string    `json:"category"`
	ImageURL     string    `json:"image_url,omitempty"`
	MinOrderQty  int       `json:"min_order_qty"`
	Rating       float64   `json:"rating"`
	CreatedAt    time.Time `json:"created_at"`
}

func toProductResponse(p *model.Product) productResponse {
	return productResponse{
		ID:           p.ID,
		SupplierID:   p.SupplierID,
		SupplierName: p.SupplierName,
		Name:         p.Name,
		Description:  p.Description,
		Price:        p.Price,
		Category:     p.Category,
		ImageURL:     p.ImageURL,
		MinOrderQty:  p.MinOrderQty,
		Rating:       p.Rating,
		CreatedAt:    p.CreatedAt,
	}
}

func toProductResponses(products []model.Product) []productResponse {
	out := make([]productResponse, len(products))
	for i := range products {
		out[i] = toProductResponse(&products[i])
	}
	return out
}

// browseResponse は商品一覧のAPIレスポンス。
type browseResponse struct {
	Products   []productResponse  `json:"products"`
	Filter     catalog.Filter     `json:"filter"`
	Page       int                `json:"page"`
	Pagination catalog.Pagination `json:"pagination"`
}

func toBrowseResponse(res *catalog.BrowseResult) browseResponse {
	return browseResponse{
		Products:   toProductResponses(res.Products),
		Filter:     res.Filter,
		Page:       res.Page,
		Pagination: res.Pagination,
	}
}

// orderResponse は注文のAPIレスポンス。
type orderResponse struct {
	ID          int64     `json:"id"`
	BuyerID     string    `json:"buyer_id"`
	SupplierID  string    `json:"supplier_id"`
	ProductID   int64     `json:"product_id"`
	ProductName string    `json:"product_name,omitempty"`
	Total       float64   `json:"total"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func toOrderResponses(orders []model.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i, o := range orders {
		out[i] = orderResponse{
			ID:          o.ID,
			BuyerID:     o.BuyerID,
			SupplierID:  o.SupplierID,
			ProductID:   o.ProductID,
			ProductName: o.ProductName,
			Total:       o.Total,
			Status:      string(o.Status),
			CreatedAt:   o.CreatedAt,
		}
	}
	return out
}

// quoteResponse は見積依頼のAPIレスポンス。
type quoteResponse struct {
	ID          int64     `json:"id"`
	BuyerID     string    `json:"buyer_id"`
	SupplierID  string    `json:"supplier_id"`
	ProductID   int64     `json:"product_id"`
	ProductName string    `json:"product_name,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func toQuoteResponses(quotes []model.Quote) []quoteResponse {
	out := make([]quoteResponse, len(quotes))
	for i, q := range quotes {
		out[i] = quoteResponse{
			ID:          q.ID,
			BuyerID:     q.BuyerID,
			SupplierID:  q.SupplierID,
			ProductID:   q.ProductID,
			ProductName: q.ProductName,
			Status:      string(q.Status),
			CreatedAt:   q.CreatedAt,
		}
	}
	return out
}

// savedProductResponse は保存済み商品のAPIレスポンス。
type savedProductResponse struct {
	Product productResponse `json:"product"`
	SavedAt time.Time       `json:"saved_at"`
}

func toSavedProductResponses(saved []model.SavedProduct) []savedProductResponse {
	out := make([]savedProductResponse, len(saved))
	for i := range saved {
		out[i] = savedProductResponse{
			Product: toProductResponse(&saved[i].Product),
			SavedAt: saved[i].CreatedAt,
		}
	}
	return out
}

// messageResponse はメッセージのAPIレスポンス。
type messageResponse struct {
	ID         int64     `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

func toMessageResponse(m model.Message) messageResponse {
	return messageResponse{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}

func toMessageResponses(messages []model.Message) []messageResponse {
	out := make([]messageResponse, len(messages))
	for i, m := range messages {
		out[i] = toMessageResponse(m)
	}
	return out
}

// participantResponse は会話相手のAPIレスポンス。
type participantResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	CompanyName string `json:"company_name"`
	DisplayName string `json:"display_name"`
}

// conversationResponse は会話一覧の1件。
type conversationResponse struct {
	Participant     participantResponse `json:"participant"`
	LastMessage     string              `json:"last_message"`
	LastMessageTime time.Time           `json:"last_message_time"`
}

func toConversationResponses(convs []model.Conversation) []conversationResponse {
	out := make([]conversationResponse, len(convs))
	for i := range convs {
		p := &convs[i].Participant
		out[i] = conversationResponse{
			Participant: participantResponse{
				ID:          p.ID,
				Email:       p.Email,
				Role:        string(p.Role),
				CompanyName: p.CompanyName,
				DisplayName: p.DisplayName(),
			},
			LastMessage:     convs[i].LastMessage,
			LastMessageTime: convs[i].LastMessageTime,
		}
	}
	return out
}
