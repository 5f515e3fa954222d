package backend

import (
	"time"

	"github.com/SaifulET/ciger-storefront/internal/domain"
	"github.com/SaifulET/ciger-storefront/internal/pricing"
)

type productDTO struct {
	ID     string   `json:"_id"`
	Name   string   `json:"name"`
	Price  float64  `json:"price"`
	Stock  int      `json:"stock"`
	Images []string `json:"images"`
	Brand  string   `json:"brand"`
}

func (p productDTO) toDomain() domain.Product {
	out := domain.Product{
		ID:    p.ID,
		Name:  p.Name,
		Price: p.Price,
		Stock: p.Stock,
		Brand: p.Brand,
	}
	if len(p.Images) > 0 {
		out.Image = p.Images[0]
	}
	return out
}

type cartLineDTO struct {
	ID        string     `json:"_id"`
	UserID    string     `json:"userId"`
	Product   productDTO `json:"productId"`
	Quantity  int        `json:"quantity"`
	IsCheck   bool       `json:"isCheck"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (l cartLineDTO) toDomain() domain.CartLine {
	product := l.Product.toDomain()
	return domain.CartLine{
		ID:        l.ID,
		Product:   product,
		Quantity:  l.Quantity,
		Total:     pricing.LineTotal(product.Price, l.Quantity),
		Selected:  l.IsCheck,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
}

func toDomainLines(dtos []cartLineDTO) []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(dtos))
	for _, d := range dtos {
		lines = append(lines, d.toDomain())
	}
	return lines
}

// TaxRequest is the address and amounts the tax service needs.
type TaxRequest struct {
	Country  string  `json:"country"`
	Zip      string  `json:"zip"`
	State    string  `json:"state"`
	City     string  `json:"city"`
	Street   string  `json:"street"`
	Subtotal float64 `json:"subtotal"`
	Shipping float64 `json:"shipping"`
}

type TaxQuote struct {
	Tax  float64 `json:"tax"`
	Rate float64 `json:"rate"`
}

type Discount struct {
	Code       string  `json:"code"`
	Percentage float64 `json:"percentage"`
}

type ServicePricing struct {
	FreeShippingThreshold float64 `json:"freeShippingThreshold"`
	ShippingFee           float64 `json:"shippingFee"`
}

type Customer struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	Apartment string `json:"apartment,omitempty"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
	Country   string `json:"country"`
}

// PaymentRequest submits the order together with the opaque payment token.
type PaymentRequest struct {
	Token        string   `json:"payment_token"`
	UserID       string   `json:"userId,omitempty"`
	GuestID      string   `json:"guestId,omitempty"`
	CartIDs      []string `json:"cartIds"`
	Customer     Customer `json:"customer"`
	Subtotal     float64  `json:"subTotal"`
	Shipping     float64  `json:"shippingCost"`
	Tax          float64  `json:"tax"`
	Discount     float64  `json:"discount"`
	DiscountCode string   `json:"discountCode,omitempty"`
	Total        float64  `json:"amount"`
}

type PaymentResult struct {
	Success       bool   `json:"success"`
	OrderID       string `json:"orderId"`
	TransactionID string `json:"transactionId"`
	Message       string `json:"message"`
}

type OrderConfirmation struct {
	Email   string  `json:"email"`
	OrderID string  `json:"orderId"`
	Name    string  `json:"name"`
	Total   float64 `json:"total"`
}

type CheckoutFailure struct {
	UserID  string   `json:"userId,omitempty"`
	GuestID string   `json:"guestId,omitempty"`
	CartIDs []string `json:"cartIds"`
	Reason  string   `json:"reason"`
}

type Brand struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

type Blog struct {
	ID        string    `json:"_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Image     string    `json:"image"`
	CreatedAt time.Time `json:"createdAt"`
}

type Review struct {
	ID        string    `json:"_id"`
	ProductID string    `json:"productId"`
	UserName  string    `json:"userName"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
}

type CarouselImage struct {
	ID    string `json:"_id"`
	Image string `json:"image"`
	Link  string `json:"link"`
}

type Notification struct {
	ID        string    `json:"_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

type OrderItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type Order struct {
	ID        string      `json:"_id"`
	Items     []OrderItem `json:"items"`
	Total     float64     `json:"total"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}
