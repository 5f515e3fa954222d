package domain

import "time"

// Product is the catalog data copied into a cart line when it is added.
// It is not kept in sync with the catalog; only a full cart reload refreshes it.
type Product struct {
	ID    string  `json:"id" bson:"id"`
	Name  string  `json:"name" bson:"name"`
	Price float64 `json:"price" bson:"price"`
	Stock int     `json:"stock" bson:"stock"`
	Image string  `json:"image" bson:"image"`
	Brand string  `json:"brand" bson:"brand"`
}

// CartLine is one product's presence in a cart. Quantity is always >= 1.
type CartLine struct {
	ID        string    `json:"id" bson:"id"`
	Product   Product   `json:"product" bson:"product"`
	Quantity  int       `json:"quantity" bson:"quantity"`
	Total     float64   `json:"total" bson:"total"`
	Selected  bool      `json:"selected" bson:"selected"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// MergeResult reports what happened to a single guest line during a guest to user merge.
type MergeResult struct {
	LineID    string `json:"line_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Merged    bool   `json:"merged"`
	Error     string `json:"error,omitempty"`
}

// MergeOutcome is the user's cart after a merge plus the per-line results.
type MergeOutcome struct {
	Lines   []CartLine    `json:"lines"`
	Results []MergeResult `json:"results"`
}
