// Package persist keeps the per-session client state (cart, checkout form, user profile)
// under named stores. Only allow-listed top-level fields of each store are written.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type Name string

const (
	CartStorage  Name = "cart-storage"
	OrderStorage Name = "order-storage"
	UserStore    Name = "user-store"
)

var (
	ErrNotFound     = errors.New("persisted state not found")
	ErrUnknownStore = errors.New("unknown store")
)

// Store is implemented by the Redis, Mongo and in-memory backends.
type Store interface {
	Load(ctx context.Context, name Name, session string, v any) error
	Save(ctx context.Context, name Name, session string, v any) error
	Delete(ctx context.Context, name Name, session string) error
}

var allowList = map[Name][]string{
	CartStorage:  {"items"},
	OrderStorage: {"form", "discount_code", "age_verified"},
	UserStore:    {"user_id", "guest_id", "email", "first_name", "last_name"},
}

// partialize marshals v and drops every top-level field not on the store's allow-list.
func partialize(name Name, v any) ([]byte, error) {
	allowed, ok := allowList[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, name)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s failed: %w", name, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%s state must be a JSON object: %w", name, err)
	}

	kept := make(map[string]json.RawMessage, len(allowed))
	for _, k := range allowed {
		if f, ok := fields[k]; ok {
			kept[k] = f
		}
	}
	return json.Marshal(kept)
}

func key(name Name, session string) string {
	return fmt.Sprintf("%s:%s", name, session)
}

func unmarshal(name Name, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s failed: %w", name, err)
	}
	return nil
}
