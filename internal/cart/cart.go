package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_storefront/domain"
	"github.com/fjod/go_storefront/internal/store"
)

// DefaultMaxQuantity is the per-line ceiling applied when the caller does
// not supply one.
const DefaultMaxQuantity = 999

// Service owns the cart key namespace in the cross-session store.
// Every mutation is written through before returning, so a process restart
// rehydrates the same cart.
type Service struct {
	kv store.KVStore
}

func NewService(kv store.KVStore) *Service {
	return &Service{kv: kv}
}

// AddDetails carries the per-product attributes needed when a line is
// first created, plus the quantity ceiling.
type AddDetails struct {
	Name        string
	UnitPrice   int64
	ImageRef    string
	MaxQuantity int32
}

func cartKey(userID int64) string {
	return fmt.Sprintf("user:%d:cart", userID)
}

// Get loads the user's cart, returning an empty cart if none is stored.
func (s *Service) Get(ctx context.Context, userID int64) (*domain.Cart, error) {
	data, err := s.kv.Get(ctx, cartKey(userID))
	if errors.Is(err, store.ErrKeyNotFound) {
		return &domain.Cart{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	var cart domain.Cart
	if err2 := json.Unmarshal(data, &cart); err2 != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err2)
	}
	return &cart, nil
}

// AddLine adds quantity of a product to the cart. If a line already exists
// the quantity is added on top and clamped to the ceiling; the existing
// quantity is never reduced. Invalid quantities are coerced, not rejected.
func (s *Service) AddLine(ctx context.Context, userID int64, productID string, quantity int32, details AddDetails) (*domain.Cart, error) {
	cart, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if quantity < 1 {
		quantity = 1
	}
	maxQuantity := details.MaxQuantity
	if maxQuantity < 1 {
		maxQuantity = DefaultMaxQuantity
	}

	if line := cart.Line(productID); line != nil {
		next := line.Quantity + quantity
		if next > maxQuantity {
			next = maxQuantity
		}
		// Clamp must never shrink what is already in the cart.
		if next > line.Quantity {
			line.Quantity = next
		}
	} else {
		if quantity > maxQuantity {
			quantity = maxQuantity
		}
		cart.Lines = append(cart.Lines, domain.CartLine{
			ProductID: productID,
			Name:      details.Name,
			UnitPrice: details.UnitPrice,
			Quantity:  quantity,
			ImageRef:  details.ImageRef,
		})
	}

	return cart, s.save(ctx, userID, cart)
}

// SetQuantity replaces a line's quantity. Zero or negative removes the line.
func (s *Service) SetQuantity(ctx context.Context, userID int64, productID string, quantity int32) (*domain.Cart, error) {
	if quantity <= 0 {
		return s.RemoveLine(ctx, userID, productID)
	}

	cart, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if line := cart.Line(productID); line != nil {
		line.Quantity = quantity
	}
	return cart, s.save(ctx, userID, cart)
}

func (s *Service) RemoveLine(ctx context.Context, userID int64, productID string) (*domain.Cart, error) {
	cart, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	for i, line := range cart.Lines {
		if line.ProductID == productID {
			cart.Lines = append(cart.Lines[:i], cart.Lines[i+1:]...)
			break
		}
	}
	return cart, s.save(ctx, userID, cart)
}

func (s *Service) Clear(ctx context.Context, userID int64) error {
	if err := s.kv.Delete(ctx, cartKey(userID)); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

// save recalculates the derived fields and mirrors the cart to the store.
// This is the only write path for Total and LineCount.
func (s *Service) save(ctx context.Context, userID int64, cart *domain.Cart) error {
	cart.Recalculate()

	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	if err2 := s.kv.Set(ctx, cartKey(userID), data); err2 != nil {
		return fmt.Errorf("failed to persist cart: %w", err2)
	}
	return nil
}
