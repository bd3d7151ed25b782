package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_storefront/domain"
	"github.com/fjod/go_storefront/internal/store"
)

// Records owns the pending-order and last-order key namespaces in the
// cross-session store. At most one pending order exists per user.
type Records struct {
	kv store.KVStore
}

func NewRecords(kv store.KVStore) *Records {
	return &Records{kv: kv}
}

func pendingKey(userID int64) string {
	return fmt.Sprintf("user:%d:pendingOrder", userID)
}

func lastOrderKey(userID int64) string {
	return fmt.Sprintf("user:%d:lastOrder", userID)
}

func (r *Records) SavePending(ctx context.Context, userID int64, pending *domain.PendingOrder) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal pending order failed: %w", err)
	}
	if err2 := r.kv.Set(ctx, pendingKey(userID), data); err2 != nil {
		return fmt.Errorf("failed to persist pending order: %w", err2)
	}
	return nil
}

func (r *Records) LoadPending(ctx context.Context, userID int64) (*domain.PendingOrder, error) {
	data, err := r.kv.Get(ctx, pendingKey(userID))
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, ErrNoPendingOrder
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending order: %w", err)
	}

	var pending domain.PendingOrder
	if err2 := json.Unmarshal(data, &pending); err2 != nil {
		return nil, fmt.Errorf("unmarshal pending order failed: %w", err2)
	}
	return &pending, nil
}

func (r *Records) DeletePending(ctx context.Context, userID int64) error {
	return r.kv.Delete(ctx, pendingKey(userID))
}

func (r *Records) SaveCompleted(ctx context.Context, userID int64, order *domain.CompletedOrder) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal completed order failed: %w", err)
	}
	if err2 := r.kv.Set(ctx, lastOrderKey(userID), data); err2 != nil {
		return fmt.Errorf("failed to persist completed order: %w", err2)
	}
	return nil
}

func (r *Records) LoadLast(ctx context.Context, userID int64) (*domain.CompletedOrder, error) {
	data, err := r.kv.Get(ctx, lastOrderKey(userID))
	if err != nil {
		return nil, err
	}

	var order domain.CompletedOrder
	if err2 := json.Unmarshal(data, &order); err2 != nil {
		return nil, fmt.Errorf("unmarshal completed order failed: %w", err2)
	}
	return &order, nil
}
