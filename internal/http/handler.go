package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_storefront/domain"
	"github.com/fjod/go_storefront/internal/cart"
	"github.com/fjod/go_storefront/internal/checkout"
	"github.com/fjod/go_storefront/internal/guard"
	"github.com/fjod/go_storefront/internal/orders"
	"github.com/fjod/go_storefront/internal/store"
	"github.com/fjod/go_storefront/internal/vnpay"
	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
)

type Handler struct {
	cart    *cart.Service
	orch    *checkout.Orchestrator
	guard   *guard.Guard
	records *checkout.Records
	gateway *vnpay.Client
}

func NewHandler(cartSvc *cart.Service, orch *checkout.Orchestrator, g *guard.Guard, records *checkout.Records, gateway *vnpay.Client) *Handler {
	return &Handler{
		cart:    cartSvc,
		orch:    orch,
		guard:   g,
		records: records,
		gateway: gateway,
	}
}

type ErrorResponse struct {
	Error   string                `json:"error"`
	Code    string                `json:"code"`
	Reasons []checkout.FieldError `json:"reasons,omitempty"`
}

type AddCartItemRequestDTO struct {
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int32  `json:"quantity"`
	ImageRef    string `json:"image_ref,omitempty"`
	MaxQuantity int32  `json:"max_quantity,omitempty"`
}

// POST /api/v1/cart/items
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req AddCartItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "missing_product_id", "product_id is required")
		return
	}

	updated, err := h.cart.AddLine(r.Context(), userID, req.ProductID, req.Quantity, cart.AddDetails{
		Name:        req.Name,
		UnitPrice:   req.UnitPrice,
		ImageRef:    req.ImageRef,
		MaxQuantity: req.MaxQuantity,
	})
	if err != nil {
		log.Errorf("add cart item failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to update cart")
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

// GET /api/v1/cart
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	c, err := h.cart.Get(r.Context(), userID)
	if err != nil {
		log.Errorf("get cart failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to load cart")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

type UpdateQuantityRequestDTO struct {
	Quantity int32 `json:"quantity"`
}

// PUT /api/v1/cart/items/{productID}
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	updated, err := h.cart.SetQuantity(r.Context(), userID, chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		log.Errorf("update cart item failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to update cart")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// DELETE /api/v1/cart/items/{productID}
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	updated, err := h.cart.RemoveLine(r.Context(), userID, chi.URLParam(r, "productID"))
	if err != nil {
		log.Errorf("remove cart item failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to update cart")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// DELETE /api/v1/cart
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	if err := h.cart.Clear(r.Context(), userID); err != nil {
		log.Errorf("clear cart failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to clear cart")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type PlaceOrderRequestDTO struct {
	Shipping      domain.ShippingInfo `json:"shipping"`
	PaymentMethod string              `json:"payment_method"`
}

type PlaceOrderResponseDTO struct {
	Order       *domain.CompletedOrder `json:"order,omitempty"`
	RedirectURL string                 `json:"redirect_url,omitempty"`
}

// POST /api/v1/checkout
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req PlaceOrderRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	result, err := h.orch.PlaceOrder(r.Context(), userID, &req.Shipping, domain.PaymentMethod(req.PaymentMethod))
	if err != nil {
		handlePlaceOrderError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, PlaceOrderResponseDTO{
		Order:       result.Order,
		RedirectURL: result.RedirectURL,
	})
}

func handlePlaceOrderError(w http.ResponseWriter, err error) {
	var notReady *checkout.NotReadyError
	switch {
	case errors.As(err, &notReady):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "checkout is not ready",
			Code:    "not_ready",
			Reasons: notReady.Reasons,
		})
	case errors.Is(err, checkout.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "empty_cart", "cart is empty")
	case errors.Is(err, vnpay.ErrGatewayUnavailable):
		respondError(w, http.StatusBadGateway, "gateway_unavailable", "payment gateway is unavailable, please try again")
	case errors.Is(err, orders.ErrValidation):
		respondError(w, http.StatusBadRequest, "order_rejected", err.Error())
	case errors.Is(err, orders.ErrNetwork), errors.Is(err, orders.ErrServer):
		respondError(w, http.StatusBadGateway, "order_service_unavailable", "could not reach the order service, please retry")
	default:
		log.Errorf("place order failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to place order")
	}
}

type PaymentReturnResponseDTO struct {
	Status         string `json:"status"`
	Message        string `json:"message,omitempty"`
	BackendOrderID string `json:"backend_order_id,omitempty"`
	Replayed       bool   `json:"replayed"`
}

// GET /api/v1/payment/return
//
// The gateway redirects the browser here after payment. The same URL may
// be loaded many times; the guard makes that safe.
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	cb, err := h.gateway.ParseCallback(r.URL.Query())
	switch {
	case errors.Is(err, vnpay.ErrNotGatewayReturn):
		respondError(w, http.StatusBadRequest, "not_gateway_return", "missing gateway parameters")
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, "malformed_callback", err.Error())
		return
	}

	outcome, err := h.guard.HandleReturn(r.Context(), userID, getSessionID(r.Context()), cb)
	if err != nil {
		log.Errorf("callback handling failed for txn %s: %v", cb.TxnRef, err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to process payment result")
		return
	}

	respondJSON(w, http.StatusOK, PaymentReturnResponseDTO{
		Status:         outcome.Status.String(),
		Message:        outcome.Message,
		BackendOrderID: outcome.BackendOrderID,
		Replayed:       outcome.Replayed,
	})
}

// GET /api/v1/orders/last
func (h *Handler) GetLastOrder(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	order, err := h.records.LoadLast(r.Context(), userID)
	if errors.Is(err, store.ErrKeyNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "no completed order")
		return
	}
	if err != nil {
		log.Errorf("load last order failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to load order")
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Errorf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
