package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	kafkax "github.com/ariefcatur/go-order-placement.git/internal/kafka"
	"github.com/ariefcatur/go-order-placement.git/internal/orders"
	"github.com/ariefcatur/go-order-placement.git/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

type OrdersHandler struct {
	Svc       *orders.Service
	Redis     *redis.Client
	Placed    *kafkax.Producer // order.placed
	Cancelled *kafkax.Producer // order.cancelled
	Statuses  *kafkax.Producer // order.status.changed
	Service   string
}

type itemReq struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type placeOrderReq struct {
	UserID          string    `json:"user_id"`
	Items           []itemReq `json:"items"`
	DeliveryAddress string    `json:"delivery_address"`
	PaymentMethod   string    `json:"payment_method"`
	Notes           string    `json:"notes"`
}

type placeOrderResp struct {
	OrderID string `json:"order_id"`
	Total   string `json:"total"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.placeOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Patch("/orders/{id}/status", h.updateStatus)
	r.Patch("/orders/{id}/payment", h.updatePayment)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Get("/products", h.listProducts)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusForErr maps the core's typed failures onto HTTP. Conflicts that
// the client can retry get a 503 + Retry-After; business rejections a 409.
func statusForErr(err error) int {
	var (
		ve  *orders.ValidationError
		pna *orders.ProductNotAvailableError
		ins *orders.InsufficientStockError
		ist *orders.InvalidStateTransitionError
		cc  *orders.ConcurrencyConflictError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.As(err, &pna), errors.As(err, &ins), errors.As(err, &ist):
		return http.StatusConflict
	case errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrForbidden):
		return http.StatusForbidden
	case errors.As(err, &cc):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	code := statusForErr(err)
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	cart := make(orders.Cart, len(req.Items))
	for _, it := range req.Items {
		if _, dup := cart[it.ProductID]; dup {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "duplicate product " + it.ProductID})
			return
		}
		cart[it.ProductID] = it.Qty
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orderID, total, err := h.Svc.PlaceOrder(ctx, req.UserID, cart, req.DeliveryAddress, req.PaymentMethod, req.Notes)
	if err != nil {
		writeErr(w, err)
		return
	}

	// warm the status cache so GETs right after placement skip the DB
	h.cacheStatus(ctx, orderID, orders.StatusPending, orders.PaymentPending)

	o, err := h.Svc.GetOrder(ctx, orderID)
	if err == nil {
		h.publishPlaced(r, o)
	}

	writeJSON(w, http.StatusCreated, placeOrderResp{OrderID: orderID, Total: total.StringFixed(2)})
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req struct {
		RequesterID string `json:"requester_id"`
	}
	// body is optional; absent requester means an admin-side cancel
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Svc.CancelOrder(ctx, orderID, req.RequesterID); err != nil {
		writeErr(w, err)
		return
	}
	h.cacheStatus(ctx, orderID, orders.StatusCancelled, "")
	h.publishCancelled(r, orderID, req.RequesterID)
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "status": string(orders.StatusCancelled)})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req struct {
		Status orders.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Svc.UpdateOrderStatus(ctx, orderID, req.Status); err != nil {
		writeErr(w, err)
		return
	}
	h.cacheStatus(ctx, orderID, req.Status, "")
	h.publishStatusChanged(r, orderID, string(req.Status))
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "status": string(req.Status)})
}

func (h *OrdersHandler) updatePayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req struct {
		PaymentStatus orders.PaymentStatus `json:"payment_status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Svc.UpdatePaymentStatus(ctx, orderID, req.PaymentStatus); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "payment_status": string(req.PaymentStatus)})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Svc.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cache first, DB as fallback
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	o, err := h.Svc.GetOrder(ctx, orderID)
	if err != nil {
		writeErr(w, err)
		return
	}
	b, _ := json.Marshal(map[string]string{
		"status":         string(o.Status),
		"payment_status": string(o.PaymentStatus),
	})
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Svc.ListProducts(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, orderID string, st orders.Status, ps orders.PaymentStatus) {
	body := map[string]string{"status": string(st)}
	if ps != "" {
		body["payment_status"] = string(ps)
	}
	b, _ := json.Marshal(body)
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
}

func (h *OrdersHandler) envelope(r *http.Request, eventType, orderID string, payload any) []byte {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: orderID,
	}
	ev.Payload = kafkax.MustMarshal(payload)
	return kafkax.MustMarshal(ev)
}

func eventHeaders(eventType string) []kafkago.Header {
	return []kafkago.Header{
		{Key: "x-event-type", Value: []byte(eventType)},
		{Key: "x-event-version", Value: []byte("1")},
	}
}

func (h *OrdersHandler) publishPlaced(r *http.Request, o orders.Order) {
	items := make([]orders.ItemLine, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orders.ItemLine{
			ProductID: it.ProductID,
			Qty:       it.Qty,
			UnitPrice: it.UnitPrice.StringFixed(2),
			Subtotal:  it.Subtotal.StringFixed(2),
		})
	}
	value := h.envelope(r, orders.EventOrderPlaced, o.ID, orders.OrderPlacedPayload{
		OrderID: o.ID,
		UserID:  o.UserID,
		Items:   items,
		Total:   o.Total.StringFixed(2),
	})
	h.Placed.Publish(orders.PartitionKey(o.ID), value, eventHeaders(orders.EventOrderPlaced)...)
}

func (h *OrdersHandler) publishCancelled(r *http.Request, orderID, userID string) {
	value := h.envelope(r, orders.EventOrderCancelled, orderID, orders.OrderCancelledPayload{
		OrderID: orderID,
		UserID:  userID,
	})
	h.Cancelled.Publish(orders.PartitionKey(orderID), value, eventHeaders(orders.EventOrderCancelled)...)
}

func (h *OrdersHandler) publishStatusChanged(r *http.Request, orderID, status string) {
	value := h.envelope(r, orders.EventOrderStatusChanged, orderID, orders.OrderStatusChangedPayload{
		OrderID: orderID,
		Status:  status,
	})
	h.Statuses.Publish(orders.PartitionKey(orderID), value, eventHeaders(orders.EventOrderStatusChanged)...)
}
