package ledger

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/papertrade/papertrade-api/internal/market"
	"github.com/papertrade/papertrade-api/internal/types"
	"github.com/papertrade/papertrade-api/internal/valuation"
	"github.com/papertrade/papertrade-api/pkg/middleware"
	"github.com/papertrade/papertrade-api/pkg/response"
)

// API error codes for ledger operations. These are stable identifiers
// clients can match on; messages are free to change.
const (
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeUnknownMarket        = "UNKNOWN_MARKET"
	ErrCodeInvalidQuantity      = "INVALID_QUANTITY"
	ErrCodePriceUnavailable     = "PRICE_UNAVAILABLE"
	ErrCodeInsufficientFunds    = "INSUFFICIENT_FUNDS"
	ErrCodeBalanceNotFound      = "BALANCE_NOT_FOUND"
	ErrCodeInsufficientPosition = "INSUFFICIENT_POSITION"
	ErrCodeNotCancellable       = "NOT_CANCELLABLE"
)

// respond maps ledger errors to their API codes before handing anything
// unrecognized to the generic response layer.
func respond(c *gin.Context, data interface{}, err error) {
	switch {
	case err == nil:
		response.Handle(c, data, nil)
	case errors.Is(err, ErrInvalidRequest):
		response.Fail(c, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	case errors.Is(err, market.ErrUnknownMarket):
		response.Fail(c, http.StatusBadRequest, ErrCodeUnknownMarket, err.Error())
	case errors.Is(err, ErrInvalidQuantity):
		response.Fail(c, http.StatusBadRequest, ErrCodeInvalidQuantity, err.Error())
	case errors.Is(err, ErrPriceUnavailable):
		response.Fail(c, http.StatusServiceUnavailable, ErrCodePriceUnavailable, err.Error())
	case errors.Is(err, ErrInsufficientFunds):
		response.Fail(c, http.StatusUnprocessableEntity, ErrCodeInsufficientFunds, err.Error())
	case errors.Is(err, ErrBalanceNotFound):
		response.Fail(c, http.StatusUnprocessableEntity, ErrCodeBalanceNotFound, err.Error())
	case errors.Is(err, ErrInsufficientPosition):
		response.Fail(c, http.StatusUnprocessableEntity, ErrCodeInsufficientPosition, err.Error())
	case errors.Is(err, ErrNotCancellable):
		response.Fail(c, http.StatusConflict, ErrCodeNotCancellable, err.Error())
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrUserNotFound):
		response.NotFound(c, err.Error())
	default:
		response.Handle(c, data, err)
	}
}

// GinHandlers contains HTTP handlers for order and portfolio endpoints.
type GinHandlers struct {
	service *Service
	trend   *valuation.SnapshotStore
}

// NewGinHandlers creates the handler set for the ledger API.
func NewGinHandlers(service *Service, trend *valuation.SnapshotStore) *GinHandlers {
	return &GinHandlers{service: service, trend: trend}
}

// PlaceOrderHandler handles POST requests to place orders. The response
// carries the order after the immediate fill attempt, so its status is
// either PENDING or FILLED.
func (h *GinHandlers) PlaceOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		var req types.PlaceOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, _, err := h.service.PlaceOrder(c.Request.Context(), userID, req)
		respond(c, order, err)
	}
}

// CancelOrderHandler handles DELETE requests to cancel pending orders.
// URL parameter: order_id
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		order, err := h.service.CancelOrder(c.Request.Context(), userID, orderID)
		respond(c, order, err)
	}
}

// GetOrderHandler handles GET requests to retrieve order status.
// URL parameter: order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		order, err := h.service.GetOrder(userID, c.Param("order_id"))
		respond(c, order, err)
	}
}

// SnapshotHandler handles GET requests for the full portfolio snapshot.
func (h *GinHandlers) SnapshotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		snap, err := h.service.Snapshot(c.Request.Context(), userID)
		respond(c, snap, err)
	}
}

// TradesHandler handles GET requests for recent trade history.
func (h *GinHandlers) TradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		trades, err := h.service.Trades(userID)
		respond(c, trades, err)
	}
}

// TrendHandler handles GET requests for the asset trend. Today's equity
// is recorded on the way through so the trend always includes the
// current day.
func (h *GinHandlers) TrendHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		snap, err := h.service.Snapshot(c.Request.Context(), userID)
		if err != nil {
			respond(c, nil, err)
			return
		}
		if err := h.trend.Upsert(userID, h.service.now(), snap.Overview.TotalAssetsUSD); err != nil {
			respond(c, nil, err)
			return
		}

		points, err := h.trend.List(userID)
		respond(c, gin.H{"snapshots": points}, err)
	}
}
