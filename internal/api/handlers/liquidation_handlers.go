package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chainledger/chainledger/internal/domain/entities"
	"github.com/chainledger/chainledger/internal/domain/services/liquidator"
	"github.com/chainledger/chainledger/internal/infrastructure/repositories"
	"github.com/chainledger/chainledger/pkg/logger"
)

// LiquidationHandler exposes the liquidation intake and read endpoints to the
// internal subsystems that raise conversions
type LiquidationHandler struct {
	service *liquidator.Service
	repo    *repositories.LiquidationRepository
	logger  *logger.Logger
}

// NewLiquidationHandler creates a liquidation handler
func NewLiquidationHandler(service *liquidator.Service, repo *repositories.LiquidationRepository, logger *logger.Logger) *LiquidationHandler {
	return &LiquidationHandler{service: service, repo: repo, logger: logger}
}

type createRequestPayload struct {
	Service     string          `json:"service" binding:"required"`
	SrcWalletID uuid.UUID       `json:"src_wallet_id" binding:"required"`
	DstWalletID uuid.UUID       `json:"dst_wallet_id" binding:"required"`
	SrcCurrency string          `json:"src_currency" binding:"required"`
	DstCurrency string          `json:"dst_currency" binding:"required"`
	Side        string          `json:"side" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
}

// CreateRequest accepts a new conversion need
func (h *LiquidationHandler) CreateRequest(c *gin.Context) {
	var payload createRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := liquidator.RequestParams{
		SrcWalletID: payload.SrcWalletID,
		DstWalletID: payload.DstWalletID,
		SrcCurrency: payload.SrcCurrency,
		DstCurrency: payload.DstCurrency,
		Side:        entities.OrderSide(payload.Side),
		Amount:      payload.Amount,
	}

	var request *entities.LiquidationRequest
	var err error
	switch entities.LiquidationService(payload.Service) {
	case entities.ServiceMargin:
		request, err = h.service.LiquidateMarginCall(c.Request.Context(), params)
	case entities.ServiceABC:
		request, err = h.service.LiquidateSettlement(c.Request.Context(), params)
	case entities.ServiceFeeCollector:
		request, err = h.service.LiquidateCollectedFees(c.Request.Context(), params)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown service " + payload.Service})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, request)
}

// GetRequest returns the current state of one request
func (h *LiquidationHandler) GetRequest(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}
	request, err := h.repo.GetRequestByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, request)
}
