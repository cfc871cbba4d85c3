package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chainledger/chainledger/internal/domain/entities"
	"github.com/chainledger/chainledger/internal/explorer"
	"github.com/chainledger/chainledger/pkg/logger"
)

// ExplorerHandler serves read access to the chain aggregation layer
type ExplorerHandler struct {
	explorers map[string]*explorer.Interface
	logger    *logger.Logger
}

// NewExplorerHandler creates an explorer handler over the enabled chains
func NewExplorerHandler(explorers map[string]*explorer.Interface, logger *logger.Logger) *ExplorerHandler {
	return &ExplorerHandler{explorers: explorers, logger: logger}
}

func (h *ExplorerHandler) chain(c *gin.Context) (*explorer.Interface, bool) {
	name := strings.ToUpper(c.Param("chain"))
	exp, ok := h.explorers[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown chain " + name})
		return nil, false
	}
	return exp, true
}

// GetBalance returns the main-coin balance of an address
func (h *ExplorerHandler) GetBalance(c *gin.Context) {
	exp, ok := h.chain(c)
	if !ok {
		return
	}
	balance, err := exp.GetBalance(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.logger.Warn("balance lookup failed", "chain", exp.Chain(), "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, balance)
}

// GetTokenBalance returns a token balance of an address
func (h *ExplorerHandler) GetTokenBalance(c *gin.Context) {
	exp, ok := h.chain(c)
	if !ok {
		return
	}
	balance, err := exp.GetTokenBalance(c.Request.Context(), c.Param("address"), c.Param("contract"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, balance)
}

// GetTxDetails returns the normalized transfers of one transaction
func (h *ExplorerHandler) GetTxDetails(c *gin.Context) {
	exp, ok := h.chain(c)
	if !ok {
		return
	}
	txs, err := exp.GetTxDetails(c.Request.Context(), c.Param("hash"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfers": txs})
}

// GetAddressTxs returns an address's transfer history, optionally filtered by
// ?direction=incoming|outgoing
func (h *ExplorerHandler) GetAddressTxs(c *gin.Context) {
	exp, ok := h.chain(c)
	if !ok {
		return
	}
	direction := entities.Direction(c.Query("direction"))
	txs, err := exp.GetTxs(c.Request.Context(), c.Param("address"), direction)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfers": txs})
}

// GetBlockHead returns the highest mined height across providers
func (h *ExplorerHandler) GetBlockHead(c *gin.Context) {
	exp, ok := h.chain(c)
	if !ok {
		return
	}
	head, err := exp.MaxBlockHead(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chain": exp.Chain(), "height": head})
}

// ScanLatestBlock runs a dry range scan without moving the watermark.
// Useful for inspecting what the next worker pass would process.
func (h *ExplorerHandler) ScanLatestBlock(c *gin.Context) {
	exp, ok := h.chain(c)
	if !ok {
		return
	}
	result, err := exp.GetLatestBlock(c.Request.Context(), false)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"range":     gin.H{"min": result.Range.Min, "max": result.Range.Max},
		"processed": result.Processed,
		"transfers": result.Txs,
		"tx_info":   result.TxInfo,
	})
}
