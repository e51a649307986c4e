package http

import (
	"context"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apperrors "raffle-engine/internal/common/errors"
	"raffle-engine/internal/common/middleware"
	"raffle-engine/internal/common/validation"
	"raffle-engine/internal/features/raffle/models"
	"raffle-engine/internal/features/raffle/models/dto"
	raffleservice "raffle-engine/internal/features/raffle/service"
)

// Fulfiller accepts oracle answers delivered over HTTP.
type Fulfiller interface {
	Fulfill(ctx context.Context, requestID uint64, words []*big.Int) error
}

type RaffleHandler struct {
	service     raffleservice.RaffleService
	fulfiller   Fulfiller
	oracleToken string
	logger      zerolog.Logger
}

// NewRaffleHandler builds the handler. fulfiller may be nil, in which case
// the oracle callback route is not registered.
func NewRaffleHandler(service raffleservice.RaffleService, fulfiller Fulfiller, oracleToken string, logger zerolog.Logger) *RaffleHandler {
	return &RaffleHandler{
		service:     service,
		fulfiller:   fulfiller,
		oracleToken: oracleToken,
		logger:      logger,
	}
}

func (h *RaffleHandler) RegisterRoutes(router *gin.RouterGroup) {
	raffles := router.Group("/raffles")
	{
		raffles.POST("", middleware.RequireCaller(), h.create)
		raffles.GET("", h.list)
		raffles.GET("/:id", h.getByID)
		raffles.GET("/:id/batches", h.getBatches)
		raffles.GET("/:id/batches/:index", h.getBatch)
		raffles.GET("/:id/users/:address", h.getUserInfo)
		raffles.GET("/:id/settlement", h.getSettlement)
		raffles.POST("/:id/tickets", middleware.RequireCaller(), h.buyTickets)
		raffles.POST("/:id/draw", h.draw)
		raffles.POST("/:id/release", h.release)
		raffles.POST("/:id/refund", h.refund)
		raffles.POST("/:id/refund-tickets", middleware.RequireCaller(), h.refundTickets)
		raffles.POST("/:id/claim-asset", h.claimAsset)
	}

	router.GET("/royalties/:asset/:assetId", h.getRoyalty)

	admin := router.Group("/admin")
	{
		admin.GET("/create-enabled", h.getCreateEnabled)
		admin.POST("/create-enabled/toggle", middleware.RequireAdmin(h.service.IsAdmin), h.toggleCreateEnabled)
	}

	if h.fulfiller != nil {
		router.POST("/vrf/fulfill", middleware.OracleAuth(h.oracleToken), h.fulfill)
	}
}

func (h *RaffleHandler) fail(c *gin.Context, err error) {
	c.Error(toAppError(err))
}

func raffleID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.Error(apperrors.NewValidationError("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

// @Summary Create a raffle
// @Description Takes custody of the asset from the caller and opens a raffle.
// @Router /raffles [post]
func (h *RaffleHandler) create(c *gin.Context) {
	var req dto.CreateRaffleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(bindError(err))
		return
	}
	creator, _ := middleware.Caller(c)

	asset, err := validation.ParseAddress(req.Asset)
	if err != nil {
		c.Error(apperrors.NewValidationError("asset", err.Error()))
		return
	}
	assetID, err := validation.ParseUint256(req.AssetID)
	if err != nil {
		c.Error(apperrors.NewValidationError("asset_id", err.Error()))
		return
	}
	price, err := validation.ParseUint256(req.TicketPrice)
	if err != nil {
		c.Error(apperrors.NewValidationError("ticket_price", err.Error()))
		return
	}

	r, err := h.service.CreateRaffle(c.Request.Context(), raffleservice.CreateRaffleInput{
		Creator:     creator,
		Asset:       asset,
		AssetID:     assetID,
		Standard:    models.AssetStandard(req.Standard),
		TicketPrice: price,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewRaffleResponse(r))
}

// @Summary List raffles, optionally filtered by state
// @Router /raffles [get]
func (h *RaffleHandler) list(c *gin.Context) {
	var filter *models.RaffleState
	if raw := c.Query("state"); raw != "" {
		st, err := models.ParseRaffleState(raw)
		if err != nil {
			c.Error(apperrors.NewValidationError("state", err.Error()))
			return
		}
		filter = &st
	}

	raffles, err := h.service.ListRaffles(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewRaffleListResponse(raffles))
}

func (h *RaffleHandler) getByID(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	r, err := h.service.GetRaffle(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewRaffleResponse(r))
}

func (h *RaffleHandler) getBatches(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	batches, err := h.service.GetBatches(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewBatchListResponse(batches))
}

func (h *RaffleHandler) getBatch(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	index, err := strconv.ParseUint(c.Param("index"), 10, 32)
	if err != nil {
		c.Error(apperrors.NewValidationError("index", "must be a non-negative integer"))
		return
	}
	b, err := h.service.GetBatchInfo(c.Request.Context(), id, uint32(index))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewBatchResponse(b))
}

func (h *RaffleHandler) getUserInfo(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	owner, err := validation.ParseAddress(c.Param("address"))
	if err != nil {
		c.Error(apperrors.NewValidationError("address", err.Error()))
		return
	}
	account, err := h.service.GetUserInfo(c.Request.Context(), id, owner)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewUserInfoResponse(account))
}

// @Summary Preview the settlement split of a raffle
// @Router /raffles/{id}/settlement [get]
func (h *RaffleHandler) getSettlement(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	s, err := h.service.QuoteSettlement(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSettlementResponse(s))
}

// @Summary Buy tickets
// @Description Value must equal quantity times the ticket price, in wei.
// @Router /raffles/{id}/tickets [post]
func (h *RaffleHandler) buyTickets(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	var req dto.BuyTicketsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(bindError(err))
		return
	}
	value, err := validation.ParseUint256(req.Value)
	if err != nil {
		c.Error(apperrors.NewValidationError("value", err.Error()))
		return
	}
	buyer, _ := middleware.Caller(c)

	res, err := h.service.BuyTickets(c.Request.Context(), id, buyer, req.Quantity, value)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.PurchaseResponse{
		Raffle:  dto.NewRaffleResponse(res.Raffle),
		Batch:   dto.NewBatchResponse(res.Batch),
		Account: dto.NewUserInfoResponse(res.Account),
	})
}

func (h *RaffleHandler) draw(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	r, err := h.service.DrawRaffle(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.NewRaffleResponse(r))
}

// @Summary Release the prize and distribute proceeds
// @Router /raffles/{id}/release [post]
func (h *RaffleHandler) release(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	// Тело необязательное
	var req dto.ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.Error(bindError(err))
		return
	}
	s, err := h.service.Release(c.Request.Context(), id, req.BatchHint)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSettlementResponse(s))
}

func (h *RaffleHandler) refund(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	r, err := h.service.RefundRaffle(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewRaffleResponse(r))
}

func (h *RaffleHandler) refundTickets(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	buyer, _ := middleware.Caller(c)
	amount, err := h.service.RefundTickets(c.Request.Context(), id, buyer)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RefundResponse{
		RaffleID: id,
		Buyer:    buyer.Hex(),
		Amount:   amount.String(),
	})
}

func (h *RaffleHandler) claimAsset(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	r, err := h.service.ClaimRefundedAsset(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewRaffleResponse(r))
}

func (h *RaffleHandler) getRoyalty(c *gin.Context) {
	asset, err := validation.ParseAddress(c.Param("asset"))
	if err != nil {
		c.Error(apperrors.NewValidationError("asset", err.Error()))
		return
	}
	assetID, err := validation.ParseUint256(c.Param("assetId"))
	if err != nil {
		c.Error(apperrors.NewValidationError("assetId", err.Error()))
		return
	}
	q := h.service.GetRoyaltyQuote(c.Request.Context(), asset, assetID)
	c.JSON(http.StatusOK, dto.NewRoyaltyResponse(q))
}

func (h *RaffleHandler) getCreateEnabled(c *gin.Context) {
	enabled, err := h.service.CreateEnabled(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.CreateEnabledResponse{CreateEnabled: enabled})
}

func (h *RaffleHandler) toggleCreateEnabled(c *gin.Context) {
	caller, _ := middleware.Caller(c)
	enabled, err := h.service.ToggleCreateEnabled(c.Request.Context(), caller)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.CreateEnabledResponse{CreateEnabled: enabled})
}

// @Summary Oracle callback delivering random words for a request
// @Router /vrf/fulfill [post]
func (h *RaffleHandler) fulfill(c *gin.Context) {
	var req dto.FulfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(bindError(err))
		return
	}
	words := make([]*big.Int, 0, len(req.RandomWords))
	for _, raw := range req.RandomWords {
		w, err := validation.ParseUint256(raw)
		if err != nil {
			c.Error(apperrors.NewValidationError("random_words", err.Error()))
			return
		}
		words = append(words, w)
	}

	if err := h.fulfiller.Fulfill(c.Request.Context(), req.RequestID, words); err != nil {
		h.logger.Warn().Err(err).Uint64("request_id", req.RequestID).Msg("Fulfillment rejected")
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": req.RequestID, "fulfilled": true})
}
