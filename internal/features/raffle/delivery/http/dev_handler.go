package http

import (
	"context"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"raffle-engine/internal/common/config"
	apperrors "raffle-engine/internal/common/errors"
	"raffle-engine/internal/common/validation"
	"raffle-engine/internal/features/raffle/models/dto"
	"raffle-engine/internal/platform/chain"
)

// RoyaltyInvalidator drops cached royalty quotes of an asset.
type RoyaltyInvalidator interface {
	Invalidate(ctx context.Context, asset common.Address) error
}

// DevChainHandler drives the simulated chain. It is mounted in debug mode only.
type DevChainHandler struct {
	chain     *chain.Chain
	engine    common.Address
	royalties RoyaltyInvalidator
	logger    zerolog.Logger
}

func NewDevChainHandler(c *chain.Chain, engine common.Address, royalties RoyaltyInvalidator, logger zerolog.Logger) *DevChainHandler {
	return &DevChainHandler{chain: c, engine: engine, royalties: royalties, logger: logger}
}

func (h *DevChainHandler) RegisterRoutes(router *gin.RouterGroup) {
	dev := router.Group("/dev/chain")
	{
		dev.POST("/fund", h.fund)
		dev.POST("/mint", h.mint)
		dev.POST("/approve", h.approve)
		dev.POST("/royalty", h.setRoyalty)
		dev.GET("/balance/:address", h.balance)
		dev.GET("/token/:asset/:assetId", h.token)
	}
}

func (h *DevChainHandler) fund(c *gin.Context) {
	var req dto.FundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(bindError(err))
		return
	}
	addr, _ := validation.ParseAddress(req.Address)
	amount, _ := validation.ParseUint256(req.Amount)

	h.chain.Fund(addr, amount)
	c.JSON(http.StatusOK, h.balanceOf(addr))
}

func (h *DevChainHandler) mint(c *gin.Context) {
	var req dto.MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(bindError(err))
		return
	}
	asset, _ := validation.ParseAddress(req.Asset)
	id, _ := validation.ParseUint256(req.AssetID)
	to, _ := validation.ParseAddress(req.To)

	switch chain.TokenStandard(req.Standard) {
	case chain.ERC721:
		if err := h.chain.MintERC721(asset, id, to); err != nil {
			c.Error(apperrors.Wrap(err, apperrors.ErrCodeConflict, "Token already minted"))
			return
		}
	case chain.ERC1155:
		amount := big.NewInt(1)
		if req.Amount != "" {
			amount, _ = validation.ParseUint256(req.Amount)
		}
		h.chain.MintERC1155(asset, id, to, amount)
	}

	h.logger.Debug().Str("asset", asset.Hex()).Str("asset_id", id.String()).Str("to", to.Hex()).Msg("Minted")
	c.JSON(http.StatusOK, gin.H{"asset": asset.Hex(), "asset_id": id.String(), "owner": to.Hex()})
}

func (h *DevChainHandler) approve(c *gin.Context) {
	var req dto.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(bindError(err))
		return
	}
	asset, _ := validation.ParseAddress(req.Asset)
	owner, _ := validation.ParseAddress(req.Owner)
	operator := h.engine
	if req.Operator != "" {
		operator, _ = validation.ParseAddress(req.Operator)
	}

	h.chain.SetApprovalForAll(asset, owner, operator, req.Approved)
	c.JSON(http.StatusOK, gin.H{"asset": asset.Hex(), "owner": owner.Hex(), "operator": operator.Hex(), "approved": req.Approved})
}

func (h *DevChainHandler) setRoyalty(c *gin.Context) {
	var req dto.SetRoyaltyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(bindError(err))
		return
	}
	asset, _ := validation.ParseAddress(req.Asset)
	receiver, _ := validation.ParseAddress(req.Receiver)

	if req.Registry {
		h.chain.SetRegistryRoyalty(asset, receiver, req.Bps)
	} else {
		var id *big.Int
		if req.AssetID != "" {
			id, _ = validation.ParseUint256(req.AssetID)
		}
		h.chain.SetTokenRoyalty(asset, id, receiver, req.Bps)
	}

	if h.royalties != nil {
		if err := h.royalties.Invalidate(c.Request.Context(), asset); err != nil {
			h.logger.Warn().Err(err).Str("asset", asset.Hex()).Msg("Failed to invalidate royalty cache")
		}
	}
	c.JSON(http.StatusOK, gin.H{"asset": asset.Hex(), "receiver": receiver.Hex(), "bps": req.Bps, "registry": req.Registry})
}

func (h *DevChainHandler) balance(c *gin.Context) {
	addr, err := validation.ParseAddress(c.Param("address"))
	if err != nil {
		c.Error(apperrors.NewValidationError("address", err.Error()))
		return
	}
	c.JSON(http.StatusOK, h.balanceOf(addr))
}

// token reports the ERC-721 owner and, when ?holder= is given, that
// holder's ERC-1155 balance of the same id.
func (h *DevChainHandler) token(c *gin.Context) {
	asset, err := validation.ParseAddress(c.Param("asset"))
	if err != nil {
		c.Error(apperrors.NewValidationError("asset", err.Error()))
		return
	}
	id, err := validation.ParseUint256(c.Param("assetId"))
	if err != nil {
		c.Error(apperrors.NewValidationError("assetId", err.Error()))
		return
	}

	resp := dto.TokenResponse{Asset: asset.Hex(), AssetID: id.String()}
	if owner := h.chain.OwnerOf(asset, id); owner != (common.Address{}) {
		resp.Owner = owner.Hex()
	}
	if raw := c.Query("holder"); raw != "" {
		holder, err := validation.ParseAddress(raw)
		if err != nil {
			c.Error(apperrors.NewValidationError("holder", err.Error()))
			return
		}
		resp.Holder = holder.Hex()
		resp.Balance = h.chain.BalanceOf1155(asset, id, holder).String()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *DevChainHandler) balanceOf(addr common.Address) dto.BalanceResponse {
	wei := h.chain.Balance(addr)
	return dto.BalanceResponse{
		Address: addr.Hex(),
		Wei:     wei.String(),
		Ether:   config.WeiToEther(wei),
	}
}
