package dto

// Requests of the debug-only simulated chain routes.

type FundRequest struct {
	Address string `json:"address" binding:"required,eth_addr"`
	Amount  string `json:"amount" binding:"required,uint256"`
}

type MintRequest struct {
	Standard string `json:"standard" binding:"required,oneof=erc721 erc1155"`
	Asset    string `json:"asset" binding:"required,eth_addr"`
	AssetID  string `json:"asset_id" binding:"required,uint256"`
	To       string `json:"to" binding:"required,eth_addr"`
	// Amount applies to erc1155 only; defaults to 1.
	Amount string `json:"amount" binding:"omitempty,uint256"`
}

type ApproveRequest struct {
	Asset string `json:"asset" binding:"required,eth_addr"`
	Owner string `json:"owner" binding:"required,eth_addr"`
	// Operator defaults to the engine address.
	Operator string `json:"operator" binding:"omitempty,eth_addr"`
	Approved bool   `json:"approved"`
}

type SetRoyaltyRequest struct {
	Asset string `json:"asset" binding:"required,eth_addr"`
	// AssetID scopes an ERC-2981 royalty to one token; empty means contract-wide.
	AssetID  string `json:"asset_id" binding:"omitempty,uint256"`
	Receiver string `json:"receiver" binding:"required,eth_addr"`
	Bps      uint16 `json:"bps" binding:"max=10000"`
	// Registry stores the royalty in the fallback registry instead of ERC-2981.
	Registry bool `json:"registry"`
}

type BalanceResponse struct {
	Address string `json:"address"`
	Wei     string `json:"wei"`
	Ether   string `json:"ether"`
}

type TokenResponse struct {
	Asset   string `json:"asset"`
	AssetID string `json:"asset_id"`
	Owner   string `json:"owner,omitempty"`
	Holder  string `json:"holder,omitempty"`
	Balance string `json:"balance,omitempty"`
}
