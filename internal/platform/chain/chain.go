package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TokenStandard names the transfer semantics of an asset contract.
type TokenStandard string

const (
	ERC721  TokenStandard = "erc721"
	ERC1155 TokenStandard = "erc1155"
)

// OpKind distinguishes native value moves from asset moves.
type OpKind string

const (
	OpValueTransfer OpKind = "value"
	OpAssetTransfer OpKind = "asset"
)

// Operation is one transfer in an all-or-nothing batch.
type Operation struct {
	Kind     OpKind
	Standard TokenStandard
	Asset    common.Address
	AssetID  *big.Int
	From     common.Address
	To       common.Address
	Amount   *big.Int
}

func ValueTransfer(from, to common.Address, amount *big.Int) Operation {
	return Operation{Kind: OpValueTransfer, From: from, To: to, Amount: new(big.Int).Set(amount)}
}

// AssetTransfer moves one unit of an asset. ERC-1155 transfers carry amount 1.
func AssetTransfer(standard TokenStandard, asset common.Address, assetID *big.Int, from, to common.Address) Operation {
	return Operation{
		Kind:     OpAssetTransfer,
		Standard: standard,
		Asset:    asset,
		AssetID:  new(big.Int).Set(assetID),
		From:     from,
		To:       to,
		Amount:   big.NewInt(1),
	}
}

func (op Operation) String() string {
	if op.Kind == OpValueTransfer {
		return fmt.Sprintf("value %s -> %s (%s wei)", op.From.Hex(), op.To.Hex(), op.Amount)
	}
	return fmt.Sprintf("%s %s#%s %s -> %s", op.Standard, op.Asset.Hex(), op.AssetID, op.From.Hex(), op.To.Hex())
}

// Executor applies a batch of transfers atomically: either every operation
// takes effect or none does.
type Executor interface {
	Execute(ctx context.Context, ops []Operation) error
}

// ApprovalChecker reports whether operator may move owner's token.
type ApprovalChecker interface {
	IsApproved(ctx context.Context, standard TokenStandard, asset common.Address, assetID *big.Int, owner, operator common.Address) (bool, error)
}

// RoyaltyStandard is the ERC-2981 surface of asset contracts.
type RoyaltyStandard interface {
	SupportsRoyalties(ctx context.Context, asset common.Address) (bool, error)
	RoyaltyInfo(ctx context.Context, asset common.Address, assetID, salePrice *big.Int) (common.Address, *big.Int, error)
}

// RoyaltyRegistry is the fallback per-contract royalty table.
type RoyaltyRegistry interface {
	GetRoyalty(ctx context.Context, asset common.Address) (common.Address, uint16, error)
}

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotTokenOwner       = errors.New("sender does not own token")
	ErrTransferRejected    = errors.New("recipient rejected transfer")
	ErrUnknownStandard     = errors.New("unknown token standard")
	ErrInvalidAmount       = errors.New("invalid amount")
)

type tokenKey struct {
	asset common.Address
	id    string
}

type holdingKey struct {
	tokenKey
	holder common.Address
}

type approvalKey struct {
	asset    common.Address
	owner    common.Address
	operator common.Address
}

type royaltyEntry struct {
	receiver common.Address
	bps      uint16
}

// Chain is an in-process ledger of native balances, ERC-721 ownership,
// ERC-1155 holdings, operator approvals and royalty metadata.
type Chain struct {
	mu        sync.Mutex
	balances  map[common.Address]*big.Int
	owners    map[tokenKey]common.Address
	holdings  map[holdingKey]*big.Int
	approvals map[approvalKey]bool
	erc2981   map[tokenKey]royaltyEntry
	registry  map[common.Address]royaltyEntry
	rejecting map[common.Address]bool
}

func New() *Chain {
	return &Chain{
		balances:  make(map[common.Address]*big.Int),
		owners:    make(map[tokenKey]common.Address),
		holdings:  make(map[holdingKey]*big.Int),
		approvals: make(map[approvalKey]bool),
		erc2981:   make(map[tokenKey]royaltyEntry),
		registry:  make(map[common.Address]royaltyEntry),
		rejecting: make(map[common.Address]bool),
	}
}

func key(asset common.Address, id *big.Int) tokenKey {
	return tokenKey{asset: asset, id: id.String()}
}

// contractWide is the token id under which contract-level ERC-2981 info is kept.
var contractWide = big.NewInt(-1)

func (c *Chain) Fund(addr common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credit(addr, amount)
}

func (c *Chain) Balance(addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (c *Chain) MintERC721(asset common.Address, id *big.Int, to common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(asset, id)
	if owner, ok := c.owners[k]; ok && owner != (common.Address{}) {
		return fmt.Errorf("token %s#%s already minted", asset.Hex(), id)
	}
	c.owners[k] = to
	return nil
}

func (c *Chain) MintERC1155(asset common.Address, id *big.Int, to common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addHolding(holdingKey{key(asset, id), to}, amount)
}

func (c *Chain) OwnerOf(asset common.Address, id *big.Int) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owners[key(asset, id)]
}

func (c *Chain) BalanceOf1155(asset common.Address, id *big.Int, holder common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.holdings[holdingKey{key(asset, id), holder}]; ok {
		return new(big.Int).Set(h)
	}
	return new(big.Int)
}

// SetApprovalForAll mirrors the operator approval both standards share.
func (c *Chain) SetApprovalForAll(asset, owner, operator common.Address, approved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approvals[approvalKey{asset, owner, operator}] = approved
}

// SetTokenRoyalty registers ERC-2981 info. A nil id sets the contract default.
func (c *Chain) SetTokenRoyalty(asset common.Address, id *big.Int, receiver common.Address, bps uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == nil {
		id = contractWide
	}
	c.erc2981[key(asset, id)] = royaltyEntry{receiver, bps}
}

func (c *Chain) SetRegistryRoyalty(asset, receiver common.Address, bps uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry[asset] = royaltyEntry{receiver, bps}
}

// RejectTransfersTo makes addr refuse incoming native value and assets,
// like a contract without a receive hook.
func (c *Chain) RejectTransfersTo(addr common.Address, reject bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reject {
		c.rejecting[addr] = true
	} else {
		delete(c.rejecting, addr)
	}
}

func (c *Chain) IsApproved(ctx context.Context, standard TokenStandard, asset common.Address, assetID *big.Int, owner, operator common.Address) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch standard {
	case ERC721, ERC1155:
	default:
		return false, ErrUnknownStandard
	}
	return owner == operator || c.approvals[approvalKey{asset, owner, operator}], nil
}

func (c *Chain) SupportsRoyalties(ctx context.Context, asset common.Address) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.erc2981 {
		if k.asset == asset {
			return true, nil
		}
	}
	return false, nil
}

func (c *Chain) RoyaltyInfo(ctx context.Context, asset common.Address, assetID, salePrice *big.Int) (common.Address, *big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.erc2981[key(asset, assetID)]
	if !ok {
		entry, ok = c.erc2981[key(asset, contractWide)]
	}
	if !ok {
		return common.Address{}, new(big.Int), nil
	}
	amount := new(big.Int).Mul(salePrice, big.NewInt(int64(entry.bps)))
	amount.Quo(amount, big.NewInt(10_000))
	return entry.receiver, amount, nil
}

func (c *Chain) GetRoyalty(ctx context.Context, asset common.Address) (common.Address, uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.registry[asset]
	return entry.receiver, entry.bps, nil
}

// Execute applies ops in order under one lock and undoes the applied prefix
// if any operation fails.
func (c *Chain) Execute(ctx context.Context, ops []Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	applied := make([]Operation, 0, len(ops))
	for i, op := range ops {
		if err := c.apply(op); err != nil {
			for j := len(applied) - 1; j >= 0; j-- {
				c.revert(applied[j])
			}
			return fmt.Errorf("operation %d (%s): %w", i, op, err)
		}
		applied = append(applied, op)
	}
	return nil
}

func (c *Chain) apply(op Operation) error {
	if c.rejecting[op.To] {
		return ErrTransferRejected
	}
	switch op.Kind {
	case OpValueTransfer:
		if op.Amount == nil || op.Amount.Sign() < 0 {
			return ErrInvalidAmount
		}
		bal := c.balances[op.From]
		if bal == nil || bal.Cmp(op.Amount) < 0 {
			return ErrInsufficientBalance
		}
		c.debit(op.From, op.Amount)
		c.credit(op.To, op.Amount)
		return nil
	case OpAssetTransfer:
		switch op.Standard {
		case ERC721:
			k := key(op.Asset, op.AssetID)
			if c.owners[k] != op.From {
				return ErrNotTokenOwner
			}
			c.owners[k] = op.To
			return nil
		case ERC1155:
			from := holdingKey{key(op.Asset, op.AssetID), op.From}
			h := c.holdings[from]
			if h == nil || h.Cmp(op.Amount) < 0 {
				return ErrInsufficientBalance
			}
			c.addHolding(from, new(big.Int).Neg(op.Amount))
			c.addHolding(holdingKey{key(op.Asset, op.AssetID), op.To}, op.Amount)
			return nil
		}
		return ErrUnknownStandard
	}
	return fmt.Errorf("unknown operation kind %q", op.Kind)
}

func (c *Chain) revert(op Operation) {
	switch op.Kind {
	case OpValueTransfer:
		c.debit(op.To, op.Amount)
		c.credit(op.From, op.Amount)
	case OpAssetTransfer:
		if op.Standard == ERC721 {
			c.owners[key(op.Asset, op.AssetID)] = op.From
			return
		}
		c.addHolding(holdingKey{key(op.Asset, op.AssetID), op.To}, new(big.Int).Neg(op.Amount))
		c.addHolding(holdingKey{key(op.Asset, op.AssetID), op.From}, op.Amount)
	}
}

func (c *Chain) credit(addr common.Address, amount *big.Int) {
	bal, ok := c.balances[addr]
	if !ok {
		bal = new(big.Int)
		c.balances[addr] = bal
	}
	bal.Add(bal, amount)
}

func (c *Chain) debit(addr common.Address, amount *big.Int) {
	bal, ok := c.balances[addr]
	if !ok {
		bal = new(big.Int)
		c.balances[addr] = bal
	}
	bal.Sub(bal, amount)
}

func (c *Chain) addHolding(k holdingKey, delta *big.Int) {
	h, ok := c.holdings[k]
	if !ok {
		h = new(big.Int)
		c.holdings[k] = h
	}
	h.Add(h, delta)
}
