package settlement

import (
	"fmt"
	"math/big"

	"raffle-engine/internal/common/config"
	"raffle-engine/internal/features/raffle/models"
)

// Split is the division of raised funds among the three beneficiaries.
type Split struct {
	Royalty     *big.Int
	PlatformFee *big.Int
	Creator     *big.Int
}

// ComputeSplit divides raised into royalty, platform fee and creator payout.
// Percentages floor; the flat fee is added to the percentage fee; the creator
// takes the remainder, so the three parts always sum to raised.
func ComputeSplit(raised *big.Int, royaltyBps uint16, feePercent uint64, flatFee *big.Int) (Split, error) {
	royalty := new(big.Int).Mul(raised, big.NewInt(int64(royaltyBps)))
	royalty.Quo(royalty, big.NewInt(config.BasisPointsDenominator))

	fee := new(big.Int).Mul(raised, new(big.Int).SetUint64(feePercent))
	fee.Quo(fee, big.NewInt(100))
	fee.Add(fee, flatFee)

	creator := new(big.Int).Sub(raised, fee)
	creator.Sub(creator, royalty)
	if creator.Sign() < 0 {
		return Split{}, fmt.Errorf("%w: raised %s cannot cover fee %s and royalty %s",
			models.ErrSettlementInvariant, raised, fee, royalty)
	}

	return Split{Royalty: royalty, PlatformFee: fee, Creator: creator}, nil
}
