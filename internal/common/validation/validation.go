package validation

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	// Tag names usable in binding:"..." struct tags
	TagAddress = "eth_addr"
	TagUint256 = "uint256"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Register installs the custom rules on gin's validator engine.
func Register() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	return RegisterOn(v)
}

func RegisterOn(v *validator.Validate) error {
	if err := v.RegisterValidation(TagAddress, func(fl validator.FieldLevel) bool {
		return IsAddress(fl.Field().String())
	}); err != nil {
		return err
	}
	return v.RegisterValidation(TagUint256, func(fl validator.FieldLevel) bool {
		_, err := ParseUint256(fl.Field().String())
		return err == nil
	})
}

// IsAddress accepts 0x-prefixed 20-byte hex addresses.
func IsAddress(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

func ParseAddress(s string) (common.Address, error) {
	if !IsAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address: %q", s)
	}
	return common.HexToAddress(strings.TrimSpace(s)), nil
}

// ParseUint256 parses a base-10 unsigned integer that fits in 256 bits.
func ParseUint256(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, fmt.Errorf("invalid uint256: %q", s)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("invalid uint256: %q", s)
	}
	return v, nil
}
