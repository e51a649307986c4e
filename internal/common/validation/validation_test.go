package validation

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUint256(t *testing.T) {
	v, err := ParseUint256("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, err)
	assert.Equal(t, 256, v.BitLen())

	v, err = ParseUint256(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int64())

	for _, bad := range []string{
		"",
		"-1",
		"+1",
		"0x10",
		"1.5",
		"115792089237316195423570985008687907853269984665640564039457584007913129639936",
	} {
		_, err := ParseUint256(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x49146F8ba80D5f24227543bBa3bB8e2c40ECC03D")
	require.NoError(t, err)
	assert.Equal(t, "0x49146F8ba80D5f24227543bBa3bB8e2c40ECC03D", addr.Hex())

	for _, bad := range []string{"", "0x1234", "49146F8ba80D5f24227543bBa3bB8e2c40ECC03D", "0xZZ146F8ba80D5f24227543bBa3bB8e2c40ECC03D"} {
		_, err := ParseAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestRegisterOn(t *testing.T) {
	v := validator.New()
	require.NoError(t, RegisterOn(v))

	type request struct {
		Asset string `validate:"required,eth_addr"`
		Value string `validate:"required,uint256"`
	}

	assert.NoError(t, v.Struct(request{Asset: "0x49146F8ba80D5f24227543bBa3bB8e2c40ECC03D", Value: "1000"}))

	err := v.Struct(request{Asset: "alice", Value: "-5"})
	require.Error(t, err)
	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Len(t, verrs, 2)
	assert.Equal(t, TagAddress, verrs[0].Tag())
	assert.Equal(t, TagUint256, verrs[1].Tag())
}
