package middleware

import (
	"bytes"
	"crypto/subtle"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"raffle-engine/internal/common/errors"
	"raffle-engine/internal/common/validation"
)

const (
	HeaderCaller      = "X-Caller-Address"
	HeaderOracleToken = "X-Oracle-Token"

	contextCaller = "caller"
)

// CallerIdentity authenticates the caller named in X-Caller-Address. The
// request must carry a personal_sign signature by that address over
// SigningMessage, a unix timestamp within maxSkew of now and a nonce not
// used before inside that window. Requests without the header stay
// anonymous.
func CallerIdentity(maxSkew time.Duration) gin.HandlerFunc {
	guard := newReplayGuard()

	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderCaller))
		if raw == "" {
			c.Next()
			return
		}
		claimed, err := validation.ParseAddress(raw)
		if err != nil {
			c.Error(errors.NewValidationError(HeaderCaller, "must be a 0x-prefixed 20-byte hex address"))
			c.Abort()
			return
		}

		signer, appErr := authenticate(c, claimed, maxSkew, guard)
		if appErr != nil {
			c.Error(appErr.WithContext("caller", claimed.Hex()))
			c.Abort()
			return
		}
		c.Set(contextCaller, signer)
		c.Next()
	}
}

func authenticate(c *gin.Context, claimed common.Address, maxSkew time.Duration, guard *replayGuard) (common.Address, *errors.AppError) {
	sigHex := strings.TrimSpace(c.GetHeader(HeaderSignature))
	tsRaw := strings.TrimSpace(c.GetHeader(HeaderTimestamp))
	nonce := strings.TrimSpace(c.GetHeader(HeaderNonce))
	if sigHex == "" || tsRaw == "" || nonce == "" {
		return common.Address{}, errors.NewUnauthorizedError("signed request required")
	}
	if len(nonce) > maxNonceLen {
		return common.Address{}, errors.NewUnauthorizedError("nonce too long")
	}

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return common.Address{}, errors.NewUnauthorizedError("invalid timestamp")
	}
	now := time.Now()
	signedAt := time.Unix(ts, 0)
	if signedAt.Before(now.Add(-maxSkew)) || signedAt.After(now.Add(maxSkew)) {
		return common.Address{}, errors.NewUnauthorizedError("timestamp outside the accepted window")
	}

	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, errors.NewUnauthorizedError("malformed signature")
	}

	var body []byte
	if c.Request.Body != nil {
		body, err = io.ReadAll(io.LimitReader(c.Request.Body, maxSignedBody+1))
		if err != nil {
			return common.Address{}, errors.NewUnauthorizedError("unreadable body")
		}
		if len(body) > maxSignedBody {
			return common.Address{}, errors.NewValidationError("body", "too large")
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
	}

	signer, err := recoverSigner(SigningMessage(c.Request.Method, c.Request.URL.RequestURI(), body, ts, nonce), sig)
	if err != nil || signer != claimed {
		return common.Address{}, errors.NewUnauthorizedError("signature does not match caller")
	}

	if !guard.claim(signer.Hex()+"/"+nonce, signedAt.Add(maxSkew), now) {
		return common.Address{}, errors.NewUnauthorizedError("nonce already used")
	}
	return signer, nil
}

// RequireCaller rejects anonymous requests.
func RequireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := Caller(c); !ok {
			c.Error(errors.NewUnauthorizedError(HeaderCaller + " header required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAdmin lets through only callers isAdmin accepts.
func RequireAdmin(isAdmin func(common.Address) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := Caller(c)
		if !ok {
			c.Error(errors.NewUnauthorizedError(HeaderCaller + " header required"))
			c.Abort()
			return
		}
		if !isAdmin(caller) {
			c.Error(errors.New(errors.ErrCodeNotAdmin, "Caller is not an administrator"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// OracleAuth guards the randomness callback with a shared token.
func OracleAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderOracleToken)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.Error(errors.NewForbiddenError("invalid oracle token"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// Caller returns the authenticated caller address.
func Caller(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(contextCaller)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}

// GetCaller returns the caller as hex, or "" when anonymous.
func GetCaller(c *gin.Context) string {
	if addr, ok := Caller(c); ok {
		return addr.Hex()
	}
	return ""
}
