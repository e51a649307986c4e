package middleware

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	HeaderSignature = "X-Caller-Signature"
	HeaderTimestamp = "X-Caller-Timestamp"
	HeaderNonce     = "X-Caller-Nonce"

	maxSignedBody = 1 << 20
	maxNonceLen   = 64
)

// SigningMessage is the text a caller signs with personal_sign (EIP-191).
// The body is committed to by its keccak256 hash.
func SigningMessage(method, requestURI string, body []byte, timestamp int64, nonce string) []byte {
	return []byte(fmt.Sprintf("raffle-engine request\n%s\n%s\n%s\n%d\n%s",
		strings.ToUpper(method),
		requestURI,
		hexutil.Encode(crypto.Keccak256(body)),
		timestamp,
		nonce,
	))
}

// textHash is the personal_sign digest of msg.
func textHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return crypto.Keccak256([]byte(prefix), msg)
}

// SignRequest signs req with key and sets the caller headers. The body must
// already be attached; it is read and put back.
func SignRequest(req *http.Request, key *ecdsa.PrivateKey, timestamp time.Time, nonce string) error {
	var body []byte
	if req.Body != nil {
		var err error
		if body, err = io.ReadAll(req.Body); err != nil {
			return err
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	ts := timestamp.Unix()
	sig, err := crypto.Sign(textHash(SigningMessage(req.Method, req.URL.RequestURI(), body, ts, nonce)), key)
	if err != nil {
		return err
	}
	// wallets report v as 27/28
	sig[crypto.RecoveryIDOffset] += 27

	req.Header.Set(HeaderCaller, crypto.PubkeyToAddress(key.PublicKey).Hex())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, hexutil.Encode(sig))
	return nil
}

// recoverSigner returns the address whose key produced sig over msg.
func recoverSigner(msg []byte, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id")
	}
	pub, err := crypto.SigToPub(textHash(msg), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// replayGuard remembers (caller, nonce) pairs until their timestamp window
// closes. State is per process.
type replayGuard struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
}

func newReplayGuard() *replayGuard {
	return &replayGuard{seen: make(map[string]time.Time)}
}

// claim records key until expires and reports false if it is already held.
func (g *replayGuard) claim(key string, expires, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if now.Sub(g.lastSweep) > time.Minute {
		for k, exp := range g.seen {
			if now.After(exp) {
				delete(g.seen, k)
			}
		}
		g.lastSweep = now
	}

	if exp, ok := g.seen[key]; ok && !now.After(exp) {
		return false
	}
	g.seen[key] = expires
	return true
}
