package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "raffle-engine/internal/common/errors"
	"raffle-engine/internal/common/middleware"
	"raffle-engine/internal/common/validation"
	"raffle-engine/internal/features/raffle/events"
	"raffle-engine/internal/features/raffle/ledger"
	"raffle-engine/internal/features/raffle/models/dto"
	"raffle-engine/internal/features/raffle/randomness"
	"raffle-engine/internal/features/raffle/repository/memory"
	"raffle-engine/internal/features/raffle/royalty"
	raffleservice "raffle-engine/internal/features/raffle/service"
	"raffle-engine/internal/features/raffle/settlement"
	"raffle-engine/internal/platform/chain"
)

const (
	oracleToken = "oracle-s3cret"
	maxTickets  = 10

	engineHex    = "0x00000000000000000000000000000000000E4A11"
	collectorHex = "0xC011EC7000000000000000000000000000000001"
	assetHex     = "0xA55E700000000000000000000000000000000001"
	royaltyHex   = "0x7000000000000000000000000000000000000007"

	ticketPrice = "1000000000000000" // 0.001 ether
)

var (
	creatorKey = mustKey("0000000000000000000000000000000000000000000000000000000000c0ffee")
	adminKey   = mustKey("00000000000000000000000000000000000000000000000000000000000ad001")
	buyerXKey  = mustKey("00000000000000000000000000000000000000000000000000000000000b0001")
	buyerYKey  = mustKey("00000000000000000000000000000000000000000000000000000000000b0002")

	creatorHex = crypto.PubkeyToAddress(creatorKey.PublicKey).Hex()
	adminHex   = crypto.PubkeyToAddress(adminKey.PublicKey).Hex()
	buyerXHex  = crypto.PubkeyToAddress(buyerXKey.PublicKey).Hex()
	buyerYHex  = crypto.PubkeyToAddress(buyerYKey.PublicKey).Hex()

	callerKeys = map[string]*ecdsa.PrivateKey{
		creatorHex: creatorKey,
		adminHex:   adminKey,
		buyerXHex:  buyerXKey,
		buyerYHex:  buyerYKey,
	}
)

func mustKey(hex string) *ecdsa.PrivateKey {
	key, err := crypto.HexToECDSA(hex)
	if err != nil {
		panic(err)
	}
	return key
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type testServer struct {
	t           *testing.T
	router      *gin.Engine
	chain       *chain.Chain
	coordinator *randomness.MockCoordinator
	clock       *fakeClock
	nextToken   int
	nonce       int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, validation.Register())

	c := chain.New()
	repo := memory.NewMemoryRepository()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	engineAddr := common.HexToAddress(engineHex)

	resolver := royalty.NewResolver(c, c, 1000, zerolog.Nop())
	engine := settlement.NewEngine(c, c, resolver, settlement.Params{
		FeePercent:   5,
		FlatFee:      big.NewInt(5_000_000_000_000_000),
		FeeCollector: common.HexToAddress(collectorHex),
		Engine:       engineAddr,
	}, zerolog.Nop())

	bus := randomness.NewMemoryBus()
	coordinator := randomness.NewMockCoordinator()
	adapter := randomness.NewAdapter(coordinator, repo, bus, randomness.VRFRequest{NumWords: 1}, zerolog.Nop())

	registry := raffleservice.NewRegistry(repo, ledger.New(repo, maxTickets), engine, adapter, resolver, events.NewRecorder(), raffleservice.Settings{
		GracePeriod:   48 * time.Hour,
		MaxRoyaltyBps: 1000,
		Admins:        []common.Address{common.HexToAddress(adminHex)},
		Now:           clock.Now,
	}, zerolog.Nop())
	bus.Subscribe(registry.HandleFulfillment)
	require.NoError(t, repo.SetCreateEnabled(context.Background(), true))

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.ErrorResponder(zerolog.Nop()))
	router.Use(middleware.CallerIdentity(time.Minute))

	api := router.Group("/api/v1")
	NewRaffleHandler(registry, adapter, oracleToken, zerolog.Nop()).RegisterRoutes(api)
	NewDevChainHandler(c, engineAddr, resolver, zerolog.Nop()).RegisterRoutes(api)

	return &testServer{t: t, router: router, chain: c, coordinator: coordinator, clock: clock}
}

type errorEnvelope struct {
	Success bool `json:"success"`
	Error   struct {
		Code apperrors.ErrorCode `json:"code"`
	} `json:"error"`
}

// do sends a request signed by caller (empty means anonymous) and decodes
// a successful body into out when out is non-nil. Callers without a key in
// callerKeys are sent unsigned.
func (s *testServer) do(method, path, caller string, body interface{}, out interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, "/api/v1"+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if key, ok := callerKeys[caller]; ok {
		s.nonce++
		require.NoError(s.t, middleware.SignRequest(req, key, time.Now(), strconv.Itoa(s.nonce)))
	} else if caller != "" {
		// unknown callers go out as a bare, unsigned header
		req.Header.Set(middleware.HeaderCaller, caller)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if out != nil && w.Code < 400 {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w
}

func (s *testServer) expectError(w *httptest.ResponseRecorder, status int, code apperrors.ErrorCode) {
	s.t.Helper()
	require.Equal(s.t, status, w.Code, w.Body.String())
	var env errorEnvelope
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.False(s.t, env.Success)
	assert.Equal(s.t, code, env.Error.Code)
}

// createRaffle mints a token to the creator through the dev routes, approves
// the engine and opens a raffle expiring in one day.
func (s *testServer) createRaffle() dto.RaffleResponse {
	s.t.Helper()
	s.nextToken++
	tokenID := strconv.Itoa(s.nextToken)

	w := s.do(http.MethodPost, "/dev/chain/mint", "", dto.MintRequest{
		Standard: "erc721", Asset: assetHex, AssetID: tokenID, To: creatorHex,
	}, nil)
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/dev/chain/approve", "", dto.ApproveRequest{
		Asset: assetHex, Owner: creatorHex, Approved: true,
	}, nil)
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())

	var r dto.RaffleResponse
	w = s.do(http.MethodPost, "/raffles", creatorHex, dto.CreateRaffleRequest{
		Asset:       assetHex,
		AssetID:     tokenID,
		Standard:    "erc721",
		TicketPrice: ticketPrice,
		ExpiresAt:   s.clock.now.Add(24 * time.Hour).Unix(),
	}, &r)
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return r
}

func cost(qty int64) string {
	price, _ := new(big.Int).SetString(ticketPrice, 10)
	return new(big.Int).Mul(price, big.NewInt(qty)).String()
}

func (s *testServer) fund(addr string, amount string) {
	s.t.Helper()
	w := s.do(http.MethodPost, "/dev/chain/fund", "", dto.FundRequest{Address: addr, Amount: amount}, nil)
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
}

func (s *testServer) buy(id uint64, buyer string, qty uint32) dto.PurchaseResponse {
	s.t.Helper()
	s.fund(buyer, cost(int64(qty)))
	var res dto.PurchaseResponse
	w := s.do(http.MethodPost, rafflePath(id, "/tickets"), buyer, dto.BuyTicketsRequest{Quantity: qty, Value: cost(int64(qty))}, &res)
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	return res
}

func rafflePath(id uint64, suffix string) string {
	return "/raffles/" + strconv.FormatUint(id, 10) + suffix
}

func (s *testServer) balance(addr string) string {
	s.t.Helper()
	var b dto.BalanceResponse
	w := s.do(http.MethodGet, "/dev/chain/balance/"+addr, "", nil, &b)
	require.Equal(s.t, http.StatusOK, w.Code)
	return b.Wei
}

func TestRaffleLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/dev/chain/royalty", "", dto.SetRoyaltyRequest{
		Asset: assetHex, Receiver: royaltyHex, Bps: 500,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	r := s.createRaffle()
	assert.Equal(t, uint64(1), r.ID)
	assert.Equal(t, "ACTIVE", r.State)
	assert.Equal(t, ticketPrice, r.TicketPrice)
	assert.Equal(t, common.HexToAddress(creatorHex).Hex(), r.Creator)

	first := s.buy(r.ID, buyerXHex, 4)
	assert.Equal(t, uint32(1), first.Batch.StartTicket)
	assert.Equal(t, uint32(4), first.Batch.EndTicket)
	assert.Equal(t, "ACTIVE", first.Raffle.State)

	second := s.buy(r.ID, buyerYHex, 6)
	assert.Equal(t, uint32(5), second.Batch.StartTicket)
	assert.Equal(t, uint32(10), second.Batch.EndTicket)
	assert.Equal(t, "CLOSED", second.Raffle.State)

	var batches []dto.BatchResponse
	w = s.do(http.MethodGet, rafflePath(r.ID, "/batches"), "", nil, &batches)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, batches, 2)
	assert.Equal(t, uint32(6), batches[1].Quantity)

	var b dto.BatchResponse
	w = s.do(http.MethodGet, rafflePath(r.ID, "/batches/1"), "", nil, &b)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, common.HexToAddress(buyerYHex).Hex(), b.Owner)

	var preview dto.SettlementResponse
	w = s.do(http.MethodGet, rafflePath(r.ID, "/settlement"), "", nil, &preview)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, cost(10), preview.Raised)
	assert.Equal(t, "500000000000000", preview.RoyaltyAmount)

	var drawn dto.RaffleResponse
	w = s.do(http.MethodPost, rafflePath(r.ID, "/draw"), "", nil, &drawn)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "PENDING_DRAW", drawn.State)
	assert.Equal(t, s.coordinator.LastRequestID(), drawn.RandomnessRequestID)

	s.expectError(s.do(http.MethodPost, rafflePath(r.ID, "/draw"), "", nil, nil), http.StatusConflict, apperrors.ErrCodeInvalidRaffleState)

	// 5 mod 10 + 1 = ticket 6, held by buyer Y
	w = s.do(http.MethodPost, "/vrf/fulfill", "", dto.FulfillRequest{
		RequestID:   drawn.RandomnessRequestID,
		RandomWords: []string{"5"},
	}, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/vrf/fulfill",
		bytes.NewReader([]byte(`{"request_id":`+strconv.FormatUint(drawn.RandomnessRequestID, 10)+`,"random_words":["5"]}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderOracleToken, oracleToken)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"request_id":`+strconv.FormatUint(drawn.RandomnessRequestID, 10)+`,"fulfilled":true}`, rec.Body.String())

	var got dto.RaffleResponse
	s.do(http.MethodGet, rafflePath(r.ID, ""), "", nil, &got)
	assert.Equal(t, "DRAWN", got.State)
	assert.Equal(t, uint32(6), got.WinningTicket)
	assert.Empty(t, got.Winner)

	// an empty body means no hint
	var settled dto.SettlementResponse
	w = s.do(http.MethodPost, rafflePath(r.ID, "/release"), "", nil, &settled)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, common.HexToAddress(buyerYHex).Hex(), settled.Winner)
	assert.Equal(t, common.HexToAddress(royaltyHex).Hex(), settled.RoyaltyReceiver)

	assert.Equal(t, settled.RoyaltyAmount, s.balance(royaltyHex))
	assert.Equal(t, settled.PlatformFee, s.balance(collectorHex))
	assert.Equal(t, settled.CreatorPayout, s.balance(creatorHex))
	assert.Equal(t, "0", s.balance(engineHex))
	var tok dto.TokenResponse
	s.do(http.MethodGet, "/dev/chain/token/"+assetHex+"/1", "", nil, &tok)
	assert.Equal(t, common.HexToAddress(buyerYHex).Hex(), tok.Owner)

	s.do(http.MethodGet, rafflePath(r.ID, ""), "", nil, &got)
	assert.Equal(t, "RELEASED", got.State)
	assert.Equal(t, common.HexToAddress(buyerYHex).Hex(), got.Winner)

	s.expectError(s.do(http.MethodPost, rafflePath(r.ID, "/release"), "", "{}", nil), http.StatusConflict, apperrors.ErrCodeInvalidRaffleState)
}

func TestRefundLifecycle(t *testing.T) {
	s := newTestServer(t)
	r := s.createRaffle()
	s.buy(r.ID, buyerXHex, 3)

	s.expectError(s.do(http.MethodPost, rafflePath(r.ID, "/refund"), "", nil, nil), http.StatusConflict, apperrors.ErrCodeRefundTooEarly)

	s.clock.now = s.clock.now.Add(24*time.Hour + 48*time.Hour)

	s.expectError(s.do(http.MethodPost, rafflePath(r.ID, "/tickets"), buyerYHex, dto.BuyTicketsRequest{Quantity: 1, Value: cost(1)}, nil),
		http.StatusConflict, apperrors.ErrCodeRaffleExpired)

	var refunded dto.RaffleResponse
	w := s.do(http.MethodPost, rafflePath(r.ID, "/refund"), "", nil, &refunded)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "REFUNDED", refunded.State)

	// the creator cannot reclaim while a holder is unpaid
	s.expectError(s.do(http.MethodPost, rafflePath(r.ID, "/claim-asset"), "", nil, nil), http.StatusConflict, apperrors.ErrCodeOutstandingRefunds)

	s.expectError(s.do(http.MethodPost, rafflePath(r.ID, "/refund-tickets"), buyerYHex, nil, nil), http.StatusConflict, apperrors.ErrCodeNoTicketsOwned)

	var refund dto.RefundResponse
	w = s.do(http.MethodPost, rafflePath(r.ID, "/refund-tickets"), buyerXHex, nil, &refund)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, cost(3), refund.Amount)
	assert.Equal(t, common.HexToAddress(buyerXHex).Hex(), refund.Buyer)
	assert.Equal(t, cost(3), s.balance(buyerXHex))

	s.expectError(s.do(http.MethodPost, rafflePath(r.ID, "/refund-tickets"), buyerXHex, nil, nil), http.StatusConflict, apperrors.ErrCodeTicketsAlreadyRefunded)

	var user dto.UserInfoResponse
	w = s.do(http.MethodGet, rafflePath(r.ID, "/users/"+buyerXHex), "", nil, &user)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, user.IsRefunded)
	assert.Equal(t, uint32(3), user.TicketsOwned)

	var claimed dto.RaffleResponse
	w = s.do(http.MethodPost, rafflePath(r.ID, "/claim-asset"), "", nil, &claimed)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, claimed.AssetReturned)
	assert.Equal(t, common.HexToAddress(creatorHex), s.chain.OwnerOf(common.HexToAddress(assetHex), big.NewInt(1)))

	s.expectError(s.do(http.MethodPost, rafflePath(r.ID, "/claim-asset"), "", nil, nil), http.StatusConflict, apperrors.ErrCodeInvalidRaffleState)
}

func TestCreateRaffle_Rejections(t *testing.T) {
	s := newTestServer(t)
	valid := dto.CreateRaffleRequest{
		Asset:       assetHex,
		AssetID:     "1",
		Standard:    "erc721",
		TicketPrice: ticketPrice,
		ExpiresAt:   s.clock.now.Add(time.Hour).Unix(),
	}

	s.expectError(s.do(http.MethodPost, "/raffles", "", valid, nil), http.StatusUnauthorized, apperrors.ErrCodeUnauthorized)
	s.expectError(s.do(http.MethodPost, "/raffles", "not-an-address", valid, nil), http.StatusBadRequest, apperrors.ErrCodeValidation)
	s.expectError(s.do(http.MethodPost, "/raffles", creatorHex, "{", nil), http.StatusBadRequest, apperrors.ErrCodeBadRequest)

	tests := []struct {
		name   string
		mutate func(r *dto.CreateRaffleRequest)
		status int
		code   apperrors.ErrorCode
	}{
		{"bad asset", func(r *dto.CreateRaffleRequest) { r.Asset = "0x123" }, http.StatusBadRequest, apperrors.ErrCodeValidation},
		{"bad standard", func(r *dto.CreateRaffleRequest) { r.Standard = "erc20" }, http.StatusBadRequest, apperrors.ErrCodeValidation},
		{"negative id", func(r *dto.CreateRaffleRequest) { r.AssetID = "-1" }, http.StatusBadRequest, apperrors.ErrCodeValidation},
		{"zero price", func(r *dto.CreateRaffleRequest) { r.TicketPrice = "0" }, http.StatusBadRequest, apperrors.ErrCodeTicketPriceInvalid},
		{"past expiry", func(r *dto.CreateRaffleRequest) { r.ExpiresAt = s.clock.now.Add(-time.Hour).Unix() }, http.StatusBadRequest, apperrors.ErrCodeInvalidExpiry},
		{"not approved", func(r *dto.CreateRaffleRequest) {}, http.StatusBadGateway, apperrors.ErrCodeAssetTransferFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			s.expectError(s.do(http.MethodPost, "/raffles", creatorHex, req, nil), tt.status, tt.code)
		})
	}

	var list []dto.RaffleResponse
	w := s.do(http.MethodGet, "/raffles", "", nil, &list)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, list)
}

func TestBuyTickets_Rejections(t *testing.T) {
	s := newTestServer(t)
	r := s.createRaffle()
	s.fund(buyerXHex, cost(20))

	path := rafflePath(r.ID, "/tickets")
	s.expectError(s.do(http.MethodPost, path, "", dto.BuyTicketsRequest{Quantity: 1, Value: cost(1)}, nil), http.StatusUnauthorized, apperrors.ErrCodeUnauthorized)
	s.expectError(s.do(http.MethodPost, path, buyerXHex, dto.BuyTicketsRequest{Quantity: 0, Value: "0"}, nil), http.StatusBadRequest, apperrors.ErrCodeTicketAmountInvalid)
	s.expectError(s.do(http.MethodPost, path, buyerXHex, dto.BuyTicketsRequest{Quantity: 11, Value: cost(11)}, nil), http.StatusBadRequest, apperrors.ErrCodeTicketAmountInvalid)
	s.expectError(s.do(http.MethodPost, path, buyerXHex, dto.BuyTicketsRequest{Quantity: 2, Value: cost(1)}, nil), http.StatusBadRequest, apperrors.ErrCodeMsgValueInvalid)
	s.expectError(s.do(http.MethodPost, path, buyerXHex, dto.BuyTicketsRequest{Quantity: 2}, nil), http.StatusBadRequest, apperrors.ErrCodeValidation)
	s.expectError(s.do(http.MethodPost, rafflePath(99, "/tickets"), buyerXHex, dto.BuyTicketsRequest{Quantity: 1, Value: cost(1)}, nil), http.StatusConflict, apperrors.ErrCodeInvalidRaffleState)

	// unfunded buyer
	s.expectError(s.do(http.MethodPost, path, buyerYHex, dto.BuyTicketsRequest{Quantity: 1, Value: cost(1)}, nil), http.StatusBadGateway, apperrors.ErrCodePaymentTransferFailed)

	var got dto.RaffleResponse
	s.do(http.MethodGet, rafflePath(r.ID, ""), "", nil, &got)
	assert.Zero(t, got.TicketsSold)
	assert.Equal(t, cost(20), s.balance(buyerXHex))
}

func TestLookups(t *testing.T) {
	s := newTestServer(t)
	r := s.createRaffle()
	s.buy(r.ID, buyerXHex, 2)
	closed := s.createRaffle()
	s.buy(closed.ID, buyerXHex, maxTickets)

	s.expectError(s.do(http.MethodGet, "/raffles/0", "", nil, nil), http.StatusBadRequest, apperrors.ErrCodeValidation)
	s.expectError(s.do(http.MethodGet, "/raffles/abc", "", nil, nil), http.StatusBadRequest, apperrors.ErrCodeValidation)
	s.expectError(s.do(http.MethodGet, "/raffles/42", "", nil, nil), http.StatusNotFound, apperrors.ErrCodeNotFound)
	s.expectError(s.do(http.MethodGet, rafflePath(r.ID, "/batches/5"), "", nil, nil), http.StatusNotFound, apperrors.ErrCodeNotFound)
	s.expectError(s.do(http.MethodGet, rafflePath(r.ID, "/batches/x"), "", nil, nil), http.StatusBadRequest, apperrors.ErrCodeValidation)
	s.expectError(s.do(http.MethodGet, rafflePath(r.ID, "/users/nobody"), "", nil, nil), http.StatusBadRequest, apperrors.ErrCodeValidation)
	s.expectError(s.do(http.MethodGet, "/raffles?state=LOST", "", nil, nil), http.StatusBadRequest, apperrors.ErrCodeValidation)

	var list []dto.RaffleResponse
	w := s.do(http.MethodGet, "/raffles?state=closed", "", nil, &list)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, list, 1)
	assert.Equal(t, closed.ID, list[0].ID)

	s.do(http.MethodGet, "/raffles", "", nil, &list)
	assert.Len(t, list, 2)

	var user dto.UserInfoResponse
	w = s.do(http.MethodGet, rafflePath(r.ID, "/users/"+buyerYHex), "", nil, &user)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, user.TicketsOwned)
}

func TestRoyaltyQuote(t *testing.T) {
	s := newTestServer(t)

	var q dto.RoyaltyResponse
	w := s.do(http.MethodGet, "/royalties/"+assetHex+"/7", "", nil, &q)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, q.BasisPoints)
	assert.Equal(t, "none", q.Source)

	w = s.do(http.MethodPost, "/dev/chain/royalty", "", dto.SetRoyaltyRequest{
		Asset: assetHex, Receiver: royaltyHex, Bps: 250, Registry: true,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	s.do(http.MethodGet, "/royalties/"+assetHex+"/7", "", nil, &q)
	assert.Equal(t, uint16(250), q.BasisPoints)
	assert.Equal(t, "registry", q.Source)
	assert.Equal(t, common.HexToAddress(royaltyHex).Hex(), q.Receiver)

	s.expectError(s.do(http.MethodGet, "/royalties/nope/7", "", nil, nil), http.StatusBadRequest, apperrors.ErrCodeValidation)
	s.expectError(s.do(http.MethodGet, "/royalties/"+assetHex+"/-7", "", nil, nil), http.StatusBadRequest, apperrors.ErrCodeValidation)
}

func TestCreateEnabledToggle(t *testing.T) {
	s := newTestServer(t)

	var flag dto.CreateEnabledResponse
	w := s.do(http.MethodGet, "/admin/create-enabled", "", nil, &flag)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, flag.CreateEnabled)

	s.expectError(s.do(http.MethodPost, "/admin/create-enabled/toggle", "", nil, nil), http.StatusUnauthorized, apperrors.ErrCodeUnauthorized)
	s.expectError(s.do(http.MethodPost, "/admin/create-enabled/toggle", creatorHex, nil, nil), http.StatusForbidden, apperrors.ErrCodeNotAdmin)

	w = s.do(http.MethodPost, "/admin/create-enabled/toggle", adminHex, nil, &flag)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, flag.CreateEnabled)

	s.do(http.MethodGet, "/admin/create-enabled", "", nil, &flag)
	assert.False(t, flag.CreateEnabled)

	s.expectError(s.do(http.MethodPost, "/raffles", creatorHex, dto.CreateRaffleRequest{
		Asset: assetHex, AssetID: "1", Standard: "erc721", TicketPrice: ticketPrice, ExpiresAt: s.clock.now.Add(time.Hour).Unix(),
	}, nil), http.StatusForbidden, apperrors.ErrCodeCreateDisabled)
}

func TestFulfill_Rejections(t *testing.T) {
	s := newTestServer(t)

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/vrf/fulfill", bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.HeaderOracleToken, oracleToken)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	s.expectError(send(`{"request_id":77,"random_words":["1"]}`), http.StatusBadGateway, apperrors.ErrCodeUnknownRequest)
	s.expectError(send(`{"request_id":0,"random_words":["1"]}`), http.StatusBadRequest, apperrors.ErrCodeValidation)
	s.expectError(send(`{"request_id":1,"random_words":["0x01"]}`), http.StatusBadRequest, apperrors.ErrCodeValidation)

	r := s.createRaffle()
	s.buy(r.ID, buyerXHex, maxTickets)
	var drawn dto.RaffleResponse
	s.do(http.MethodPost, rafflePath(r.ID, "/draw"), "", nil, &drawn)

	id := strconv.FormatUint(drawn.RandomnessRequestID, 10)
	s.expectError(send(`{"request_id":`+id+`,"random_words":[]}`), http.StatusBadRequest, apperrors.ErrCodeBadRequest)

	// the rejected call did not consume the request
	w := send(`{"request_id":` + id + `,"random_words":["3"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s.expectError(send(`{"request_id":`+id+`,"random_words":["3"]}`), http.StatusBadGateway, apperrors.ErrCodeUnknownRequest)
}

func TestReleaseWithHint(t *testing.T) {
	s := newTestServer(t)
	r := s.createRaffle()
	s.buy(r.ID, buyerXHex, 4)
	s.buy(r.ID, buyerYHex, 6)
	s.do(http.MethodPost, rafflePath(r.ID, "/draw"), "", nil, nil)
	require.NoError(t, s.coordinator.FulfillRandomWords(context.Background(), s.coordinator.LastRequestID(), big.NewInt(2)))

	s.expectError(s.do(http.MethodPost, rafflePath(r.ID, "/release"), "", `{"batch_hint":"x"}`, nil), http.StatusBadRequest, apperrors.ErrCodeBadRequest)

	// ticket 3 sits in batch 0; a wrong hint still resolves the real holder
	var settled dto.SettlementResponse
	w := s.do(http.MethodPost, rafflePath(r.ID, "/release"), "", `{"batch_hint":1}`, &settled)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, uint32(3), settled.WinningTicket)
	assert.Equal(t, common.HexToAddress(buyerXHex).Hex(), settled.Winner)
	assert.Empty(t, settled.RoyaltyReceiver)
	assert.Equal(t, "0", settled.RoyaltyAmount)
}

func TestDevChainRoutes(t *testing.T) {
	s := newTestServer(t)

	var bal dto.BalanceResponse
	w := s.do(http.MethodPost, "/dev/chain/fund", "", dto.FundRequest{Address: buyerXHex, Amount: "1500000000000000000"}, &bal)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1500000000000000000", bal.Wei)
	assert.Equal(t, "1.5", bal.Ether)

	w = s.do(http.MethodPost, "/dev/chain/mint", "", dto.MintRequest{Standard: "erc721", Asset: assetHex, AssetID: "9", To: creatorHex}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	s.expectError(s.do(http.MethodPost, "/dev/chain/mint", "", dto.MintRequest{Standard: "erc721", Asset: assetHex, AssetID: "9", To: creatorHex}, nil),
		http.StatusConflict, apperrors.ErrCodeConflict)

	w = s.do(http.MethodPost, "/dev/chain/mint", "", dto.MintRequest{Standard: "erc1155", Asset: assetHex, AssetID: "9", To: creatorHex, Amount: "3"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var tok dto.TokenResponse
	w = s.do(http.MethodGet, "/dev/chain/token/"+assetHex+"/9?holder="+creatorHex, "", nil, &tok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, common.HexToAddress(creatorHex).Hex(), tok.Owner)
	assert.Equal(t, "3", tok.Balance)

	tok = dto.TokenResponse{}
	w = s.do(http.MethodGet, "/dev/chain/token/"+assetHex+"/10", "", nil, &tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, tok.Owner)

	s.expectError(s.do(http.MethodPost, "/dev/chain/fund", "", dto.FundRequest{Address: "0x1", Amount: "1"}, nil), http.StatusBadRequest, apperrors.ErrCodeValidation)
	s.expectError(s.do(http.MethodGet, "/dev/chain/balance/zzz", "", nil, nil), http.StatusBadRequest, apperrors.ErrCodeValidation)
}

func TestCallerHeaderWithoutSignature(t *testing.T) {
	s := newTestServer(t)
	r := s.createRaffle()
	s.fund(buyerYHex, cost(5))

	spoofed := func(method, path, caller string, body interface{}) *httptest.ResponseRecorder {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req := httptest.NewRequest(method, "/api/v1"+path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.HeaderCaller, caller)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	s.expectError(spoofed(http.MethodPost, "/admin/create-enabled/toggle", adminHex, nil), http.StatusUnauthorized, apperrors.ErrCodeUnauthorized)
	var flag dto.CreateEnabledResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/admin/create-enabled", "", nil, &flag).Code)
	assert.True(t, flag.CreateEnabled)

	s.expectError(spoofed(http.MethodPost, rafflePath(r.ID, "/tickets"), buyerYHex, dto.BuyTicketsRequest{Quantity: 5, Value: cost(5)}),
		http.StatusUnauthorized, apperrors.ErrCodeUnauthorized)
	assert.Equal(t, cost(5), s.balance(buyerYHex))

	// a signature by another key does not make the header true
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/create-enabled/toggle", nil)
	require.NoError(t, middleware.SignRequest(req, buyerXKey, time.Now(), "forged"))
	req.Header.Set(middleware.HeaderCaller, adminHex)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	s.expectError(w, http.StatusUnauthorized, apperrors.ErrCodeUnauthorized)
}
