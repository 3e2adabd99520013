package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"oguogu/core/challenge"
	"oguogu/crypto"
	"oguogu/ledger"
	"oguogu/registry"
	"oguogu/storage"
)

const (
	testContractAddr = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testChallenger   = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

	// Well-known local development keys, not production secrets.
	testOperatorKey   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testChallengerKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

type stubRelay struct {
	submitted [][]byte
	receipt   *types.Receipt
	receipts  map[common.Hash]*types.Receipt
	blockTime time.Time
}

func (s *stubRelay) Submit(_ context.Context, data []byte) (*types.Receipt, error) {
	s.submitted = append(s.submitted, data)
	return s.receipt, nil
}

func (s *stubRelay) WaitForReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	if r, ok := s.receipts[txHash]; ok {
		return r, nil
	}
	return nil, &ledger.ConfirmationTimeoutError{TxHash: txHash}
}

func (s *stubRelay) BlockTime(context.Context, *types.Receipt) (time.Time, error) {
	return s.blockTime, nil
}

type stubGrader struct {
	result *registry.GradeResult
}

func (g *stubGrader) Grade(context.Context, *challenge.Challenge, *registry.PhotoContent) (*registry.GradeResult, error) {
	return g.result, nil
}

type stubStore struct {
	objects map[string][]byte
}

func (s *stubStore) Put(_ context.Context, key string, data []byte, _ string) error {
	s.objects[key] = data
	return nil
}

func (s *stubStore) Stream(_ context.Context, key string) (io.ReadCloser, string, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("no such key %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), "image/jpeg", nil
}

type testEnv struct {
	server *httptest.Server
	repo   *storage.ChallengeRepository
	relay  *stubRelay
	grader *stubGrader
	store  *stubStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, storage.AutoMigrate(db))
	repo := storage.NewChallengeRepository(db)

	signer, err := crypto.NewSigner(testOperatorKey)
	require.NoError(t, err)
	contract, err := ledger.NewContract(common.HexToAddress(testContractAddr))
	require.NoError(t, err)

	relay := &stubRelay{receipts: make(map[common.Hash]*types.Receipt), blockTime: time.Now().UTC()}
	grader := &stubGrader{result: &registry.GradeResult{IsCorrect: true, Message: "ok"}}
	store := &stubStore{objects: make(map[string][]byte)}

	srv := New(Config{
		Challenges: registry.NewChallengeService(repo, signer, relay, contract, nil),
		Activities: registry.NewActivityService(repo, relay, contract, store, grader, nil),
		Rewards:    registry.NewRewardService(repo, relay, contract, nil),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, repo: repo, relay: relay, grader: grader, store: store}
}

// authToken builds a "message:signature" bearer token for the given key.
func authToken(t *testing.T, privKeyHex string) string {
	t.Helper()
	key, err := ethcrypto.HexToECDSA(privKeyHex)
	require.NoError(t, err)
	message := "login to oguogu"
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	sig, err := ethcrypto.Sign(ethcrypto.Keccak256([]byte(prefixed)), key)
	require.NoError(t, err)
	return message + ":" + hexutil.Encode(sig)
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createChallengeReq(nonce uint32) challengeCreateDTO {
	now := time.Now().UTC()
	return challengeCreateDTO{
		Nonce:                nonce,
		Title:                "morning run streak",
		Type:                 "photos",
		RewardAmount:         "1000000",
		StartDate:            now.Add(-time.Hour),
		EndDate:              now.Add(48 * time.Hour),
		MinimumActivityCount: 1,
	}
}

func (e *testEnv) createChallenge(t *testing.T, token string) challengeSignatureDTO {
	t.Helper()
	payload, err := json.Marshal(createChallengeReq(1))
	require.NoError(t, err)
	resp := e.do(t, http.MethodPost, "/challenges", token, bytes.NewReader(payload), "application/json")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeJSON[challengeSignatureDTO](t, resp)
}

// openChallenge drives a created challenge through event reconciliation.
func (e *testEnv) openChallenge(t *testing.T, token string, challengeHash common.Hash, tokenID int64) {
	t.Helper()
	txHash := common.HexToHash(fmt.Sprintf("0x%064x", tokenID))
	e.relay.receipts[txHash] = &types.Receipt{
		TxHash: txHash,
		Status: types.ReceiptStatusSuccessful,
		Logs:   []*types.Log{createdLog(t, tokenID, challengeHash, common.HexToAddress(testChallenger))},
	}
	payload, err := json.Marshal(challengeRegisterDTO{TransactionHash: txHash.Hex()})
	require.NoError(t, err)
	resp := e.do(t, http.MethodPost, "/challenges/"+challengeHash.Hex()+"/register", token, bytes.NewReader(payload), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

const testEventsABI = `[
  {"type":"event","name":"ChallengeCreated","anonymous":false,"inputs":[
    {"name":"tokenId","type":"uint256","indexed":true},
    {"name":"challengeHash","type":"bytes32","indexed":false},
    {"name":"challenger","type":"address","indexed":false}]},
  {"type":"event","name":"ChallengeCompleted","anonymous":false,"inputs":[
    {"name":"tokenId","type":"uint256","indexed":true},
    {"name":"status","type":"uint8","indexed":false},
    {"name":"paymentReward","type":"uint256","indexed":false}]}
]`

func createdLog(t *testing.T, tokenID int64, challengeHash common.Hash, challenger common.Address) *types.Log {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(testEventsABI))
	require.NoError(t, err)
	ev := parsed.Events["ChallengeCreated"]
	data, err := ev.Inputs.NonIndexed().Pack([32]byte(challengeHash), challenger)
	require.NoError(t, err)
	return &types.Log{
		Address: common.HexToAddress(testContractAddr),
		Topics:  []common.Hash{ev.ID, common.BigToHash(big.NewInt(tokenID))},
		Data:    data,
	}
}

func completedLog(t *testing.T, tokenID int64, status uint8, reward *big.Int) *types.Log {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(testEventsABI))
	require.NoError(t, err)
	ev := parsed.Events["ChallengeCompleted"]
	data, err := ev.Inputs.NonIndexed().Pack(status, reward)
	require.NoError(t, err)
	return &types.Log{
		Address: common.HexToAddress(testContractAddr),
		Topics:  []common.Hash{ev.ID, common.BigToHash(big.NewInt(tokenID))},
		Data:    data,
	}
}

func multipartPhoto(t *testing.T, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("activity_file", "run.jpg")
	require.NoError(t, err)
	_, err = part.Write(image)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

// -- tests --------------------------------------------------------------

func TestRootAndHealthAreOpen(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	banner := decodeJSON[map[string]string](t, resp)
	require.Equal(t, "Oguogu API Server", banner["message"])

	resp = env.do(t, http.MethodGet, "/healthz", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestChallengesRequireAuthentication(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/challenges", "", nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/challenges", "garbage-token", nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateChallengeReturnsVerifiableSignature(t *testing.T) {
	env := newTestEnv(t)
	token := authToken(t, testChallengerKey)

	sig := env.createChallenge(t, token)
	require.NotEmpty(t, sig.ChallengeHash)
	require.Equal(t, testChallenger, sig.Payload.Recipient)

	operator, err := crypto.NewSigner(testOperatorKey)
	require.NoError(t, err)
	recovered, err := crypto.RecoverDigest(common.HexToHash(sig.ChallengeHash), common.FromHex(sig.Signature))
	require.NoError(t, err)
	require.Equal(t, operator.Address(), recovered)
}

func TestCreateChallengeRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	token := authToken(t, testChallengerKey)

	req := createChallengeReq(1)
	req.RewardAmount = "0"
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	resp := env.do(t, http.MethodPost, "/challenges", token, bytes.NewReader(payload), "application/json")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestChallengeLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	token := authToken(t, testChallengerKey)

	sig := env.createChallenge(t, token)
	challengeHash := common.HexToHash(sig.ChallengeHash)
	env.openChallenge(t, token, challengeHash, 42)

	resp := env.do(t, http.MethodGet, "/challenges/"+challengeHash.Hex(), token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dto := decodeJSON[challengeDTO](t, resp)
	require.Equal(t, "OPEN", dto.Status)
	require.NotNil(t, dto.ID)
	require.Equal(t, int64(42), *dto.ID)

	// Upload photo evidence.
	body, contentType := multipartPhoto(t, []byte("jpeg-bytes"))
	resp = env.do(t, http.MethodPost, "/challenges/"+challengeHash.Hex()+"/photo-activities", token, body, contentType)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	activityResp := decodeJSON[activityHashDTO](t, resp)
	activityHash := common.HexToHash(activityResp.ActivityHash)

	// Anchor it with the challenger's signature.
	key, err := ethcrypto.HexToECDSA(testChallengerKey)
	require.NoError(t, err)
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", 32, activityHash.Bytes())
	rawSig, err := ethcrypto.Sign(ethcrypto.Keccak256([]byte(prefixed)), key)
	require.NoError(t, err)

	env.relay.receipt = &types.Receipt{TxHash: common.Hash{0x77}, Status: types.ReceiptStatusSuccessful}
	form := "activity_signature=" + hexutil.Encode(rawSig)
	resp = env.do(t, http.MethodPost, "/challenges/"+challengeHash.Hex()+"/photo-activities/"+activityHash.Hex(), token, strings.NewReader(form), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The calldata carries the wallet's signature with its 27/28
	// recovery id restored, as on-chain ecrecover requires.
	wireSig := make([]byte, len(rawSig))
	copy(wireSig, rawSig)
	wireSig[64] += 27
	require.Len(t, env.relay.submitted, 1)
	require.True(t, bytes.Contains(env.relay.submitted[0], wireSig))

	// Re-anchoring the same activity is a conflict and submits nothing.
	resp = env.do(t, http.MethodPost, "/challenges/"+challengeHash.Hex()+"/photo-activities/"+activityHash.Hex(), token, strings.NewReader(form), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
	require.Len(t, env.relay.submitted, 1)

	// Stream the archived image back.
	resp = env.do(t, http.MethodGet, "/challenges/"+challengeHash.Hex()+"/photo-activities/"+activityHash.Hex(), token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	streamed, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, []byte("jpeg-bytes"), streamed)

	// One anchored activity meets the quota, so settlement is available.
	env.relay.receipt = &types.Receipt{
		TxHash: common.Hash{0x88},
		Status: types.ReceiptStatusSuccessful,
		Logs:   []*types.Log{completedLog(t, 42, ledger.CompletedStatusSuccess, big.NewInt(1_000_000))},
	}
	resp = env.do(t, http.MethodPost, "/challenges/"+challengeHash.Hex()+"/complete", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	completed := decodeJSON[challengeDTO](t, resp)
	require.Equal(t, "SUCCESS", completed.Status)
	require.Equal(t, "1000000", completed.PaymentReward)
}

func TestGetChallengeForeignOwnerForbidden(t *testing.T) {
	env := newTestEnv(t)
	owner := authToken(t, testChallengerKey)
	stranger := authToken(t, "8b3a350cf5c34c9194ca85829a2df0ec3153be0318b5e2d3348e872092edffba")

	sig := env.createChallenge(t, owner)
	resp := env.do(t, http.MethodGet, "/challenges/"+sig.ChallengeHash, stranger, nil, "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestGetChallengeNotFound(t *testing.T) {
	env := newTestEnv(t)
	token := authToken(t, testChallengerKey)
	missing := common.Hash{0xaa}.Hex()

	resp := env.do(t, http.MethodGet, "/challenges/"+missing, token, nil, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestRejectedPhotoSurfacesGraderMessage(t *testing.T) {
	env := newTestEnv(t)
	token := authToken(t, testChallengerKey)

	sig := env.createChallenge(t, token)
	challengeHash := common.HexToHash(sig.ChallengeHash)
	env.openChallenge(t, token, challengeHash, 7)

	env.grader.result = &registry.GradeResult{IsCorrect: false, Message: "no activity visible"}
	body, contentType := multipartPhoto(t, []byte("jpeg-bytes"))
	resp := env.do(t, http.MethodPost, "/challenges/"+challengeHash.Hex()+"/photo-activities", token, body, contentType)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	payload := decodeJSON[map[string]string](t, resp)
	require.Equal(t, "no activity visible", payload["error"])
}

func TestListChallengesFiltersByStatus(t *testing.T) {
	env := newTestEnv(t)
	token := authToken(t, testChallengerKey)

	sig := env.createChallenge(t, token)
	challengeHash := common.HexToHash(sig.ChallengeHash)
	env.openChallenge(t, token, challengeHash, 3)

	resp := env.do(t, http.MethodGet, "/challenges", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeJSON[challengeListDTO](t, resp)
	require.Len(t, list.Challenges, 1)

	resp = env.do(t, http.MethodGet, "/challenges?status=INIT", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list = decodeJSON[challengeListDTO](t, resp)
	require.Empty(t, list.Challenges)
}
