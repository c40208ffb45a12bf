package server

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/atomicbridge/timeoracle/oracle"
)

type fakeChainReader struct {
	head    uint64
	headErr error
	call    []byte
	callErr error
}

func (f *fakeChainReader) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, f.headErr
}

func (f *fakeChainReader) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f.call, f.callErr
}

type fakePump struct{ last uint64 }

func (f fakePump) LastProcessedBlock() uint64 { return f.last }

type fakeRunLog struct{ lines []string }

func (f fakeRunLog) Tail(n int) []string {
	if n > len(f.lines) {
		n = len(f.lines)
	}
	return f.lines[len(f.lines)-n:]
}

func newTestServer(t *testing.T, asset, payment *fakeChainReader) (*Server, *oracle.Coordinator) {
	t.Helper()
	coordinator := oracle.NewCoordinator(
		oracle.NewChainState(oracle.ChainAsset),
		oracle.NewChainState(oracle.ChainPayment),
		nil, nil,
		oracle.NewPairIndex(),
		oracle.SystemClock{},
		oracle.NewMetrics(),
		nil,
	)
	cfg := Config{
		Coordinator: coordinator,
		Asset:       ChainEndpoint{Client: asset, Contract: common.Address{0x1}},
		Payment:     ChainEndpoint{Client: payment, Contract: common.Address{0x2}},
		AssetPump:   fakePump{last: 10},
		PaymentPump: fakePump{last: 20},
		RunLog:      fakeRunLog{lines: []string{"a", "b", "c"}},
		LogFilePath: "/tmp/timeoracle.log",
	}
	return New(cfg), coordinator
}

func TestHealthReportsUnreachableChain(t *testing.T) {
	asset := &fakeChainReader{head: 100}
	payment := &fakeChainReader{headErr: ethereum.NotFound}
	srv, _ := newTestServer(t, asset, payment)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["ok"] != false {
		t.Fatalf("expected ok=false, got %v", body["ok"])
	}
}

func TestStatusReportsPumpProgressAndCurrentBlock(t *testing.T) {
	asset := &fakeChainReader{head: 150}
	payment := &fakeChainReader{head: 200}
	srv, _ := newTestServer(t, asset, payment)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	assetStatus, ok := body["asset"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing asset status: %v", body)
	}
	if assetStatus["last_processed_block"].(float64) != 10 {
		t.Fatalf("expected last_processed_block 10, got %v", assetStatus["last_processed_block"])
	}
	if assetStatus["current_block"].(float64) != 150 {
		t.Fatalf("expected current_block 150, got %v", assetStatus["current_block"])
	}
}

func TestLogsEndpointDisabledByDefault(t *testing.T) {
	srv, _ := newTestServer(t, &fakeChainReader{}, &fakeChainReader{})

	req := httptest.NewRequest(http.MethodGet, "/logs", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when logs disabled, got %d", rec.Code)
	}
}

func TestLogsEndpointReturnsTailWhenEnabled(t *testing.T) {
	asset := &fakeChainReader{}
	payment := &fakeChainReader{}
	coordinator := oracle.NewCoordinator(
		oracle.NewChainState(oracle.ChainAsset),
		oracle.NewChainState(oracle.ChainPayment),
		nil, nil,
		oracle.NewPairIndex(),
		oracle.SystemClock{},
		oracle.NewMetrics(),
		nil,
	)
	srv := New(Config{
		Coordinator:         coordinator,
		Asset:               ChainEndpoint{Client: asset},
		Payment:             ChainEndpoint{Client: payment},
		RunLog:              fakeRunLog{lines: []string{"a", "b", "c"}},
		LogsEndpointEnabled: true,
	})

	req := httptest.NewRequest(http.MethodGet, "/logs?limit=2", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Lines []string `json:"lines"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Lines) != 2 || body.Lines[0] != "b" || body.Lines[1] != "c" {
		t.Fatalf("unexpected tail: %v", body.Lines)
	}
}

func TestTradeLookupRejectsInvalidID(t *testing.T) {
	srv, _ := newTestServer(t, &fakeChainReader{}, &fakeChainReader{})

	req := httptest.NewRequest(http.MethodGet, "/trade/not-a-number", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTradeLookupSurfacesChainError(t *testing.T) {
	asset := &fakeChainReader{callErr: errTestCallFailed}
	srv, _ := newTestServer(t, asset, &fakeChainReader{})

	req := httptest.NewRequest(http.MethodGet, "/trade/42", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTestCallFailed = testError("call failed")
