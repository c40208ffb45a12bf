// Package server implements the Status Surface: a read-only JSON HTTP API
// exposing the oracle's in-memory state, counters, and run log. No
// endpoint mutates state — every state-changing interaction is
// chain-driven.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/atomicbridge/timeoracle/oracle"
)

var errNoClient = errors.New("server: no chain client configured")

// ChainReader is the narrow per-chain surface the Status Surface needs to
// report liveness and current head.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// RunLog is the in-memory tail of the current run's log file.
type RunLog interface {
	Tail(n int) []string
}

// ChainEndpoint bundles one chain's read access and contract address for
// trade/payment lookups.
type ChainEndpoint struct {
	Client   ChainReader
	Contract common.Address
}

// Pump exposes a chain's Event Pump progress for /status.
type Pump interface {
	LastProcessedBlock() uint64
}

// Config carries every dependency the Status Surface reads from.
type Config struct {
	Coordinator         *oracle.Coordinator
	Asset               ChainEndpoint
	Payment             ChainEndpoint
	AssetPump           Pump
	PaymentPump         Pump
	RunLog              RunLog
	LogFilePath         string
	LogsEndpointEnabled bool
	StartedAt           time.Time
}


// Server is the Status Surface's HTTP handler.
type Server struct {
	cfg    Config
	router http.Handler
}

// New builds a Server ready to be mounted by an http.Server.
func New(cfg Config) *Server {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now()
	}
	s := &Server{cfg: cfg}
	s.router = otelhttp.NewHandler(s.buildRouter(), "timeoracle.status")
	return s
}

// Handler returns the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/stats", s.handleStats)
	r.Get("/logs", s.handleLogs)
	r.Get("/trade/{id}", s.handleTrade)
	r.Get("/payment/{id}", s.handlePayment)
	return r
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assetUp, assetErr := s.reachable(ctx, s.cfg.Asset.Client)
	paymentUp, paymentErr := s.reachable(ctx, s.cfg.Payment.Client)

	resp := map[string]interface{}{
		"ok": assetUp && paymentUp,
		"chains": map[string]interface{}{
			"asset":   chainHealth(assetUp, assetErr),
			"payment": chainHealth(paymentUp, paymentErr),
		},
	}
	status := http.StatusOK
	if !assetUp || !paymentUp {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) reachable(ctx context.Context, client ChainReader) (bool, error) {
	if client == nil {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := client.BlockNumber(ctx)
	return err == nil, err
}

func chainHealth(up bool, err error) map[string]interface{} {
	out := map[string]interface{}{"reachable": up}
	if err != nil {
		out["error"] = err.Error()
	}
	return out
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":                s.chainStatus(ctx, oracle.ChainAsset, s.cfg.Asset.Client, s.cfg.AssetPump),
		"payment":              s.chainStatus(ctx, oracle.ChainPayment, s.cfg.Payment.Client, s.cfg.PaymentPump),
		"cross_chain_mappings": s.cfg.Coordinator.Pairs().Snapshot(),
		"log_file":             s.cfg.LogFilePath,
	})
}

func (s *Server) chainStatus(ctx context.Context, chain oracle.Chain, client ChainReader, pump Pump) map[string]interface{} {
	current := uint64(0)
	if client != nil {
		if n, err := client.BlockNumber(ctx); err == nil {
			current = n
		}
	}
	lastProcessed := uint64(0)
	if pump != nil {
		lastProcessed = pump.LastProcessedBlock()
	}
	state := s.cfg.Coordinator.ChainStateFor(chain)
	snapshot := state.Snapshot()
	active := make([]string, 0, len(snapshot))
	for id := range snapshot {
		active = append(active, id)
	}
	return map[string]interface{}{
		"last_processed_block": lastProcessed,
		"current_block":        current,
		"active_trade_ids":     active,
		"pending_events_count": state.PendingEventsCount(),
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	assetSnapshot := s.cfg.Coordinator.ChainStateFor(oracle.ChainAsset).Snapshot()
	paymentSnapshot := s.cfg.Coordinator.ChainStateFor(oracle.ChainPayment).Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"counters":       s.cfg.Coordinator.Metrics().Gather(),
		"uptime_seconds": time.Since(s.cfg.StartedAt).Seconds(),
		"asset_trades":   tradeAgeSummary(assetSnapshot),
		"payment_trades": tradeAgeSummary(paymentSnapshot),
	})
}

func tradeAgeSummary(trades map[string]*oracle.TradeRecord) map[string]interface{} {
	out := map[string]interface{}{"count": len(trades)}
	var oldest, newest uint64
	first := true
	for _, rec := range trades {
		if first || rec.InceptionTime < oldest {
			oldest = rec.InceptionTime
		}
		if first || rec.InceptionTime > newest {
			newest = rec.InceptionTime
		}
		first = false
	}
	if !first {
		out["oldest_inception_time"] = oldest
		out["newest_inception_time"] = newest
	}
	return out
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.LogsEndpointEnabled {
		writeError(w, http.StatusNotFound, "logs endpoint disabled")
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	var lines []string
	if s.cfg.RunLog != nil {
		lines = s.cfg.RunLog.Tail(limit)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"lines": lines})
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	s.handleLookup(w, r, oracle.ChainAsset)
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	s.handleLookup(w, r, oracle.ChainPayment)
}

// handleLookup reads on-chain getTrade/getPayment for the requested id and,
// if the id is paired, the peer leg's view too.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request, chain oracle.Chain) {
	idParam := chi.URLParam(r, "id")
	tradeID, ok := new(big.Int).SetString(idParam, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	endpoint := s.cfg.Asset
	if chain == oracle.ChainPayment {
		endpoint = s.cfg.Payment
	}
	view, err := s.readView(r.Context(), chain, endpoint, tradeID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := map[string]interface{}{"chain": chain.String(), "trade": view}

	tid := idParam
	if s.cfg.Coordinator.Pairs().IsPaired(tid) {
		peerChain := chain.Other()
		peerEndpoint := s.cfg.Payment
		if peerChain == oracle.ChainAsset {
			peerEndpoint = s.cfg.Asset
		}
		if peerView, err := s.readView(r.Context(), peerChain, peerEndpoint, tradeID); err == nil {
			resp["peer_chain"] = peerChain.String()
			resp["peer_trade"] = peerView
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) readView(ctx context.Context, chain oracle.Chain, endpoint ChainEndpoint, tradeID *big.Int) (oracle.TradeView, error) {
	if endpoint.Client == nil {
		return oracle.TradeView{}, errNoClient
	}
	var calldata []byte
	var err error
	if chain == oracle.ChainAsset {
		calldata, err = oracle.PackGetTrade(tradeID)
	} else {
		calldata, err = oracle.PackGetPayment(tradeID)
	}
	if err != nil {
		return oracle.TradeView{}, err
	}
	out, err := endpoint.Client.CallContract(ctx, ethereum.CallMsg{To: &endpoint.Contract, Data: calldata}, nil)
	if err != nil {
		return oracle.TradeView{}, err
	}
	if chain == oracle.ChainAsset {
		return oracle.UnpackTrade(out)
	}
	return oracle.UnpackPayment(out)
}
