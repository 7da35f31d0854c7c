package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dstable/native/amo"
	"dstable/native/issuer"
	"dstable/native/vault"
	"dstable/observability"
)

// Server exposes the operational read surface: health, solvency and parity
// status, and the supply operation journal. It performs no writes; every state
// change goes through the role-gated engine APIs.
type Server struct {
	issuer  *issuer.Issuer
	vault   *vault.CollateralVault
	manager *amo.Manager
	journal *amo.Journal
	log     *slog.Logger
}

// NewServer wires the read-only endpoints over the protocol engines.
func NewServer(iss *issuer.Issuer, cv *vault.CollateralVault, manager *amo.Manager, journal *amo.Journal, log *slog.Logger) *Server {
	return &Server{issuer: iss, vault: cv, manager: manager, journal: journal, log: log}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/status/solvency", s.handleSolvency)
	r.Get("/v1/status/parity", s.handleParity)
	r.Get("/v1/amo/operations", s.handleOperations)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type solvencyResponse struct {
	Circulating string `json:"circulating"`
	VaultValue  string `json:"vaultValue"`
	Capacity    string `json:"capacity"`
	Solvent     bool   `json:"solvent"`
}

func (s *Server) handleSolvency(w http.ResponseWriter, _ *http.Request) {
	vaultValue, err := s.vault.TotalValue()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	capacity, err := s.issuer.BaseValueToStableAmount(vaultValue)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	circulating := s.issuer.CirculatingSupply()
	observability.Protocol().SetSolvencyRatio(solvencyRatio(circulating, capacity))
	s.writeJSON(w, http.StatusOK, solvencyResponse{
		Circulating: circulating.String(),
		VaultValue:  vaultValue.String(),
		Capacity:    capacity.String(),
		Solvent:     circulating.Cmp(capacity) <= 0,
	})
}

type parityResponse struct {
	TotalAllocated string `json:"totalAllocated"`
	DebtSupply     string `json:"debtSupply"`
	InTolerance    bool   `json:"inTolerance"`
	Detail         string `json:"detail,omitempty"`
}

func (s *Server) handleParity(w http.ResponseWriter, _ *http.Request) {
	resp := parityResponse{
		TotalAllocated: s.manager.TotalAllocated().String(),
		InTolerance:    true,
	}
	if err := s.manager.CheckParity(); err != nil {
		resp.InTolerance = false
		resp.Detail = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type operationResponse struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Wallet       string `json:"wallet"`
	StableAmount string `json:"stableAmount"`
	DebtUnits    string `json:"debtUnits"`
	CreatedAt    int64  `json:"createdAt"`
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	startTs, err := parseTimestamp(r.URL.Query().Get("start"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	endTs, err := parseTimestamp(r.URL.Query().Get("end"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	records, err := s.journal.List(startTs, endTs)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]operationResponse, 0, len(records))
	for _, record := range records {
		out = append(out, operationResponse{
			ID:           record.ID,
			Kind:         record.Kind,
			Wallet:       common.Address(record.Wallet).Hex(),
			StableAmount: record.StableAmount.String(),
			DebtUnits:    record.DebtUnits.String(),
			CreatedAt:    record.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && s.log != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if s.log != nil {
		s.log.Warn("request failed", "status", status, "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseTimestamp(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, errors.New("timestamp must be a non-negative unix time")
	}
	return value, nil
}

func solvencyRatio(circulating, capacity *big.Int) float64 {
	if capacity.Sign() <= 0 {
		if circulating.Sign() > 0 {
			return 1
		}
		return 0
	}
	ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(circulating), new(big.Float).SetInt(capacity)).Float64()
	return ratio
}
