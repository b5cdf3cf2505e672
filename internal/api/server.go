package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"positionScope/internal/model"
	"positionScope/internal/storage"
	"positionScope/internal/valuation"
)

// PositionReader is the read side of the store used by the API.
type PositionReader interface {
	GetPosition(ctx context.Context, wallet, pair string) (model.Position, error)
	PositionsByWallet(ctx context.Context, wallet string) ([]model.Position, error)
}

// Updater refreshes a single position from the chain.
type Updater interface {
	UpdateSingle(ctx context.Context, pair, wallet common.Address) (*model.Position, error)
}

// Server exposes stored positions and the single-position refresh.
type Server struct {
	positions PositionReader
	updater   Updater
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
}

func NewServer(positions PositionReader, updater Updater, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{positions: positions, updater: updater, gatherer: gatherer, logger: logger}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /positions/{wallet}", s.handlePositions)
	mux.HandleFunc("GET /positions/{wallet}/{pair}/preview", s.handlePreview)
	mux.HandleFunc("POST /positions/update-single", s.handleUpdateSingle)

	return s.logRequests(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// PositionsResponse is the portfolio view of one wallet.
type PositionsResponse struct {
	Wallet       string           `json:"wallet_address"`
	Positions    []model.Position `json:"positions"`
	Count        int              `json:"count"`
	TotalValue   string           `json:"total_value_in_target"`
	TotalDisplay string           `json:"total_value_display"`
	SnapshotAt   *time.Time       `json:"snapshot_at,omitempty"`
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("wallet")
	if !storage.ValidAddress(wallet) {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	positions, err := s.positions.PositionsByWallet(r.Context(), wallet)
	if err != nil {
		s.logger.Error("list positions", zap.String("wallet", wallet), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load positions")
		return
	}
	writeJSON(w, http.StatusOK, Portfolio(storage.Key(wallet), positions))
}

// Portfolio sorts positions by value and totals them. The snapshot time is
// the most recent position update.
func Portfolio(wallet string, positions []model.Position) PositionsResponse {
	if positions == nil {
		positions = []model.Position{}
	}
	storage.SortByValue(positions)

	total := new(big.Int)
	var snapshot time.Time
	for _, p := range positions {
		if v, err := valuation.ParseAmount(p.TotalValue); err == nil {
			total.Add(total, v)
		}
		if p.UpdatedAt.After(snapshot) {
			snapshot = p.UpdatedAt
		}
	}

	resp := PositionsResponse{
		Wallet:       wallet,
		Positions:    positions,
		Count:        len(positions),
		TotalValue:   total.String(),
		TotalDisplay: valuation.FormatUnits(total, valuation.PricePrecision, valuation.DisplayPlaces),
	}
	if !snapshot.IsZero() {
		resp.SnapshotAt = &snapshot
	}
	return resp
}

// UpdateSingleRequest names the position to refresh.
type UpdateSingleRequest struct {
	PairAddress   string `json:"pairAddress"`
	WalletAddress string `json:"walletAddress"`
}

// UpdateSingleResponse reports the outcome of one refresh.
type UpdateSingleResponse struct {
	Success  bool            `json:"success"`
	Deleted  bool            `json:"deleted,omitempty"`
	Position *model.Position `json:"position,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func (s *Server) handleUpdateSingle(w http.ResponseWriter, r *http.Request) {
	var req UpdateSingleRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !storage.ValidAddress(req.PairAddress) || !storage.ValidAddress(req.WalletAddress) {
		writeError(w, http.StatusBadRequest, "pairAddress and walletAddress must be valid addresses")
		return
	}

	pair := common.HexToAddress(req.PairAddress)
	wallet := common.HexToAddress(req.WalletAddress)
	position, err := s.updater.UpdateSingle(r.Context(), pair, wallet)
	if err != nil {
		s.logger.Warn("single update failed",
			zap.String("pair", pair.Hex()),
			zap.String("wallet", wallet.Hex()),
			zap.Error(err),
		)
		writeJSON(w, http.StatusBadGateway, UpdateSingleResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, UpdateSingleResponse{
		Success:  true,
		Deleted:  position == nil,
		Position: position,
	})
}

// PreviewResponse is a partial-withdrawal estimate.
type PreviewResponse struct {
	Wallet      string                  `json:"wallet_address"`
	Pair        string                  `json:"pair_address"`
	BasisPoints int64                   `json:"basis_points"`
	Withdraw    model.EstimatedWithdraw `json:"estimated_withdraw"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	wallet, pair := r.PathValue("wallet"), r.PathValue("pair")
	if !storage.ValidAddress(wallet) || !storage.ValidAddress(pair) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	percent := r.URL.Query().Get("percent")
	if percent == "" {
		percent = "100"
	}
	bps, err := valuation.ParsePercent(percent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	position, err := s.positions.GetPosition(r.Context(), wallet, pair)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		s.logger.Error("load position", zap.String("wallet", wallet), zap.String("pair", pair), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load position")
		return
	}

	scaled, err := valuation.ScaleWithdraw(position.EstimatedWithdraw, bps)
	if err != nil {
		s.logger.Error("scale withdraw", zap.String("pair", pair), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stored position is malformed")
		return
	}
	writeJSON(w, http.StatusOK, PreviewResponse{
		Wallet:      position.Wallet,
		Pair:        position.Pair,
		BasisPoints: bps,
		Withdraw:    scaled,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
