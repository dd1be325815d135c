package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/brojonat/txnorm/service/config"
	"github.com/brojonat/txnorm/service/db"
	"github.com/brojonat/txnorm/service/metrics"
	"github.com/brojonat/txnorm/service/normalizer"
	"github.com/brojonat/txnorm/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	maxRequestBodySize   = 8 << 20 // raw records carry full account lists
	maxNormalizeRecords  = 1000
	maxSyncInterval      = 24 * time.Hour
	maxSyncLimit         = 1000
	defaultListLimit     = 100
	maxListLimit         = 1000
	defaultNetworkParam  = "mainnet"
	contentTypeJSON      = "application/json"
	internalErrorMessage = "internal server error"
)

// handleListTransactions returns a handler that lists stored transactions for an account.
// GET /api/v1/accounts/{address}/transactions?network=mainnet&limit=N&offset=N
func handleListTransactions(store TransactionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		query := r.URL.Query()
		network, err := networkParam(query.Get("network"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, err := intParam(query.Get("limit"), defaultListLimit, 1, maxListLimit, "limit")
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		offset, err := intParam(query.Get("offset"), 0, 0, math.MaxInt32, "offset")
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		transactions, err := store.ListTransactionsByAccount(r.Context(), db.ListTransactionsByAccountParams{
			Account: address,
			Network: network,
			Limit:   int32(limit),
			Offset:  int32(offset),
		})
		if err != nil {
			logger.Error("failed to list transactions", "address", address, "network", network, "error", err)
			writeError(w, internalErrorMessage, http.StatusInternalServerError)
			return
		}

		total, err := store.CountTransactionsByAccount(r.Context(), address, network)
		if err != nil {
			logger.Error("failed to count transactions", "address", address, "network", network, "error", err)
			writeError(w, internalErrorMessage, http.StatusInternalServerError)
			return
		}

		logger.Debug("transactions listed", "address", address, "network", network, "count", len(transactions))

		if transactions == nil {
			transactions = []*db.Transaction{}
		}
		writeJSON(w, map[string]interface{}{
			"address":      address,
			"network":      network,
			"transactions": transactions,
			"count":        len(transactions),
			"total":        total,
			"limit":        limit,
			"offset":       offset,
		}, http.StatusOK)
	})
}

// handleGetTransaction returns a handler that fetches one stored transaction.
// GET /api/v1/accounts/{address}/transactions/{id}
func handleGetTransaction(store TransactionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		id := r.PathValue("id")
		if id == "" {
			writeError(w, "transaction id is required", http.StatusBadRequest)
			return
		}

		txn, err := store.GetTransaction(r.Context(), address, id)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "transaction not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get transaction", "address", address, "id", id, "error", err)
			writeError(w, internalErrorMessage, http.StatusInternalServerError)
			return
		}

		writeJSON(w, txn, http.StatusOK)
	})
}

type normalizeRequest struct {
	Address string                             `json:"address"`
	Network string                             `json:"network"`
	Records []*normalizer.RawTransactionRecord `json:"records"`
}

type normalizeResult struct {
	Outcome     normalizer.Outcome                `json:"outcome"`
	Transaction *normalizer.NormalizedTransaction `json:"transaction,omitempty"`
}

type normalizeResponse struct {
	Address    string            `json:"address"`
	Network    string            `json:"network"`
	Results    []normalizeResult `json:"results"`
	Emitted    int               `json:"emitted"`
	Suppressed int               `json:"suppressed"`
	Malformed  int               `json:"malformed"`
}

// handleNormalize returns a handler that normalizes caller-supplied raw
// records from the perspective of one account. Nothing is stored.
// POST /api/v1/normalize
func handleNormalize(norm *normalizer.Normalizer, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req normalizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("invalid normalize request", "error", err)
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.Address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		network, err := networkParam(req.Network)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		scope, _ := normalizer.ScopeForNetwork(network)

		if len(req.Records) == 0 {
			writeError(w, "records must not be empty", http.StatusBadRequest)
			return
		}
		if len(req.Records) > maxNormalizeRecords {
			writeError(w, fmt.Sprintf("at most %d records per request", maxNormalizeRecords), http.StatusBadRequest)
			return
		}

		results := norm.NormalizeAll(r.Context(), req.Records, req.Address, scope)
		if err := r.Context().Err(); err != nil {
			logger.Debug("normalize request canceled", "error", err)
			return
		}

		resp := normalizeResponse{
			Address: req.Address,
			Network: network,
			Results: make([]normalizeResult, len(results)),
		}
		for i, res := range results {
			resp.Results[i] = normalizeResult{Outcome: res.Outcome, Transaction: res.Transaction}
			switch res.Outcome {
			case normalizer.OutcomeEmitted:
				resp.Emitted++
				if m != nil {
					m.RecordNormalized(string(res.Transaction.Type), string(res.Transaction.Status))
				}
				continue
			case normalizer.OutcomeMalformed:
				resp.Malformed++
			default:
				resp.Suppressed++
			}
			if m != nil {
				m.RecordSuppressed(string(res.Outcome))
			}
		}

		logger.Debug("records normalized",
			"address", req.Address,
			"network", network,
			"emitted", resp.Emitted,
			"suppressed", resp.Suppressed,
			"malformed", resp.Malformed,
		)
		writeJSON(w, resp, http.StatusOK)
	})
}

type createSyncRequest struct {
	Network  string `json:"network"`
	Interval string `json:"interval"`
	Limit    int    `json:"limit"`
}

// handleCreateSync returns a handler that schedules periodic syncing of an account.
// POST /api/v1/accounts/{address}/sync
func handleCreateSync(scheduler temporal.Scheduler, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var req createSyncRequest
		if r.ContentLength != 0 {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, "invalid request body", http.StatusBadRequest)
				return
			}
		}

		network, err := networkParam(req.Network)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if urls, err := cfg.RPCURLs(network); err != nil || len(urls) == 0 {
			writeError(w, fmt.Sprintf("syncing is not configured for network %s", network), http.StatusBadRequest)
			return
		}

		interval := cfg.DefaultSyncInterval
		if req.Interval != "" {
			interval, err = time.ParseDuration(req.Interval)
			if err != nil {
				writeError(w, fmt.Sprintf("invalid interval %q", req.Interval), http.StatusBadRequest)
				return
			}
		}
		if err := validateSyncInterval(interval, cfg.MinSyncInterval); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit := req.Limit
		if limit == 0 {
			limit = cfg.SyncLimit
		}
		if limit < 1 || limit > maxSyncLimit {
			writeError(w, fmt.Sprintf("limit must be between 1 and %d", maxSyncLimit), http.StatusBadRequest)
			return
		}

		input := temporal.SyncAddressInput{Address: address, Network: network, Limit: limit}
		err = scheduler.CreateSyncSchedule(r.Context(), input, interval)
		if errors.Is(err, temporal.ErrScheduleExists) {
			writeError(w, "account is already scheduled for syncing", http.StatusConflict)
			return
		}
		if err != nil {
			logger.Error("failed to create sync schedule", "address", address, "network", network, "error", err)
			writeError(w, "failed to schedule sync", http.StatusInternalServerError)
			return
		}

		logger.Info("sync scheduled", "address", address, "network", network, "interval", interval, "limit", limit)
		writeJSON(w, map[string]interface{}{
			"address":  address,
			"network":  network,
			"interval": interval.String(),
			"limit":    limit,
		}, http.StatusCreated)
	})
}

// handleDescribeSync returns a handler that reports an account's sync schedule.
// GET /api/v1/accounts/{address}/sync?network=mainnet
func handleDescribeSync(scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		network, err := networkParam(r.URL.Query().Get("network"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		info, err := scheduler.DescribeSyncSchedule(r.Context(), address, network)
		if errors.Is(err, temporal.ErrScheduleNotFound) {
			writeError(w, "sync schedule not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to describe sync schedule", "address", address, "network", network, "error", err)
			writeError(w, internalErrorMessage, http.StatusInternalServerError)
			return
		}

		writeJSON(w, scheduleResponse{
			ID:          info.ID,
			Address:     info.Address,
			Network:     info.Network,
			Interval:    info.Interval.String(),
			Paused:      info.Paused,
			NumActions:  info.NumActions,
			NextRunTime: info.NextRunTime,
		}, http.StatusOK)
	})
}

// handleDeleteSync returns a handler that stops syncing an account.
// DELETE /api/v1/accounts/{address}/sync?network=mainnet
func handleDeleteSync(scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		network, err := networkParam(r.URL.Query().Get("network"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		err = scheduler.DeleteSyncSchedule(r.Context(), address, network)
		if errors.Is(err, temporal.ErrScheduleNotFound) {
			writeError(w, "sync schedule not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to delete sync schedule", "address", address, "network", network, "error", err)
			writeError(w, "failed to delete sync schedule", http.StatusInternalServerError)
			return
		}

		logger.Info("sync unscheduled", "address", address, "network", network)
		w.WriteHeader(http.StatusNoContent)
	})
}

// scheduleResponse is the JSON response format for a sync schedule.
type scheduleResponse struct {
	ID          string     `json:"id"`
	Address     string     `json:"address"`
	Network     string     `json:"network"`
	Interval    string     `json:"interval"`
	Paused      bool       `json:"paused"`
	NumActions  int        `json:"num_actions"`
	NextRunTime *time.Time `json:"next_run_time,omitempty"`
}

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{"error": message}, statusCode)
}

// validateAddress checks that address is a base58-encoded 32-byte public key.
func validateAddress(address string) error {
	if address == "" {
		return errors.New("address is required")
	}
	if _, err := solanago.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("invalid address %q", address)
	}
	return nil
}

// networkParam defaults an empty network to mainnet and rejects unknown ones.
func networkParam(network string) (string, error) {
	if network == "" {
		return defaultNetworkParam, nil
	}
	if _, err := normalizer.ScopeForNetwork(network); err != nil {
		return "", err
	}
	return network, nil
}

func validateSyncInterval(interval, minInterval time.Duration) error {
	if interval < minInterval {
		return fmt.Errorf("interval must be at least %v", minInterval)
	}
	if interval > maxSyncInterval {
		return fmt.Errorf("interval cannot exceed %v", maxSyncInterval)
	}
	return nil
}

// intParam parses an optional integer query parameter. A negative hi means unbounded.
func intParam(value string, def, lo, hi int, name string) (int, error) {
	if value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s parameter: must be an integer", name)
	}
	if n < lo {
		return 0, fmt.Errorf("%s must be at least %d", name, lo)
	}
	if hi >= 0 && n > hi {
		return 0, fmt.Errorf("%s cannot exceed %d", name, hi)
	}
	return n, nil
}
