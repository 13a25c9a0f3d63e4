// Command payguardd runs the settlement engine behind a minimal JSON
// HTTP endpoint. Store backends are selected by configuration: SQLite
// or in-memory ledger, Redis or in-memory replay cache, Postgres or
// in-memory spend history.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/veridianlabs/payguard/pkg/compliance"
	"github.com/veridianlabs/payguard/pkg/config"
	"github.com/veridianlabs/payguard/pkg/contracts"
	"github.com/veridianlabs/payguard/pkg/execution"
	"github.com/veridianlabs/payguard/pkg/keys"
	"github.com/veridianlabs/payguard/pkg/ledger"
	"github.com/veridianlabs/payguard/pkg/mandate"
	"github.com/veridianlabs/payguard/pkg/observability"
	"github.com/veridianlabs/payguard/pkg/policy"
	"github.com/veridianlabs/payguard/pkg/replaycache"
	"github.com/veridianlabs/payguard/pkg/settlement"
)

func main() {
	if err := run(); err != nil {
		slog.Error("payguardd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	initLogger(cfg.LogLevel)
	logger := slog.Default().With("component", "payguardd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "payguard",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.OTelEnabled,
		SampleRate:   1.0,
		BatchTimeout: 5 * time.Second,
		Insecure:     true,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	ring := keys.NewRing()

	var cache replaycache.Cache
	if cfg.RedisAddr != "" {
		cache = replaycache.NewRedisFromAddr(cfg.RedisAddr, "", 0)
		logger.Info("replay cache: redis", "addr", cfg.RedisAddr)
	} else {
		cache = replaycache.NewMemory()
		logger.Info("replay cache: in-memory")
	}

	verifier, err := mandate.NewVerifier(ring, cache)
	if err != nil {
		return err
	}

	var l ledger.Ledger
	if cfg.LedgerPath != "" {
		sl, err := ledger.OpenSQLite(cfg.LedgerPath)
		if err != nil {
			return err
		}
		l = sl
		logger.Info("ledger: sqlite", "path", cfg.LedgerPath)
	} else {
		l = ledger.NewMemory()
		logger.Warn("ledger: in-memory, entries are lost on restart")
	}

	var spends policy.SpendStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		store := policy.NewPostgresSpendStore(db)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		spends = store
		logger.Info("spend history: postgres")
	} else {
		spends = policy.NewMemorySpendStore()
		logger.Info("spend history: in-memory")
	}

	policies := policy.NewMemoryPolicyStore()
	profiles, err := config.LoadAllProfiles(cfg.ProfilesDir)
	if err != nil {
		logger.Warn("no policy profiles", "dir", cfg.ProfilesDir, "error", err)
		profiles = map[string]*config.PolicyProfile{}
	} else {
		logger.Info("policy profiles loaded", "tiers", len(profiles))
	}

	engine := settlement.NewEngine(
		verifier,
		policies,
		policy.NewEvaluator(spends),
		compliance.NewFailClosed(&compliance.Static{Approved: true}, 5*time.Second),
		execution.NewIdempotent(execution.NewSimulator(), execution.NewMemoryResultStore()),
		l,
	).
		WithLimiter(settlement.NewAgentLimiter(cfg.AgentRPS, cfg.AgentBurst)).
		WithObservability(obs).
		WithStageTimeout(cfg.StageTimeout)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newHandler(engine, ring, l, profiles),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func initLogger(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// newHandler serves the minimal JSON API: settle a mandate chain,
// register an agent key, enroll an agent into a policy tier, update a
// policy, read the ledger head.
func newHandler(engine *settlement.Engine, ring *keys.Ring, l ledger.Ledger, profiles map[string]*config.PolicyProfile) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/agents", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AgentID string `json:"agent_id"`
			Tier    string `json:"tier"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		profile, ok := profiles[strings.ToLower(req.Tier)]
		if !ok {
			writeError(w, http.StatusNotFound, errors.New("unknown tier "+req.Tier))
			return
		}
		entry, err := engine.UpdatePolicy(r.Context(), profile.Policy(req.AgentID))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	})

	mux.HandleFunc("POST /v1/settlements", func(w http.ResponseWriter, r *http.Request) {
		var chain contracts.MandateChain
		if err := json.NewDecoder(r.Body).Decode(&chain); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		result, err := engine.Process(r.Context(), &chain)
		if errors.Is(err, settlement.ErrThrottled) {
			writeError(w, http.StatusTooManyRequests, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("POST /v1/keys", func(w http.ResponseWriter, r *http.Request) {
		var key keys.PublicKey
		if err := json.NewDecoder(r.Body).Decode(&key); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := ring.Register(&key); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"agent_id": key.AgentID, "key_id": key.KeyID})
	})

	mux.HandleFunc("PUT /v1/policies", func(w http.ResponseWriter, r *http.Request) {
		var p contracts.SpendingPolicy
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		entry, err := engine.UpdatePolicy(r.Context(), &p)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	})

	mux.HandleFunc("GET /v1/ledger/head", func(w http.ResponseWriter, r *http.Request) {
		head, length, err := l.Head(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"head": head, "length": length})
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
