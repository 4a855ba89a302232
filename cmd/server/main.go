// Command server runs the spot exchange's HTTP API: registration,
// instrument listing, order book and trade history publicly, balance and
// order management behind a bearer token, and instrument/balance/user
// administration behind an admin-role bearer token (spec.md §6).
//
// Grounded on the teacher's cmd/server/main.go wiring and graceful
// shutdown, generalized from its narrower /orders, /trades, /orderbook,
// /health route set to the full surface spec.md §6 names.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"spotx/internal/auth"
	"spotx/internal/book"
	"spotx/internal/config"
	"spotx/internal/db"
	"spotx/internal/engine"
	"spotx/internal/ledger"
	"spotx/internal/store"
)

// server wires together the storage layer, matching engine and auth
// middleware and exposes the HTTP handlers.
type server struct {
	db     *sql.DB
	eng    *engine.Engine
	ledger *ledger.Ledger
	orders *store.Orders
	trades *store.Trades
	users  *store.Users
	instr  *store.Instruments
	book   *book.Builder
	auther *auth.Authenticator
	log    zerolog.Logger
}

func newServer(database *sql.DB, cfg *config.Config, logger zerolog.Logger) *server {
	orders := store.NewOrders()
	trades := store.NewTrades()
	users := store.NewUsers()
	instr := store.NewInstruments()
	led := ledger.New(database)

	return &server{
		db:     database,
		eng:    engine.New(database, orders, trades, led, cfg.Matching, logger),
		ledger: led,
		orders: orders,
		trades: trades,
		users:  users,
		instr:  instr,
		book:   book.NewBuilder(orders),
		auther: auth.New(database, users),
		log:    logger,
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg(".env not loaded, continuing with process environment")
	}

	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	logger := log.With().Str("service", "spotx").Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	database, err := db.Connect(cfg.DB.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()
	logger.Info().Msg("database connection established")

	if err := db.Migrate(database); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate schema")
	}

	srv := newServer(database, cfg, logger)

	mux := http.NewServeMux()
	srv.routes(mux)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: mux,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-stop
	logger.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	} else {
		logger.Info().Msg("server gracefully stopped")
	}
}
