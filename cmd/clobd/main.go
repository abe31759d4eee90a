package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lattice-markets/clobcore/params"
	"github.com/lattice-markets/clobcore/pkg/api"
	"github.com/lattice-markets/clobcore/pkg/clob/engine"
	"github.com/lattice-markets/clobcore/pkg/clob/events"
	"github.com/lattice-markets/clobcore/pkg/clob/market"
	"github.com/lattice-markets/clobcore/pkg/clob/position"
	"github.com/lattice-markets/clobcore/pkg/storage"
	"github.com/lattice-markets/clobcore/pkg/util"
)

// persistInterval sets how often the running market state is flushed to
// storage, independent of shutdown.
const persistInterval = 10 * time.Second

func main() {
	cfg := params.LoadFromEnv("")

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/clobd.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	var fillLog storage.FillLog = storage.NewNopFillLog()
	if cfg.Server.FillLogPath != "" {
		fileLog, err := storage.NewFileFillLog(cfg.Server.FillLogPath)
		if err != nil {
			sugar.Fatalw("fill_log_open_failed", "err", err)
		}
		defer fileLog.Close()
		fillLog = fileLog
	}

	var store *storage.Store
	if cfg.Server.DataDir != "" {
		store, err = storage.Open(cfg.Server.DataDir, fillLog)
		if err != nil {
			sugar.Fatalw("storage_open_failed", "err", err)
		}
		defer store.Close()
	}

	m, err := loadOrCreateMarket(store, cfg.Market)
	if err != nil {
		sugar.Fatalw("market_init_failed", "err", err)
	}

	ob, err := loadOrCreateBook(store, m.Name)
	if err != nil {
		sugar.Fatalw("book_init_failed", "err", err)
	}

	heap, err := loadOrCreateEventHeap(store, m.Name)
	if err != nil {
		sugar.Fatalw("event_heap_init_failed", "err", err)
	}

	accounts, err := loadAccounts(store, m.Name)
	if err != nil {
		sugar.Fatalw("accounts_init_failed", "err", err)
	}

	srv := api.NewServer(logger, store)
	srv.Register(m, ob, heap, accounts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.Server.ListenAddr, "market", m.Name)
		if err := srv.Start(cfg.Server.ListenAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	if store != nil {
		go persistOnInterval(ctx, sugar, store, srv, m.Name)
	}

	<-ctx.Done()
	sugar.Info("shutting down")
	if store != nil {
		if err := srv.Persist(store, m.Name); err != nil {
			sugar.Errorw("persist_on_shutdown_failed", "err", err)
		}
	}
}

func persistOnInterval(ctx context.Context, sugar *zap.SugaredLogger, store *storage.Store, srv *api.Server, marketName string) {
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := srv.Persist(store, marketName); err != nil {
				sugar.Errorw("persist_failed", "err", err)
			}
		}
	}
}

func loadOrCreateMarket(store *storage.Store, cfg params.Market) (*market.Market, error) {
	if store != nil {
		if m, err := store.LoadMarket(cfg.Name); err == nil && m != nil {
			return m, nil
		}
	}
	return market.New(cfg.Name, cfg.BaseLotSize, cfg.QuoteLotSize, cfg.MakerFeePpm, cfg.TakerFeePpm,
		cfg.TimeExpiry, market.OracleConfig{Address: cfg.OracleAddress})
}

func loadOrCreateBook(store *storage.Store, marketName string) (*engine.OrderBook, error) {
	ob := engine.New()
	if store == nil {
		return ob, nil
	}
	bids, err := store.LoadBookSide(marketName, ob.Bids.Side)
	if err != nil {
		return nil, err
	}
	if bids != nil {
		ob.Bids = bids
	}
	asks, err := store.LoadBookSide(marketName, ob.Asks.Side)
	if err != nil {
		return nil, err
	}
	if asks != nil {
		ob.Asks = asks
	}
	return ob, nil
}

func loadOrCreateEventHeap(store *storage.Store, marketName string) (*events.Heap, error) {
	if store == nil {
		return events.New(), nil
	}
	h, err := store.LoadEventHeap(marketName)
	if err != nil {
		return nil, err
	}
	if h == nil {
		h = events.New()
	}
	return h, nil
}

func loadAccounts(store *storage.Store, marketName string) (map[string]*position.Account, error) {
	accounts := make(map[string]*position.Account)
	if store == nil {
		return accounts, nil
	}
	loaded, err := store.LoadAllAccounts(marketName)
	if err != nil {
		return nil, err
	}
	for owner, acc := range loaded {
		accounts[owner] = acc
	}
	return accounts, nil
}
