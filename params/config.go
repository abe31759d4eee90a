package params

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Market carries the parameters needed to construct the one market a
// clobd instance serves at startup.
type Market struct {
	Name          string
	BaseLotSize   int64
	QuoteLotSize  int64
	MakerFeePpm   int64 // negative = rebate
	TakerFeePpm   int64
	TimeExpiry    int64 // 0 = never
	OracleAddress string
}

// Server carries the REST/WebSocket listen address and data paths.
type Server struct {
	ListenAddr string
	DataDir    string // pebble database path; empty disables persistence
	FillLogPath string // append-only fill log path; empty disables it
}

type Config struct {
	Market Market
	Server Server
}

func Default() Config {
	return Config{
		Market: Market{
			Name:         "BTC-USDC",
			BaseLotSize:  1000,
			QuoteLotSize: 1,
			MakerFeePpm:  -200,
			TakerFeePpm:  400,
			TimeExpiry:   0,
		},
		Server: Server{
			ListenAddr:  ":8080",
			DataDir:     "data/clob.db",
			FillLogPath: "data/fills.log",
		},
	}
}

// LoadFromEnv loads configuration from an .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("MARKET_NAME"); v != "" {
		cfg.Market.Name = v
	}
	if v := os.Getenv("MARKET_BASE_LOT_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Market.BaseLotSize = n
		}
	}
	if v := os.Getenv("MARKET_QUOTE_LOT_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Market.QuoteLotSize = n
		}
	}
	if v := os.Getenv("MARKET_MAKER_FEE_PPM"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Market.MakerFeePpm = n
		}
	}
	if v := os.Getenv("MARKET_TAKER_FEE_PPM"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Market.TakerFeePpm = n
		}
	}
	if v := os.Getenv("MARKET_TIME_EXPIRY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Market.TimeExpiry = n
		}
	}
	if v := os.Getenv("MARKET_ORACLE_ADDRESS"); v != "" {
		cfg.Market.OracleAddress = v
	}

	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("FILL_LOG_PATH"); v != "" {
		cfg.Server.FillLogPath = v
	}

	return cfg
}
