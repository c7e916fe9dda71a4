package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	BinanceFuturesBaseURL = "https://fapi.binance.com"
	BinanceTestnetBaseURL = "https://testnet.binancefuture.com"
)

type Config struct {
	BinanceAPIKey     string `envconfig:"BINANCE_API_KEY" default:""`
	BinanceAPISecret  string `envconfig:"BINANCE_API_SECRET" default:""`
	BinanceUseTestnet bool   `envconfig:"BINANCE_USE_TESTNET" default:"true"`
	BinanceBaseURL    string `envconfig:"BINANCE_BASE_URL" default:""` // overrides the testnet switch
	BinanceRecvWindow int64  `envconfig:"BINANCE_RECV_WINDOW" default:"5000"`

	HTTPTimeout       time.Duration `envconfig:"EXCHANGE_HTTP_TIMEOUT" default:"10s"`
	MaxConcurrency    int64         `envconfig:"EXCHANGE_MAX_CONCURRENCY" default:"8"`
	RateLimit         int           `envconfig:"EXCHANGE_RATE_LIMIT" default:"1200"`
	RateWindow        time.Duration `envconfig:"EXCHANGE_RATE_WINDOW" default:"1m"`
	PrecisionCacheTTL time.Duration `envconfig:"PRECISION_CACHE_TTL" default:"5m"`
}

// BaseURL resolves the REST endpoint for the configured environment.
func (c Config) BaseURL() string {
	if c.BinanceBaseURL != "" {
		return c.BinanceBaseURL
	}
	if c.BinanceUseTestnet {
		return BinanceTestnetBaseURL
	}
	return BinanceFuturesBaseURL
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
