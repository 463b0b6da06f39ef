package ledger

import "time"

type (
	Config struct {
		Store      StoreConfig
		MaxRetries int
		CacheSize  int
	}

	StoreConfig struct {
		Addr     string
		Password string
		Prefix   string
		DB       int
		PageSize int

		// UseFunctions invokes the registered append function with FCALL
		// instead of evaluating the script. LoadFunctions must have been
		// called against the server first
		UseFunctions bool
	}
)

const (
	DefaultRedisEndpoint     = "localhost:6379"
	DefaultRedisPrefix       = "ledger"
	DefaultRedisDB           = 0
	DefaultPageSize          = 256
	DefaultMaxRetries        = 0
	DefaultExecutorCacheSize = 128

	RedisConnectTimeout = 5 * time.Second
)

func DefaultConfig() Config {
	return Config{
		Store:      DefaultStoreConfig(),
		MaxRetries: DefaultMaxRetries,
		CacheSize:  DefaultExecutorCacheSize,
	}
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Addr:     DefaultRedisEndpoint,
		Password: "",
		DB:       DefaultRedisDB,
		Prefix:   DefaultRedisPrefix,
		PageSize: DefaultPageSize,
	}
}
