package cli

import (
	"github.com/dogmatiq/ferrite"

	"github.com/kode4food/ledger"
)

var (
	redisAddr = ferrite.
			String("LEDGER_REDIS_ADDR", "the address of the Redis server").
			WithDefault(ledger.DefaultRedisEndpoint).
			Required()

	redisPassword = ferrite.
			String("LEDGER_REDIS_PASSWORD", "the password used to authenticate with Redis").
			WithSensitiveContent().
			Optional()

	redisDB = ferrite.
		Unsigned[uint]("LEDGER_REDIS_DB", "the Redis logical database").
		WithDefault(ledger.DefaultRedisDB).
		Required()

	keyPrefix = ferrite.
			String("LEDGER_PREFIX", "the prefix of every key written by the ledger").
			WithDefault(ledger.DefaultRedisPrefix).
			Required()
)

// storeConfigFromEnv builds a StoreConfig from the environment
func storeConfigFromEnv() ledger.StoreConfig {
	cfg := ledger.DefaultStoreConfig()
	cfg.Addr = redisAddr.Value()
	cfg.DB = int(redisDB.Value())
	cfg.Prefix = keyPrefix.Value()
	if pw, ok := redisPassword.Value(); ok {
		cfg.Password = pw
	}
	return cfg
}
