// Package relay parses relay command flags and launches the relay runtime.
package relay

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/louisbranch/vrfrelay/internal/platform/cmd"
	relayapp "github.com/louisbranch/vrfrelay/internal/services/relay/app"
)

// Config holds relay command configuration.
type Config struct {
	Port             int           `env:"VRFRELAY_PORT" envDefault:"8095"`
	DBPath           string        `env:"VRFRELAY_DB_PATH" envDefault:"data/relay.db"`
	Requests         int           `env:"VRFRELAY_REQUESTS" envDefault:"1"`
	NumWords         int           `env:"VRFRELAY_NUM_WORDS" envDefault:"4"`
	CallbackGasLimit int64         `env:"VRFRELAY_CALLBACK_GAS_LIMIT" envDefault:"400000"`
	RequestTimeout   time.Duration `env:"VRFRELAY_REQUEST_TIMEOUT" envDefault:"2m"`
	LogPollInterval  time.Duration `env:"VRFRELAY_LOG_POLL_INTERVAL" envDefault:"500ms"`
	FulfillInterval  time.Duration `env:"VRFRELAY_FULFILL_INTERVAL" envDefault:"500ms"`
	FulfillDelay     time.Duration `env:"VRFRELAY_FULFILL_DELAY" envDefault:"2s"`
	ReconnectInitial time.Duration `env:"VRFRELAY_RECONNECT_INITIAL" envDefault:"200ms"`
	ReconnectMax     time.Duration `env:"VRFRELAY_RECONNECT_MAX" envDefault:"10s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The relay health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The oracle SQLite database path")
	fs.IntVar(&cfg.Requests, "requests", cfg.Requests, "Number of concurrent randomness requests")
	fs.IntVar(&cfg.NumWords, "num-words", cfg.NumWords, "Random words per request")
	fs.Int64Var(&cfg.CallbackGasLimit, "callback-gas-limit", cfg.CallbackGasLimit, "Callback gas limit per request")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Maximum wait for a completion record")
	fs.DurationVar(&cfg.LogPollInterval, "log-poll-interval", cfg.LogPollInterval, "Completion log poll interval")
	fs.DurationVar(&cfg.FulfillInterval, "fulfill-interval", cfg.FulfillInterval, "Oracle fulfillment pass interval")
	fs.DurationVar(&cfg.FulfillDelay, "fulfill-delay", cfg.FulfillDelay, "Minimum request age before the oracle fulfills it")
	fs.DurationVar(&cfg.ReconnectInitial, "reconnect-initial", cfg.ReconnectInitial, "First event stream reconnect delay")
	fs.DurationVar(&cfg.ReconnectMax, "reconnect-max", cfg.ReconnectMax, "Maximum event stream reconnect delay")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.Requests <= 0 {
		return Config{}, fmt.Errorf("requests must be greater than zero")
	}
	return cfg, nil
}

// Run starts the relay runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRelay, func(ctx context.Context) error {
		return relayapp.Run(ctx, relayapp.RuntimeConfig{
			Port:             cfg.Port,
			DBPath:           cfg.DBPath,
			Requests:         cfg.Requests,
			NumWords:         cfg.NumWords,
			CallbackGasLimit: cfg.CallbackGasLimit,
			RequestTimeout:   cfg.RequestTimeout,
			LogPollInterval:  cfg.LogPollInterval,
			FulfillInterval:  cfg.FulfillInterval,
			FulfillDelay:     cfg.FulfillDelay,
			ReconnectInitial: cfg.ReconnectInitial,
			ReconnectMax:     cfg.ReconnectMax,
		})
	})
}
