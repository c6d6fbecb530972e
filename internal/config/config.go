package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tickmatch/internal/common"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Server struct {
	Address     string
	Port        int
	IdleTimeout time.Duration // Silent clients are dropped after this long
}

type Engine struct {
	Symbols []string
	// Workers is the number of goroutines owning books. Every symbol is pinned
	// to exactly one of them.
	Workers   uint
	QueueSize int // Per worker request queue
}

type Metrics struct {
	Address string // Empty disables the /metrics endpoint
}

type Config struct {
	Server   Server
	Engine   Engine
	Metrics  Metrics
	LogLevel zerolog.Level
	Pretty   bool // Human readable console logs instead of JSON
}

func Default() Config {
	return Config{
		Server: Server{
			Address:     "0.0.0.0",
			Port:        9001,
			IdleTimeout: 5 * time.Minute,
		},
		Engine: Engine{
			Symbols:   []string{"AAPL", "NVDA"},
			Workers:   4,
			QueueSize: 1024,
		},
		Metrics: Metrics{
			Address: "0.0.0.0:9002",
		},
		LogLevel: zerolog.InfoLevel,
		Pretty:   true,
	}
}

// Load builds the configuration from defaults, then the .env file at envPath
// (or ./.env when empty) if present, then the process environment. Variables
// already set in the environment win over the file.
func Load(envPath string) (Config, error) {
	cfg := Default()

	// A missing .env file is not an error.
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("load %s: %w", envPath, err)
		}
	} else {
		_ = godotenv.Load()
	}

	if addr := os.Getenv("TICKMATCH_ADDRESS"); addr != "" {
		cfg.Server.Address = addr
	}
	if port := os.Getenv("TICKMATCH_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p < 0 || p > 65535 {
			return cfg, fmt.Errorf("TICKMATCH_PORT %q: invalid port", port)
		}
		cfg.Server.Port = p
	}
	if idle := os.Getenv("TICKMATCH_IDLE_TIMEOUT"); idle != "" {
		d, err := time.ParseDuration(idle)
		if err != nil {
			return cfg, fmt.Errorf("TICKMATCH_IDLE_TIMEOUT: %w", err)
		}
		cfg.Server.IdleTimeout = d
	}

	if symbols := os.Getenv("TICKMATCH_SYMBOLS"); symbols != "" {
		cfg.Engine.Symbols = splitSymbols(symbols)
	}
	if workers := os.Getenv("TICKMATCH_WORKERS"); workers != "" {
		n, err := strconv.ParseUint(workers, 10, 32)
		if err != nil || n == 0 {
			return cfg, fmt.Errorf("TICKMATCH_WORKERS %q: must be a positive integer", workers)
		}
		cfg.Engine.Workers = uint(n)
	}
	if queue := os.Getenv("TICKMATCH_QUEUE_SIZE"); queue != "" {
		n, err := strconv.Atoi(queue)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("TICKMATCH_QUEUE_SIZE %q: must be a positive integer", queue)
		}
		cfg.Engine.QueueSize = n
	}

	if metrics, ok := os.LookupEnv("TICKMATCH_METRICS_ADDRESS"); ok {
		cfg.Metrics.Address = metrics
	}

	if level := os.Getenv("TICKMATCH_LOG_LEVEL"); level != "" {
		l, err := zerolog.ParseLevel(level)
		if err != nil {
			return cfg, fmt.Errorf("TICKMATCH_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = l
	}
	if pretty := os.Getenv("TICKMATCH_LOG_PRETTY"); pretty != "" {
		cfg.Pretty = pretty == "true"
	}

	if len(cfg.Engine.Symbols) == 0 {
		return cfg, fmt.Errorf("TICKMATCH_SYMBOLS: no symbols configured")
	}
	return cfg, nil
}

// splitSymbols parses a comma separated list, e.g. "AAPL, NVDA".
func splitSymbols(list string) []string {
	var symbols []string
	seen := make(map[string]bool)
	for _, symbol := range strings.Split(list, ",") {
		symbol = common.NormalizeSymbol(symbol)
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		symbols = append(symbols, symbol)
	}
	return symbols
}
