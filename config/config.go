package config

import (
	"flag"
	"os"
	"strconv"
)

// Config holds all application configuration.
type Config struct {
	Port         int
	Threads      int
	ReadTimeout  int
	WriteTimeout int
	Env          string
}

// New loads configuration from flags, then lets PORT/THREADS env vars
// override the flag defaults (not values explicitly set on the command
// line, since flag.Parse already won that argument).
func New() *Config {
	cfg := &Config{}

	flag.IntVar(&cfg.Port, "port", 9080, "HTTP server port")
	flag.IntVar(&cfg.Threads, "threads", 2, "reactor thread count")
	flag.IntVar(&cfg.ReadTimeout, "read-timeout", 10, "HTTP read timeout (seconds)")
	flag.IntVar(&cfg.WriteTimeout, "write-timeout", 30, "HTTP write timeout (seconds)")
	flag.StringVar(&cfg.Env, "env", "development", "Environment (development/production)")

	flag.Parse()

	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil && !explicit["port"] {
		cfg.Port = port
	}
	if threads, err := strconv.Atoi(os.Getenv("THREADS")); err == nil && !explicit["threads"] {
		cfg.Threads = threads
	}
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}

	return cfg
}
