// Package config loads the node's operational configuration from an
// optional TOML file (layered first) and then environment variables
// (always take precedence).
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/naoina/toml"

	"github.com/coinjecture/node/common"
)

// Config is the fully resolved set of operational knobs for one node
// process. It is built once at startup and handed to NodeContext; nothing
// downstream reads the environment directly.
type Config struct {
	GenesisHash  string   `toml:"genesis_hash"`
	BootstrapPeers []string `toml:"bootstrap_peers"`

	ChainDBPath     string `toml:"chain_db_path"`
	ChainDBBackend  string `toml:"chain_db_backend"`
	IngestDBPath    string `toml:"ingest_db_path"`
	IngestDBBackend string `toml:"ingest_db_backend"`

	ConsensusTick time.Duration `toml:"consensus_tick"`

	BroadcastIntervalInit time.Duration `toml:"broadcast_interval_init"`
	BroadcastIntervalMin  time.Duration `toml:"broadcast_interval_min"`
	BroadcastIntervalMax  time.Duration `toml:"broadcast_interval_max"`

	FetchWindow int `toml:"fetch_window"`
	MaxPeers    int `toml:"max_peers"`

	ListenAddr  string `toml:"listen_addr"`
	HTTPMaxConns int   `toml:"http_max_conns"`

	LogLevel string `toml:"log_level"`
	LogJSON  bool   `toml:"log_json"`
}

// GenesisAnchor is the block 0 every node on the same network must
// produce bit-for-bit.
type GenesisAnchor struct {
	Hash         common.Hash
	Timestamp    float64
	ZeroPrevHash common.Hash
}

// Defaults returns the out-of-the-box operational defaults: storage
// backends and paths, consensus timing, and logging.
func Defaults() Config {
	return Config{
		ChainDBPath:     "./data/chain",
		ChainDBBackend:  "badger",
		IngestDBPath:    "./data/ingest",
		IngestDBBackend: "leveldb",

		ConsensusTick: 10 * time.Second,

		BroadcastIntervalInit: time.Duration(10*math.Sqrt2*1000) * time.Millisecond,
		BroadcastIntervalMin:  2 * time.Second,
		BroadcastIntervalMax:  600 * time.Second,

		FetchWindow: 100,
		MaxPeers:    64,

		ListenAddr:   ":8080",
		HTTPMaxConns: 256,

		LogLevel: "info",
		LogJSON:  false,
	}
}

// Load builds a Config starting from Defaults, overlaying an optional TOML
// file named by CONFIG_FILE, and finally overlaying environment variables
// (case-insensitive names). Env always wins, letting an operator check in
// a base file and override per-deployment.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadTOMLInto(path, &cfg); err != nil {
			return cfg, fmt.Errorf("loading CONFIG_FILE %q: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.GenesisHash == "" {
		return cfg, fmt.Errorf("GENESIS_HASH is required")
	}
	if _, err := common.HexToHash(cfg.GenesisHash); err != nil {
		return cfg, fmt.Errorf("GENESIS_HASH: %w", err)
	}
	return cfg, nil
}

func loadTOMLInto(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewDecoder(f).Decode(cfg)
}

// applyEnv overlays recognized environment variables onto cfg. Names are
// matched case-insensitively by normalizing os.Environ() once, so the
// operator never has to get the casing exactly right.
func applyEnv(cfg *Config) {
	env := caseInsensitiveEnv()

	if v, ok := env["genesis_hash"]; ok {
		cfg.GenesisHash = v
	}
	if v, ok := env["bootstrap_peers"]; ok && v != "" {
		cfg.BootstrapPeers = splitAndTrim(v)
	}
	if v, ok := env["chain_db_path"]; ok {
		cfg.ChainDBPath = v
	}
	if v, ok := env["chain_db_backend"]; ok {
		cfg.ChainDBBackend = strings.ToLower(v)
	}
	if v, ok := env["ingest_db_path"]; ok {
		cfg.IngestDBPath = v
	}
	if v, ok := env["ingest_db_backend"]; ok {
		cfg.IngestDBBackend = strings.ToLower(v)
	}
	if v, ok := env["consensus_tick"]; ok {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.ConsensusTick = time.Duration(secs) * time.Second
		}
	}
	if v, ok := env["broadcast_interval_init"]; ok {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.BroadcastIntervalInit = time.Duration(secs * float64(time.Second))
		}
	}
	if v, ok := env["broadcast_interval_min"]; ok {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.BroadcastIntervalMin = time.Duration(secs * float64(time.Second))
		}
	}
	if v, ok := env["broadcast_interval_max"]; ok {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.BroadcastIntervalMax = time.Duration(secs * float64(time.Second))
		}
	}
	if v, ok := env["fetch_window"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FetchWindow = n
		}
	}
	if v, ok := env["max_peers"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPeers = n
		}
	}
	if v, ok := env["listen_addr"]; ok {
		cfg.ListenAddr = v
	}
	if v, ok := env["http_max_conns"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTPMaxConns = n
		}
	}
	if v, ok := env["log_level"]; ok {
		cfg.LogLevel = v
	}
	if v, ok := env["log_json"]; ok {
		cfg.LogJSON = strings.EqualFold(v, "true")
	}
}

func caseInsensitiveEnv() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[strings.ToLower(parts[0])] = parts[1]
	}
	return out
}

func splitAndTrim(s string) []string {
	raw := strings.Split(s, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}
