package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "CLUSTERMETA_"

// LoadEnvFile loads the first of CLUSTERMETA_ENV_FILE, .env.clustermeta,
// clustermeta.env and env/clustermeta.env that exists. Variables already in
// the environment win unless CLUSTERMETA_ENV_OVERRIDE=1. It returns the
// loaded path, or "" when no file was found.
func LoadEnvFile() (string, error) {
	candidates := []string{".env.clustermeta", "clustermeta.env", filepath.Join("env", "clustermeta.env")}
	if explicit := os.Getenv(envPrefix + "ENV_FILE"); explicit != "" {
		candidates = []string{explicit}
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		load := godotenv.Load
		if os.Getenv(envPrefix+"ENV_OVERRIDE") == "1" {
			load = godotenv.Overload
		}
		if err := load(path); err != nil {
			return "", fmt.Errorf("load %s: %w", path, err)
		}
		return path, nil
	}
	return "", nil
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	str("HTTP_ADDR", &c.Node.HTTPAddr)
	str("GRPC_ADDR", &c.Node.GRPCAddr)
	str("RAFT_ENGINE", &c.Raft.Engine)
	str("NODE_ID", &c.Raft.NodeID)
	str("RAFT_BIND_ADDR", &c.Raft.BindAddr)
	str("RAFT_ADVERTISE_ADDR", &c.Raft.AdvertiseAddr)
	str("RAFT_DIR", &c.Raft.DataDir)
	str("CATALOG_DIR", &c.Catalog.Dir)
	str("DEDUPE_BACKEND", &c.Dedupe.Backend)
	str("REDIS_ADDR", &c.Dedupe.Redis.Address)
	str("REDIS_PASSWORD", &c.Dedupe.Redis.Password)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("LOG_LEVEL", &c.Log.Level)
	str("ENV", &c.Log.Env)

	if v, ok := os.LookupEnv(envPrefix + "PEER_ID"); ok {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sPEER_ID: %w", envPrefix, err)
		}
		c.Node.PeerID = id
	}
	for name, dst := range map[string]*bool{
		"BOOTSTRAP":      &c.Raft.Bootstrap,
		"RAFT_IN_MEMORY": &c.Raft.InMemory,
		"AUTH_DISABLED":  &c.Auth.Disabled,
	} {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = b
		}
	}
	for name, dst := range map[string]*time.Duration{
		"PEER_TIMEOUT":       &c.Reconciler.PeerTimeout,
		"RECONCILE_INTERVAL": &c.Reconciler.Interval,
		"DEDUPE_TTL":         &c.Dedupe.TTL,
	} {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = d
		}
	}
	return nil
}
