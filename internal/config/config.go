// Package config loads the node configuration from a YAML file, an optional
// .env file and CLUSTERMETA_* environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pavandhadge/vectron/clustermeta/internal/dedupe"
	"github.com/pavandhadge/vectron/clustermeta/internal/logger"
	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
	"github.com/pavandhadge/vectron/clustermeta/internal/raft"
	"github.com/pavandhadge/vectron/clustermeta/internal/reconciler"
)

type Config struct {
	Node struct {
		// PeerID is the id this node holds replicas under.
		PeerID   uint64 `yaml:"peer_id"`
		HTTPAddr string `yaml:"http_addr"`
		// GRPCAddr serves the gRPC health service. Empty disables it.
		GRPCAddr string `yaml:"grpc_addr"`
	} `yaml:"node"`

	Raft raft.Config `yaml:"raft"`

	Catalog struct {
		Dir string `yaml:"dir"`
	} `yaml:"catalog"`

	// Defaults resolve every collection parameter a create leaves unset.
	Defaults operations.Defaults `yaml:"defaults"`

	Reconciler reconciler.Config `yaml:"reconciler"`

	Dedupe dedupe.Config `yaml:"dedupe"`

	Auth struct {
		// Disabled turns off bearer authentication. Development only.
		Disabled  bool          `yaml:"disabled"`
		JWTSecret string        `yaml:"jwt_secret"`
		Issuer    string        `yaml:"issuer"`
		Leeway    time.Duration `yaml:"leeway"`
	} `yaml:"auth"`

	Log logger.Config `yaml:"log"`
}

// Default returns a runnable single-node development configuration.
func Default() *Config {
	var c Config
	c.Node.PeerID = 1
	c.Node.HTTPAddr = ":8080"
	c.Node.GRPCAddr = ":9090"
	c.Raft = raft.DefaultConfig()
	c.Catalog.Dir = "data/catalog"
	c.Defaults = operations.DefaultDefaults()
	c.Reconciler = reconciler.DefaultConfig()
	c.Dedupe = dedupe.DefaultConfig()
	c.Auth.Issuer = "clustermeta"
	c.Auth.Leeway = 30 * time.Second
	c.Log = logger.Config{Env: "dev", Level: "info", ServiceName: "clustermeta"}
	return &c
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects configurations the node cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Raft.Engine {
	case "", raft.EngineHashicorp:
		if c.Raft.NodeID == "" {
			errs = append(errs, errors.New("raft.node_id is required"))
		}
	case raft.EngineDragonboat:
		if c.Raft.InMemory {
			errs = append(errs, errors.New("raft.in_memory is not supported by the dragonboat engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("raft.engine: unsupported engine %q", c.Raft.Engine))
	}
	if !c.Raft.InMemory {
		if c.Raft.DataDir == "" {
			errs = append(errs, errors.New("raft.data_dir is required unless raft.in_memory is set"))
		}
		if c.Raft.BindAddr == "" {
			errs = append(errs, errors.New("raft.bind_addr is required unless raft.in_memory is set"))
		}
	}
	if c.Node.PeerID == 0 {
		errs = append(errs, errors.New("node.peer_id must be non-zero"))
	}
	if c.Node.HTTPAddr == "" {
		errs = append(errs, errors.New("node.http_addr is required"))
	}
	if c.Defaults.ShardNumber < 1 || c.Defaults.ReplicationFactor < 1 || c.Defaults.WriteConsistencyFactor < 1 {
		errs = append(errs, errors.New("defaults: shard_number, replication_factor and write_consistency_factor must be at least 1"))
	}
	if c.Reconciler.Interval <= 0 || c.Reconciler.PeerTimeout <= 0 {
		errs = append(errs, errors.New("reconciler: interval and peer_timeout must be positive"))
	}
	switch c.Dedupe.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("dedupe.backend: unsupported backend %q", c.Dedupe.Backend))
	}
	if c.Dedupe.TTL <= 0 {
		errs = append(errs, errors.New("dedupe.ttl must be positive"))
	}
	if !c.Auth.Disabled && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 32 bytes unless auth.disabled is set"))
	}
	if !logger.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}
