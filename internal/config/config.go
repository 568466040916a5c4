package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Database    DatabaseConfig    `yaml:"database"`
	Pool        PoolConfig        `yaml:"pool"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Discord     DiscordConfig     `yaml:"discord"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	Servers     []GameServer      `yaml:"servers"`

	// Rejected lists server entries dropped at load time. A bad entry
	// disables that server only; the rest of the configuration stands.
	Rejected []RejectedServer `yaml:"-"`
}

// RejectedServer records one dropped server entry and why.
type RejectedServer struct {
	ID     string
	Reason string
}

// HTTPConfig holds HTTP API settings
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Port       int    `yaml:"port"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PoolConfig holds SFTP connection pool settings
type PoolConfig struct {
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	IdleThreshold  time.Duration `yaml:"idle_threshold"`
	EvictInterval  time.Duration `yaml:"evict_interval"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
}

// IngestConfig holds parsing pipeline settings
type IngestConfig struct {
	Interval       time.Duration `yaml:"interval"`
	MaxConcurrent  int64         `yaml:"max_concurrent"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	MaxPendingRows int           `yaml:"max_pending_rows"`
	FlushAttempts  int           `yaml:"flush_attempts"`
}

// DiscordConfig holds the external registry/messenger boundary settings.
// The bot token comes from the environment, never from the config file.
type DiscordConfig struct {
	APIBase          string        `yaml:"api_base"`
	ApplicationID    string        `yaml:"application_id"`
	PostConnectDelay time.Duration `yaml:"post_connect_delay"`
}

// LeaderboardConfig holds the scheduler settings
type LeaderboardConfig struct {
	Interval    time.Duration `yaml:"interval"`
	ChannelRef  string        `yaml:"channel_ref"`
	MinKillsKDR int64         `yaml:"min_kills_kdr"`
	Views       []string      `yaml:"views"`
}

// GameServer represents one Deadside server to ingest from
type GameServer struct {
	ID       string `yaml:"id"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	BasePath string `yaml:"base_path"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Set defaults
	if cfg.HTTP.ListenAddr == "" {
		cfg.HTTP.ListenAddr = "127.0.0.1"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/deadside/deadside.db"
	}
	if cfg.Pool.AcquireTimeout == 0 {
		cfg.Pool.AcquireTimeout = 30 * time.Second
	}
	if cfg.Pool.IdleThreshold == 0 {
		cfg.Pool.IdleThreshold = 5 * time.Minute
	}
	if cfg.Pool.EvictInterval == 0 {
		cfg.Pool.EvictInterval = time.Minute
	}
	if cfg.Pool.MaxAttempts == 0 {
		cfg.Pool.MaxAttempts = 3
	}
	if cfg.Pool.BackoffBase == 0 {
		cfg.Pool.BackoffBase = time.Second
	}
	if cfg.Pool.BackoffMax == 0 {
		cfg.Pool.BackoffMax = 30 * time.Second
	}
	if cfg.Pool.DialTimeout == 0 {
		cfg.Pool.DialTimeout = 15 * time.Second
	}
	if cfg.Ingest.Interval == 0 {
		cfg.Ingest.Interval = 3 * time.Minute
	}
	if cfg.Ingest.MaxConcurrent == 0 {
		cfg.Ingest.MaxConcurrent = 16
	}
	if cfg.Ingest.ReadTimeout == 0 {
		cfg.Ingest.ReadTimeout = 60 * time.Second
	}
	if cfg.Ingest.MaxPendingRows == 0 {
		cfg.Ingest.MaxPendingRows = 5000
	}
	if cfg.Ingest.FlushAttempts == 0 {
		cfg.Ingest.FlushAttempts = 5
	}
	if cfg.Discord.APIBase == "" {
		cfg.Discord.APIBase = "https://discord.com/api/v10"
	}
	if cfg.Discord.PostConnectDelay == 0 {
		cfg.Discord.PostConnectDelay = 5 * time.Second
	}
	if cfg.Leaderboard.Interval == 0 {
		cfg.Leaderboard.Interval = 30 * time.Minute
	}
	if cfg.Leaderboard.MinKillsKDR == 0 {
		cfg.Leaderboard.MinKillsKDR = 10
	}
	if len(cfg.Leaderboard.Views) == 0 {
		cfg.Leaderboard.Views = []string{"kills", "kdr", "streak", "longest_streak", "weapons", "factions"}
	}

	filterServers(&cfg)
	return &cfg, nil
}

// filterServers drops server entries that cannot possibly work. A bad entry
// is fatal for that server only: it is recorded in Rejected and the
// remaining servers' pipelines run unaffected.
func filterServers(cfg *Config) {
	seen := make(map[string]bool)
	kept := cfg.Servers[:0]
	for i, srv := range cfg.Servers {
		id := srv.ID
		if id == "" {
			id = fmt.Sprintf("servers[%d]", i)
		}
		var reason string
		switch {
		case srv.ID == "":
			reason = "missing id"
		case seen[srv.ID]:
			reason = fmt.Sprintf("duplicate id %q", srv.ID)
		case srv.Host == "":
			reason = "missing host"
		case srv.Username == "" || srv.Password == "":
			reason = "missing credentials"
		case srv.BasePath == "":
			reason = "missing base_path"
		}
		if reason != "" {
			cfg.Rejected = append(cfg.Rejected, RejectedServer{ID: id, Reason: reason})
			continue
		}
		seen[srv.ID] = true
		kept = append(kept, srv)
	}
	cfg.Servers = kept
}
