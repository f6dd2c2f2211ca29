package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig describes one AI analysis provider.
type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type BasicConfig struct {
	ServerAddress     string   `json:"server_address"`
	UploadDir         string   `json:"upload_dir"`
	MaxUploadMB       int64    `json:"max_upload_mb"`
	AllowedExtensions []string `json:"allowed_extensions"`
	FileListMaxLimit  int      `json:"file_list_max_limit"`
	RowPageMaxLimit   int      `json:"row_page_max_limit"`
	AnalysisProvider  string   `json:"analysis_provider"`
	AnalysisTimeout   int      `json:"analysis_timeout_seconds"`
	AnalysisMaxRows   int      `json:"analysis_max_rows"`
	AnalysisCacheTTL  int      `json:"analysis_cache_ttl_minutes"`
	OrphanSweep       int      `json:"orphan_sweep_minutes"`
	MinWorkers        int      `json:"min_workers"`
	MaxWorkers        int      `json:"max_workers"`
	QueueSize         int      `json:"queue_size"`
	WorkerIdleTimeout int      `json:"worker_idle_timeout"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	for name, dbCfg := range cfg.Databases {
		if strings.HasPrefix(name, "sqlite") && dbCfg.DSN != "" && !filepath.IsAbs(dbCfg.DSN) && !strings.Contains(dbCfg.DSN, ":memory:") {
			dbCfg.DSN = filepath.Join(filepath.Dir(absPath), dbCfg.DSN)
			cfg.Databases[name] = dbCfg
		}
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.UploadDir == "" {
		b.UploadDir = "./data/uploads"
	}
	if b.MaxUploadMB <= 0 {
		b.MaxUploadMB = 50
	}
	if len(b.AllowedExtensions) == 0 {
		b.AllowedExtensions = []string{".csv", ".xlsx", ".xls"}
	}
	if b.FileListMaxLimit <= 0 {
		b.FileListMaxLimit = 100
	}
	if b.RowPageMaxLimit <= 0 {
		b.RowPageMaxLimit = 100
	}
	if b.AnalysisTimeout <= 0 {
		b.AnalysisTimeout = 30
	}
	if b.AnalysisMaxRows <= 0 {
		b.AnalysisMaxRows = 100
	}
}

// MaxUploadBytes returns the configured upload cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.BasicConfig.MaxUploadMB << 20
}
