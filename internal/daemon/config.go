// Package daemon wires configuration, storage, the session controller and the
// HTTP server into one long-running process.
package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fog-of-explore/explore/internal/app/session"
	"github.com/fog-of-explore/explore/internal/domain"
	"github.com/fog-of-explore/explore/internal/infra/catalog"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverJSON     = "json"
)

// Config is the contents of $EXPLORE_HOME/config.toml.
type Config struct {
	API      APIConfig      `toml:"api"`
	Storage  StorageConfig  `toml:"storage"`
	Game     GameConfig     `toml:"game"`
	Location LocationConfig `toml:"location"`
	Log      LogConfig      `toml:"log"`
	Trace    TraceConfig    `toml:"trace"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	IngestRate     float64  `toml:"ingest_rate"` // position posts per second
	IngestBurst    int      `toml:"ingest_burst"`
	AllowedOrigins []string `toml:"allowed_origins"`
	Metrics        bool     `toml:"metrics"`
}

// Addr returns host:port.
func (a APIConfig) Addr() string { return a.Host + ":" + strconv.Itoa(a.Port) }

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Driver        string `toml:"driver"` // sqlite | postgres | redis | json
	PlayerID      string `toml:"player_id"`
	PostgresDSN   string `toml:"postgres_dsn"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisTTL      string `toml:"redis_ttl"` // "" keeps keys forever
	JSONPath      string `toml:"json_path"` // default $EXPLORE_HOME/state.json
}

// GameConfig holds the tunable game rules and an optional catalog file.
type GameConfig struct {
	CatalogFile     string  `toml:"catalog_file"` // yaml, geojson or shp; empty uses the built-in campus
	NearbyDistance  float64 `toml:"nearby_distance"`
	VisitDistance   float64 `toml:"visit_distance"`
	MinAccuracy     float64 `toml:"min_accuracy"`
	RevisitCooldown string  `toml:"revisit_cooldown"`
	AutoRefresh     string  `toml:"auto_refresh"`
	FirstVisitBonus float64 `toml:"first_visit_bonus"`
}

// LocationConfig holds the location provider timeouts.
type LocationConfig struct {
	HighAccuracy   bool   `toml:"high_accuracy"`
	InitialTimeout string `toml:"initial_timeout"`
	InitialMaxAge  string `toml:"initial_max_age"`
	WatchTimeout   string `toml:"watch_timeout"`
	WatchMaxAge    string `toml:"watch_max_age"`
	RefreshTimeout string `toml:"refresh_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json | console
}

// TraceConfig configures the in-memory step tracer.
type TraceConfig struct {
	Enabled  bool `toml:"enabled"`
	MaxSpans int  `toml:"max_spans"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8742,
			IngestRate:     5,
			IngestBurst:    10,
			AllowedOrigins: []string{"*"},
			Metrics:        true,
		},
		Storage: StorageConfig{
			Driver:   DriverSQLite,
			PlayerID: "default",
		},
		Game: GameConfig{
			NearbyDistance:  100,
			VisitDistance:   30,
			MinAccuracy:     50,
			RevisitCooldown: "1h",
			AutoRefresh:     "30s",
			FirstVisitBonus: 1.5,
		},
		Location: LocationConfig{
			HighAccuracy:   true,
			InitialTimeout: "10s",
			InitialMaxAge:  "60s",
			WatchTimeout:   "30s",
			WatchMaxAge:    "30s",
			RefreshTimeout: "10s",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Trace: TraceConfig{
			Enabled:  true,
			MaxSpans: 1000,
		},
	}
}

// ─── Loading ────────────────────────────────────────────────────────────────

// Home returns the explore data directory: $EXPLORE_HOME, or ~/.explore.
func Home() string {
	if h := os.Getenv("EXPLORE_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".explore"
	}
	return filepath.Join(home, ".explore")
}

// ConfigPath returns the default config file location.
func ConfigPath() string { return filepath.Join(Home(), "config.toml") }

// LoadConfig reads path (a missing file means defaults), then .env files, then
// EXPLORE_* environment overrides, and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = ConfigPath()
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
		return cfg, eris.Wrapf(err, "config: read %s", path)
	}

	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(Home(), ".env"))
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes cfg as TOML to path.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return eris.Wrap(err, "config: create dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "config: create file")
	}
	defer f.Close()
	return eris.Wrap(toml.NewEncoder(f).Encode(c), "config: encode")
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("EXPLORE_API_HOST", &cfg.API.Host)
	num("EXPLORE_API_PORT", &cfg.API.Port)
	if v := os.Getenv("EXPLORE_ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = strings.Split(v, ",")
	}

	str("EXPLORE_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("EXPLORE_PLAYER_ID", &cfg.Storage.PlayerID)
	str("EXPLORE_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("EXPLORE_REDIS_ADDR", &cfg.Storage.RedisAddr)
	str("EXPLORE_REDIS_PASSWORD", &cfg.Storage.RedisPassword)
	num("EXPLORE_REDIS_DB", &cfg.Storage.RedisDB)
	str("EXPLORE_JSON_PATH", &cfg.Storage.JSONPath)

	str("EXPLORE_CATALOG_FILE", &cfg.Game.CatalogFile)
	str("EXPLORE_LOG_LEVEL", &cfg.Log.Level)
	str("EXPLORE_LOG_FORMAT", &cfg.Log.Format)
}

// Validate rejects settings the process cannot run with.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite, DriverJSON:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return eris.New("config: storage.postgres_dsn is required for the postgres driver")
		}
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			return eris.New("config: storage.redis_addr is required for the redis driver")
		}
	default:
		return eris.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.PlayerID == "" {
		return eris.New("config: storage.player_id must not be empty")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return eris.Errorf("config: api.port %d out of range", c.API.Port)
	}
	g := c.Game
	if !(g.NearbyDistance > 0) || !(g.VisitDistance > 0) || !(g.MinAccuracy > 0) {
		return eris.New("config: game distances must be positive")
	}
	if !(g.FirstVisitBonus >= 1) {
		return eris.New("config: game.first_visit_bonus must be at least 1")
	}
	for name, v := range map[string]string{
		"game.revisit_cooldown":    g.RevisitCooldown,
		"game.auto_refresh":        g.AutoRefresh,
		"location.initial_timeout": c.Location.InitialTimeout,
		"location.watch_timeout":   c.Location.WatchTimeout,
		"location.refresh_timeout": c.Location.RefreshTimeout,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return eris.Wrapf(err, "config: %s", name)
		}
		if d <= 0 && name != "game.revisit_cooldown" {
			return eris.Errorf("config: %s must be positive", name)
		}
		if d < 0 {
			return eris.Errorf("config: %s must not be negative", name)
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return eris.Wrap(err, "config: log.level")
	}
	return nil
}

// ─── Derived Settings ───────────────────────────────────────────────────────

// parseDuration parses s, returning fallback when s is empty or invalid.
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Rules returns the catalog rules described by the game section.
func (c Config) Rules() catalog.Rules {
	def := catalog.DefaultRules()
	return catalog.Rules{
		NearbyDistance:      c.Game.NearbyDistance,
		VisitDistance:       c.Game.VisitDistance,
		MinAccuracy:         c.Game.MinAccuracy,
		RevisitCooldown:     parseDuration(c.Game.RevisitCooldown, def.RevisitCooldown),
		AutoRefreshInterval: parseDuration(c.Game.AutoRefresh, def.AutoRefreshInterval),
		FirstVisitBonus:     c.Game.FirstVisitBonus,
	}
}

// SessionConfig returns the controller settings described by the location
// section.
func (c Config) SessionConfig() session.Config {
	def := session.DefaultConfig()
	l := c.Location
	return session.Config{
		Initial: domain.PositionOptions{
			HighAccuracy: l.HighAccuracy,
			Timeout:      parseDuration(l.InitialTimeout, def.Initial.Timeout),
			MaximumAge:   parseDuration(l.InitialMaxAge, def.Initial.MaximumAge),
		},
		Watch: domain.PositionOptions{
			HighAccuracy: l.HighAccuracy,
			Timeout:      parseDuration(l.WatchTimeout, def.Watch.Timeout),
			MaximumAge:   parseDuration(l.WatchMaxAge, def.Watch.MaximumAge),
		},
		Refresh: domain.PositionOptions{
			HighAccuracy: l.HighAccuracy,
			Timeout:      parseDuration(l.RefreshTimeout, def.Refresh.Timeout),
		},
		QueueSize: def.QueueSize,
	}
}

// RedisTTLDuration returns the key expiry; 0 keeps keys forever.
func (s StorageConfig) RedisTTLDuration() time.Duration { return parseDuration(s.RedisTTL, 0) }

// ResolvedJSONPath returns the JSON state file location.
func (s StorageConfig) ResolvedJSONPath() string {
	if s.JSONPath != "" {
		return s.JSONPath
	}
	return filepath.Join(Home(), "state.json")
}

// LoadCatalog builds the catalog from the configured file, or the built-in
// campus when none is set.
func (c Config) LoadCatalog() (*catalog.Catalog, error) {
	if c.Game.CatalogFile == "" {
		return catalog.Default().WithRules(c.Rules())
	}
	return catalog.LoadFile(c.Game.CatalogFile, c.Rules())
}

// ─── Logging ────────────────────────────────────────────────────────────────

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
