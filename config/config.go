package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Redis      RedisConfig      `yaml:"redis"`
	Settlement SettlementConfig `yaml:"settlement"`
	Game       GameConfig       `yaml:"game"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SettlementConfig selects the durable store. Driver is "mysql" or "sqlite".
// For mysql either DSN or the discrete fields are used.
type SettlementConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
}

type GameConfig struct {
	DopamineBoxes int     `yaml:"dopamine_boxes"`
	PointBoxes    int     `yaml:"point_boxes"`
	BoxAmount     int64   `yaml:"box_amount"`
	BoxRange      float64 `yaml:"box_range"`
	BoxStep       float64 `yaml:"box_step"`

	CollectRadiusM float64 `yaml:"collect_radius_m"`
	// MaxSpeedMps of 0 turns the speed guard off.
	MaxSpeedMps float64 `yaml:"max_speed_mps"`

	FinishLockTTL time.Duration `yaml:"finish_lock_ttl"`
	TombstoneTTL  time.Duration `yaml:"tombstone_ttl"`
	JoinTimeout   time.Duration `yaml:"join_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type AuthConfig struct {
	Secret string `yaml:"secret"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8000"},
		Redis:  RedisConfig{Addr: "localhost:6379"},
		Settlement: SettlementConfig{
			Driver:   "mysql",
			User:     "root",
			Addr:     "localhost:3306",
			Database: "runwithmate",
		},
		Game: GameConfig{
			DopamineBoxes:  7,
			PointBoxes:     5,
			BoxAmount:      10,
			BoxRange:       0.003,
			BoxStep:        0.0002,
			CollectRadiusM: 15,
			MaxSpeedMps:    12,
			FinishLockTTL:  30 * time.Second,
			TombstoneTTL:   24 * time.Hour,
			JoinTimeout:    10 * time.Minute,
			SweepInterval:  5 * time.Second,
		},
		Auth: AuthConfig{Secret: "access-secret"},
		Log:  LogConfig{Level: "info"},
	}
}

// Load reads the yaml file at path over Default() and then applies env overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return cfg, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		cfg.Redis.DB = db
	}
	if v := os.Getenv("SETTLEMENT_DRIVER"); v != "" {
		cfg.Settlement.Driver = v
	}
	if v := os.Getenv("SETTLEMENT_DSN"); v != "" {
		cfg.Settlement.DSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	return nil
}

func (c Config) Validate() error {
	g := c.Game
	if g.BoxStep <= 0 || g.BoxRange < g.BoxStep {
		return fmt.Errorf("game: box_range %v must be >= box_step %v > 0", g.BoxRange, g.BoxStep)
	}
	if g.DopamineBoxes < 0 || g.PointBoxes < 0 || g.BoxAmount <= 0 {
		return fmt.Errorf("game: box counts and amount must be positive")
	}
	if g.CollectRadiusM <= 0 {
		return fmt.Errorf("game: collect_radius_m must be positive")
	}
	switch c.Settlement.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("settlement: unknown driver %q", c.Settlement.Driver)
	}
	return nil
}

// SettlementDSN returns the database/sql data source name.
func (c SettlementConfig) SettlementDSN() string {
	if c.DSN != "" || c.Driver != "mysql" {
		return c.DSN
	}
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = c.Addr
	mc.DBName = c.Database
	mc.ParseTime = true
	return mc.FormatDSN()
}
