package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kdimtricp/smilegame/internal/api"
	"github.com/kdimtricp/smilegame/internal/database"
	"github.com/kdimtricp/smilegame/internal/facemesh"
	"github.com/kdimtricp/smilegame/internal/game"
	"github.com/kdimtricp/smilegame/internal/highscore"
	"github.com/kdimtricp/smilegame/internal/logging"
	"github.com/kdimtricp/smilegame/internal/round"
	"github.com/kdimtricp/smilegame/internal/smile"
)

// High score backends.
const (
	BackendSQL    = "sql"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type ServerConfig struct {
	Port              string        `yaml:"port" validate:"required,numeric"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

type HighScoreConfig struct {
	Backend string                `yaml:"backend" validate:"oneof=sql redis memory"`
	Redis   highscore.RedisConfig `yaml:"redis"`
}

type RecordingsConfig struct {
	// Dir holds round recordings. Recording is off when empty.
	Dir string `yaml:"dir"`
}

type Config struct {
	Server         ServerConfig      `yaml:"server"`
	Database       database.Config   `yaml:"database"`
	MigrationsPath string            `yaml:"migrations_path"`
	HighScores     HighScoreConfig   `yaml:"highscores"`
	FaceMesh       facemesh.Config   `yaml:"facemesh"`
	Calibration    smile.Calibration `yaml:"calibration"`
	Game           game.Config       `yaml:"game"`
	API            api.RouterConfig  `yaml:"api"`
	Logging        logging.Config    `yaml:"logging"`
	Recordings     RecordingsConfig  `yaml:"recordings"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              "8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Database: database.Config{
			Type:       database.TypeSQLite,
			Port:       5432,
			SQLitePath: "./smilegame.db",
		},
		MigrationsPath: "./migrations",
		HighScores:     HighScoreConfig{Backend: BackendSQL},
		FaceMesh:       facemesh.DefaultConfig(),
		Calibration:    smile.DefaultCalibration(),
		Game:           game.DefaultConfig(),
		API:            api.DefaultRouterConfig(),
		Logging:        logging.Config{Level: "info"},
	}
}

// Load builds the configuration from, in increasing priority: defaults, the
// YAML file, a .env file and the process environment. The YAML file is
// CONFIG_FILE, else config/<CONFIG_ENV>/config.yaml, else ./config.yaml; a
// missing file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = findConfigFile()
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads path over the defaults without consulting the environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	env := getEnv("CONFIG_ENV", "dev")
	for _, p := range []string{
		filepath.Join("config", env, "config.yaml"),
		"config.yaml",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Server.Port = getEnv("PORT", c.Server.Port)

	c.Database.Type = getEnv("DB_TYPE", c.Database.Type)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.SQLitePath = getEnv("DB_PATH", c.Database.SQLitePath)
	port, err := getEnvInt("DB_PORT", c.Database.Port)
	if err != nil {
		return err
	}
	c.Database.Port = port
	c.MigrationsPath = getEnv("MIGRATIONS_PATH", c.MigrationsPath)

	c.HighScores.Backend = getEnv("HIGHSCORE_BACKEND", c.HighScores.Backend)
	c.HighScores.Redis.Address = getEnv("REDIS_ADDR", c.HighScores.Redis.Address)
	c.HighScores.Redis.Password = getEnv("REDIS_PASSWORD", c.HighScores.Redis.Password)
	redisDB, err := getEnvInt("REDIS_DB", c.HighScores.Redis.DB)
	if err != nil {
		return err
	}
	c.HighScores.Redis.DB = redisDB

	c.FaceMesh.URL = getEnv("FACEMESH_URL", c.FaceMesh.URL)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.File = getEnv("LOG_FILE", c.Logging.File)

	c.Recordings.Dir = getEnv("RECORDINGS_DIR", c.Recordings.Dir)

	if v := os.Getenv("SMILE_POLICY"); v != "" {
		policy, err := round.ParsePolicy(v)
		if err != nil {
			return fmt.Errorf("SMILE_POLICY: %w", err)
		}
		modeCfg, ok := c.Game.Modes[highscore.Smile]
		if !ok {
			modeCfg = round.DefaultConfig()
		}
		modeCfg.Policy = policy
		if c.Game.Modes == nil {
			c.Game.Modes = make(map[highscore.Mode]round.Config)
		}
		c.Game.Modes[highscore.Smile] = modeCfg
	}
	return nil
}

// Validate checks every section against its validation tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.HighScores.Backend == BackendRedis && c.HighScores.Redis.Address == "" {
		return errors.New("invalid config: redis high score backend needs highscores.redis.address")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
