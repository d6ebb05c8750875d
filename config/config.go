// Package config loads the server settings from config.yaml, an optional
// .env file and FPS_* environment variables, in that order of precedence
// (environment wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	iface "FacePoseServer/interface"
)

const EnvPrefix = "FPS_"

type Config struct {
	HTTPPort      int    `yaml:"HTTPPort" validate:"gte=0,lte=65535"`
	RPCPort       int    `yaml:"RPCPort" validate:"gte=0,lte=65535"`
	AdhocPort     int    `yaml:"AdhocPort" validate:"gte=0,lte=65535"`
	WorkersNum    int    `yaml:"workersNum" validate:"gte=0"`
	IdleTimeoutMs int    `yaml:"IdleTimeoutMs" validate:"gte=0"`
	MaxSessions   int    `yaml:"MaxSessions" validate:"gte=0"`
	UseRegServer  bool   `yaml:"UseRegServer"`
	RegServerHost string `yaml:"RegServerHost" validate:"required_if=UseRegServer true"`
	RegServerPort int    `yaml:"RegServerPort" validate:"required_if=UseRegServer true,gte=0,lte=65535"`

	NoFacePolicy     string  `yaml:"NoFacePolicy" validate:"omitempty,oneof=reset keep"`
	MaxFPS           float64 `yaml:"MaxFPS" validate:"gte=0"`
	FailureHintAfter int     `yaml:"FailureHintAfter" validate:"gte=0"`
	SnapshotDir      string  `yaml:"SnapshotDir"`

	Store            string `yaml:"Store" validate:"oneof=memory redis"`
	RedisAddr        string `yaml:"RedisAddr" validate:"required_if=Store redis"`
	RedisPassword    string `yaml:"RedisPassword"`
	RedisDB          int    `yaml:"RedisDB" validate:"gte=0"`
	ResultTTLMinutes int    `yaml:"ResultTTLMinutes" validate:"gte=0"`

	LogFile     string `yaml:"LogFile"`
	Development bool   `yaml:"Development"`
}

// Default 是没有配置文件时使用的值
func Default() Config {
	return Config{
		HTTPPort:         8080,
		RPCPort:          50051,
		AdhocPort:        9100,
		WorkersNum:       1,
		IdleTimeoutMs:    30000,
		RegServerPort:    8000,
		NoFacePolicy:     "reset",
		FailureHintAfter: 10,
		Store:            "memory",
		RedisAddr:        "127.0.0.1:6379",
		ResultTTLMinutes: 60,
	}
}

// Load 读取 path（不存在时只用默认值），再读取 .env 和环境变量，最后校验
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse %s", path)
		}
	case os.IsNotExist(err):
	default:
		return Config{}, errors.Wrapf(err, "read %s", path)
	}

	if envFile != "" {
		// godotenv 不覆盖已存在的环境变量
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(errors.Cause(err)) {
			return Config{}, errors.Wrapf(err, "load %s", envFile)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	ints := map[string]*int{
		"HTTP_PORT":          &cfg.HTTPPort,
		"RPC_PORT":           &cfg.RPCPort,
		"ADHOC_PORT":         &cfg.AdhocPort,
		"WORKERS_NUM":        &cfg.WorkersNum,
		"IDLE_TIMEOUT_MS":    &cfg.IdleTimeoutMs,
		"MAX_SESSIONS":       &cfg.MaxSessions,
		"REG_SERVER_PORT":    &cfg.RegServerPort,
		"FAILURE_HINT_AFTER": &cfg.FailureHintAfter,
		"REDIS_DB":           &cfg.RedisDB,
		"RESULT_TTL_MINUTES": &cfg.ResultTTLMinutes,
	}
	strs := map[string]*string{
		"REG_SERVER_HOST": &cfg.RegServerHost,
		"NO_FACE_POLICY":  &cfg.NoFacePolicy,
		"SNAPSHOT_DIR":    &cfg.SnapshotDir,
		"STORE":           &cfg.Store,
		"REDIS_ADDR":      &cfg.RedisAddr,
		"REDIS_PASSWORD":  &cfg.RedisPassword,
		"LOG_FILE":        &cfg.LogFile,
	}
	bools := map[string]*bool{
		"USE_REG_SERVER": &cfg.UseRegServer,
		"DEVELOPMENT":    &cfg.Development,
	}

	for key, dst := range ints {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return errors.Wrapf(err, "%s%s", EnvPrefix, key)
			}
			*dst = n
		}
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	for key, dst := range bools {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return errors.Wrapf(err, "%s%s", EnvPrefix, key)
			}
			*dst = b
		}
	}
	if v, ok := lookup(EnvPrefix + "MAX_FPS"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return errors.Wrapf(err, "%sMAX_FPS", EnvPrefix)
		}
		cfg.MaxFPS = f
	}
	return nil
}

func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}

func (c Config) ResultTTL() time.Duration {
	return time.Duration(c.ResultTTLMinutes) * time.Minute
}

// EngineDefaults 是新建会话时的默认配置
func (c Config) EngineDefaults() iface.EngineConfig {
	return iface.EngineConfig{
		Description:      "pose challenge",
		NoFacePolicy:     c.NoFacePolicy,
		MaxFPS:           c.MaxFPS,
		FailureHintAfter: c.FailureHintAfter,
		SnapshotDir:      c.SnapshotDir,
	}
}

// String 隐藏 Redis 密码，用于启动日志
func (c Config) String() string {
	redacted := redactedConfig(c)
	if redacted.RedisPassword != "" {
		redacted.RedisPassword = "***"
	}
	return fmt.Sprintf("%+v", redacted)
}

type redactedConfig Config
