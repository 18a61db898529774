package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/annel0/world-sync/internal/vcs"
)

// Config корневая структура конфигурации приложения.
type Config struct {
	EventBus EventBusConfig       `yaml:"eventbus"`
	Sync     SyncConfig           `yaml:"sync"`
	Server   ServerConfig         `yaml:"server"`
	Storage  StorageConfig        `yaml:"storage"`
	Repo     vcs.RepositoryConfig `yaml:"repository"`
	Auth     AuthConfig           `yaml:"auth"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"` // NATS URL; пусто — in-memory шина
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Buffer    int    `yaml:"buffer"` // ёмкость in-memory шины
}

type SyncConfig struct {
	TickRateMs       int `yaml:"tick_rate_ms"`      // период тика движка
	FullSyncSeconds  int `yaml:"full_sync_seconds"` // интервал полной рассылки
	CursorTTLSeconds int `yaml:"cursor_ttl_seconds"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

type StorageConfig struct {
	Backend  string `yaml:"backend"`   // badger | maria | mongo | memory
	DataPath string `yaml:"data_path"` // каталог BadgerDB
	MariaDSN string `yaml:"maria_dsn"`
	MongoURI string `yaml:"mongo_uri"`
	MongoDB  string `yaml:"mongo_db"`
	Redis    string `yaml:"redis_addr"` // пусто — курсоры в памяти
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "WORLDSYNC_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "WORLDSYNC_METRICS_PORT", 2112)
}

// GetTickRateMs возвращает период тика (по умолчанию 16 мс ≈ 60 Гц).
func (s *SyncConfig) GetTickRateMs() int {
	if s.TickRateMs > 0 {
		return s.TickRateMs
	}
	return 16
}

// GetBackend возвращает бэкенд персистентности с env-fallback.
func (s *StorageConfig) GetBackend() string {
	if s.Backend != "" {
		return s.Backend
	}
	if v := os.Getenv("WORLDSYNC_STORAGE_BACKEND"); v != "" {
		return v
	}
	return "memory"
}

// GetJWTSecret возвращает секрет подписи токенов с env-fallback.
func (a *AuthConfig) GetJWTSecret() string {
	if a.JWTSecret != "" {
		return a.JWTSecret
	}
	return os.Getenv("WORLDSYNC_JWT_SECRET")
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	// Используем дефолтное значение
	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV WORLDSYNC_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("WORLDSYNC_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
