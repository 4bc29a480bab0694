package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env      string `yaml:"app_env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Storage struct {
		// "postgres" | "memory"
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MaxIdleConns    int    `yaml:"max_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// "memory" | "redis"
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Rate struct {
		// Tolerance: si el TTL devuelto por el counter supera este valor,
		// el caller duerme hasta su slot. Default 500ms.
		Tolerance string `yaml:"tolerance"`
	} `yaml:"rate"`

	Sync struct {
		// Intentos por activity antes de compensar.
		ActivityAttempts int    `yaml:"activity_attempts"`
		ActivityBackoff  string `yaml:"activity_backoff"`
		// Granularidad del time bucket de la idempotency key.
		IdempotencyWindow string `yaml:"idempotency_window"`
	} `yaml:"sync"`

	Webhook struct {
		// Tenant key usada para resolver el org dueño de un payload
		// antes de conocer el tenant real.
		BootstrapKey string `yaml:"bootstrap_key"`
	} `yaml:"webhook"`

	Admin struct {
		// HS256 secret para el bearer del Admin API. Vacío ⇒ admin deshabilitado.
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"admin"`

	// ───────── Adapters ─────────
	Adapters struct {
		PCO struct {
			Enabled       bool   `yaml:"enabled"`
			ClientID      string `yaml:"client_id"`
			ClientSecret  string `yaml:"client_secret"`
			BaseURL       string `yaml:"base_url"`
			TokenEndpoint string `yaml:"token_endpoint"`
		} `yaml:"pco"`
	} `yaml:"adapters"`

	SMTP struct {
		Enabled            bool   `yaml:"enabled"`
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		From               string `yaml:"from"`
		To                 string `yaml:"to"` // destinatario de alertas de operador
		TLS                string `yaml:"tls"`
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"` // sólo dev
	} `yaml:"smtp"`

	Security struct {
		// base64(32 bytes); cifra refresh tokens en reposo.
		SecretBoxMasterKey string `yaml:"secretbox_master_key"`
	} `yaml:"security"`
}

func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "2m"
	}
	if c.Rate.Tolerance == "" {
		c.Rate.Tolerance = "500ms"
	}
	if c.Sync.ActivityAttempts == 0 {
		c.Sync.ActivityAttempts = 4
	}
	if c.Sync.ActivityBackoff == "" {
		c.Sync.ActivityBackoff = "2s"
	}
	if c.Sync.IdempotencyWindow == "" {
		c.Sync.IdempotencyWindow = "5m"
	}
	if c.Webhook.BootstrapKey == "" {
		c.Webhook.BootstrapKey = "bootstrap"
	}
	if c.SMTP.TLS == "" {
		c.SMTP.TLS = "auto"
	}
	if c.Adapters.PCO.BaseURL == "" {
		c.Adapters.PCO.BaseURL = "https://api.planningcenteronline.com"
	}
	if c.Adapters.PCO.TokenEndpoint == "" {
		c.Adapters.PCO.TokenEndpoint = "https://api.planningcenteronline.com/oauth/token"
	}

	// Overrides por env
	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}

	// Guardia dura: en prod el storage en memoria no es aceptable.
	if strings.EqualFold(c.App.Env, "prod") && c.Storage.Driver == "memory" {
		return nil, fmt.Errorf("config: storage.driver=memory no permitido en prod")
	}

	return &c, nil
}

// Validate valida duraciones y combinaciones críticas.
func (c *Config) Validate() error {
	for _, d := range []struct{ name, val string }{
		{"cache.memory.default_ttl", c.Cache.Memory.DefaultTTL},
		{"rate.tolerance", c.Rate.Tolerance},
		{"sync.activity_backoff", c.Sync.ActivityBackoff},
		{"sync.idempotency_window", c.Sync.IdempotencyWindow},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("config: %s: %w", d.name, err)
		}
	}
	if c.Storage.Postgres.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(c.Storage.Postgres.ConnMaxLifetime); err != nil {
			return err
		}
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" && !strings.EqualFold(c.App.Env, "dev") && c.App.Env != "" {
		return fmt.Errorf("config: storage.dsn requerida con driver=postgres")
	}
	return nil
}

// Duraciones ya validadas; los getters devuelven el valor parseado.

func (c *Config) RateTolerance() time.Duration     { return mustDur(c.Rate.Tolerance, 500*time.Millisecond) }
func (c *Config) MemoryCacheTTL() time.Duration    { return mustDur(c.Cache.Memory.DefaultTTL, 2*time.Minute) }
func (c *Config) ActivityBackoff() time.Duration   { return mustDur(c.Sync.ActivityBackoff, 2*time.Second) }
func (c *Config) IdempotencyWindow() time.Duration { return mustDur(c.Sync.IdempotencyWindow, 5*time.Minute) }

func mustDur(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.App.LogLevel = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_OPEN_CONNS"); ok {
		c.Storage.Postgres.MaxOpenConns = v
	}
	if v, ok := getEnvInt("POSTGRES_MAX_IDLE_CONNS"); ok {
		c.Storage.Postgres.MaxIdleConns = v
	}
	if v, ok := getEnvStr("POSTGRES_CONN_MAX_LIFETIME"); ok {
		c.Storage.Postgres.ConnMaxLifetime = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}

	// RATE / SYNC
	if v, ok := getEnvStr("RATE_TOLERANCE"); ok {
		c.Rate.Tolerance = v
	}
	if v, ok := getEnvInt("SYNC_ACTIVITY_ATTEMPTS"); ok {
		c.Sync.ActivityAttempts = v
	}
	if v, ok := getEnvStr("SYNC_ACTIVITY_BACKOFF"); ok {
		c.Sync.ActivityBackoff = v
	}
	if v, ok := getEnvStr("SYNC_IDEMPOTENCY_WINDOW"); ok {
		c.Sync.IdempotencyWindow = v
	}

	// WEBHOOK / ADMIN
	if v, ok := getEnvStr("WEBHOOK_BOOTSTRAP_KEY"); ok {
		c.Webhook.BootstrapKey = v
	}
	if v, ok := getEnvStr("ADMIN_JWT_SECRET"); ok {
		c.Admin.JWTSecret = v
	}

	// ───── Adapters ─────
	if v, ok := getEnvBool("PCO_ENABLED"); ok {
		c.Adapters.PCO.Enabled = v
	}
	if v, ok := getEnvStr("PCO_CLIENT_ID"); ok {
		c.Adapters.PCO.ClientID = v
	}
	if v, ok := getEnvStr("PCO_CLIENT_SECRET"); ok {
		c.Adapters.PCO.ClientSecret = v
	}
	if v, ok := getEnvStr("PCO_BASE_URL"); ok {
		c.Adapters.PCO.BaseURL = v
	}
	if v, ok := getEnvStr("PCO_TOKEN_ENDPOINT"); ok {
		c.Adapters.PCO.TokenEndpoint = v
	}

	// SMTP
	if v, ok := getEnvBool("SMTP_ENABLED"); ok {
		c.SMTP.Enabled = v
	}
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}
	if v, ok := getEnvStr("SMTP_TO"); ok {
		c.SMTP.To = v
	}
	if v, ok := getEnvStr("SMTP_TLS"); ok {
		c.SMTP.TLS = strings.ToLower(v)
	}
	if v, ok := getEnvBool("SMTP_INSECURE_SKIP_VERIFY"); ok {
		c.SMTP.InsecureSkipVerify = v
	}

	// SECURITY
	if v, ok := getEnvStr("SECRETBOX_MASTER_KEY"); ok {
		c.Security.SecretBoxMasterKey = v
	}
}
