// Package config loads the bot configuration file and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken   = "TELEGRAM_TOKEN"
	KeyOctoPrintURL    = "OCTOPRINT_URL"
	KeyOctoPrintAPIKey = "OCTOPRINT_API_KEY"
	KeyWebcamURL       = "WEBCAM_URL"
	KeyAppEnv          = "APP_ENV"
	KeyLogLevel        = "LOG_LEVEL"
	KeyHTTPPort        = "HTTP_PORT"
	KeyMongoURI        = "MONGO_URI"
	KeyMongoDB         = "MONGO_DB"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultConfigPath = "config.yml"
	DefaultAppEnv     = EnvProduction
	DefaultLogLevel   = "info"
	DefaultHTTPPort   = 8080
	DefaultDialogTTL  = 10 * time.Minute
)

// VarSpec describes a single environment override.
type VarSpec struct {
	Key         string // environment variable name
	Setting     string // config file key it overrides
	Example     string // human-friendly sample value
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the environment variables that override config file values.
// .env loading is only permitted when APP_ENV=development.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Setting:     "token",
		Example:     "123:ABC",
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyOctoPrintURL,
		Setting:     "octoprint.url",
		Example:     "http://octopi.local",
		Description: "Base URL of the OctoPrint host.",
	},
	{
		Key:         KeyOctoPrintAPIKey,
		Setting:     "octoprint.api_key",
		Example:     "ABCDEF0123456789",
		Description: "OctoPrint API key sent as X-Api-Key.",
	},
	{
		Key:         KeyWebcamURL,
		Setting:     "webcam.url",
		Example:     "http://octopi.local/webcam/?action=snapshot",
		Description: "Optional webcam snapshot URL.",
	},
	{
		Key:         KeyAppEnv,
		Setting:     "app_env",
		Example:     EnvDevelopment + " / " + EnvProduction,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Setting:     "log_level",
		Example:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Setting:     "http_port",
		Example:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health port; 0 disables the health server.",
	},
	{
		Key:         KeyMongoURI,
		Setting:     "mongo.uri",
		Example:     "mongodb://localhost:27017",
		Description: "Optional MongoDB connection string for the audit trail.",
	},
	{
		Key:         KeyMongoDB,
		Setting:     "mongo.db",
		Example:     "printer_bot",
		Description: "MongoDB database name; required when mongo.uri is set.",
	},
}

// Config mirrors resolved configuration values after loading. It is built once
// at startup and passed by value; nothing mutates it afterwards.
type Config struct {
	TelegramToken   string
	OctoPrintURL    string
	OctoPrintAPIKey string
	WebcamURL       string

	// ApprovedUsers is nil when no control allow-list is configured. A configured
	// but empty list is non-nil and denies everyone.
	ApprovedUsers []int64
	// ApprovedWatchers is nil when no watch allow-list is configured.
	ApprovedWatchers []int64

	AppEnv    string
	LogLevel  string
	HTTPPort  int
	DialogTTL time.Duration
	MongoURI  string
	MongoDB   string
}

type fileConfig struct {
	Token     string `yaml:"token"`
	OctoPrint struct {
		URL    string `yaml:"url"`
		APIKey string `yaml:"api_key"`
	} `yaml:"octoprint"`
	Webcam struct {
		URL string `yaml:"url"`
	} `yaml:"webcam"`
	ApprovedUsers    *[]int64 `yaml:"approved_users"`
	ApprovedWatchers *[]int64 `yaml:"approved_watchers"`
	AppEnv           string   `yaml:"app_env"`
	LogLevel         string   `yaml:"log_level"`
	HTTPPort         *int     `yaml:"http_port"`
	DialogTTL        string   `yaml:"dialog_ttl"`
	Mongo            struct {
		URI string `yaml:"uri"`
		DB  string `yaml:"db"`
	} `yaml:"mongo"`
}

// Load reads the YAML file at path, applies environment overrides (with
// optional dotenv in development) and validates the result.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	appEnv, err := resolveAppEnv(file.AppEnv)
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		TelegramToken:    firstNonEmpty(os.Getenv(KeyTelegramToken), file.Token),
		OctoPrintURL:     strings.TrimRight(firstNonEmpty(os.Getenv(KeyOctoPrintURL), file.OctoPrint.URL), "/"),
		OctoPrintAPIKey:  firstNonEmpty(os.Getenv(KeyOctoPrintAPIKey), file.OctoPrint.APIKey),
		WebcamURL:        firstNonEmpty(os.Getenv(KeyWebcamURL), file.Webcam.URL),
		ApprovedUsers:    idList(file.ApprovedUsers),
		ApprovedWatchers: idList(file.ApprovedWatchers),
		AppEnv:           firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		LogLevel:         firstNonEmpty(os.Getenv(KeyLogLevel), file.LogLevel, DefaultLogLevel),
		HTTPPort:         DefaultHTTPPort,
		DialogTTL:        DefaultDialogTTL,
		MongoURI:         firstNonEmpty(os.Getenv(KeyMongoURI), file.Mongo.URI),
		MongoDB:          firstNonEmpty(os.Getenv(KeyMongoDB), file.Mongo.DB),
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)
	if cfg.TelegramToken == "" {
		missing = append(missing, "token")
	}
	if cfg.OctoPrintURL == "" {
		missing = append(missing, "octoprint.url")
	}
	if cfg.OctoPrintAPIKey == "" {
		missing = append(missing, "octoprint.api_key")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required setting(s): %s", strings.Join(missing, ", "))
	}

	if err := validateHTTPURL("octoprint.url", cfg.OctoPrintURL); err != nil {
		return Config{}, err
	}
	if cfg.WebcamURL != "" {
		if err := validateHTTPURL("webcam.url", cfg.WebcamURL); err != nil {
			return Config{}, err
		}
	}

	if file.HTTPPort != nil {
		cfg.HTTPPort = *file.HTTPPort
	}
	if raw := strings.TrimSpace(os.Getenv(KeyHTTPPort)); raw != "" {
		port, parseErr := strconv.Atoi(raw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		cfg.HTTPPort = port
	}
	if cfg.HTTPPort < 0 {
		return Config{}, fmt.Errorf("http_port must not be negative")
	}

	if raw := strings.TrimSpace(file.DialogTTL); raw != "" {
		ttl, parseErr := time.ParseDuration(raw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid dialog_ttl: %w", parseErr)
		}
		if ttl <= 0 {
			return Config{}, fmt.Errorf("dialog_ttl must be greater than 0")
		}
		cfg.DialogTTL = ttl
	}

	if err := validateMongo(cfg.MongoURI, cfg.MongoDB); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// AuditEnabled reports whether the MongoDB audit trail is configured.
func (c Config) AuditEnabled() bool {
	return c.MongoURI != ""
}

// FormatRedacted renders the configuration for startup diagnostics with
// secrets masked.
func FormatRedacted(cfg Config) string {
	lines := []string{
		"telegram_token: " + redactSecret(cfg.TelegramToken),
		"octoprint_url: " + redactURL(cfg.OctoPrintURL),
		"octoprint_api_key: " + redactSecret(cfg.OctoPrintAPIKey),
		"webcam_url: " + orNone(redactURL(cfg.WebcamURL)),
		"approved_users: " + formatIDList(cfg.ApprovedUsers),
		"approved_watchers: " + formatIDList(cfg.ApprovedWatchers),
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		"http_port: " + strconv.Itoa(cfg.HTTPPort),
		"dialog_ttl: " + cfg.DialogTTL.String(),
		"mongo_uri: " + orNone(redactURL(cfg.MongoURI)),
		"mongo_db: " + orNone(cfg.MongoDB),
	}

	return strings.Join(lines, "\n")
}

func resolveAppEnv(fromFile string) (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read .env: %w", err)
	}
	if envFromDotEnv := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromDotEnv != "" {
		return envFromDotEnv, nil
	}

	if envFromFile := normalizeEnv(fromFile); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func validateHTTPURL(setting, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", setting, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid %s: scheme must be http or https", setting)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid %s: host is required", setting)
	}
	return nil
}

func validateMongo(uri, db string) error {
	if uri == "" && db == "" {
		return nil
	}
	if uri == "" {
		return fmt.Errorf("invalid %s: mongo.db is set without mongo.uri", KeyMongoURI)
	}
	if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
		return fmt.Errorf("invalid %s: must start with mongodb:// or mongodb+srv://", KeyMongoURI)
	}
	if db == "" {
		return fmt.Errorf("missing %s: required when mongo.uri is set", KeyMongoDB)
	}
	return nil
}

func idList(raw *[]int64) []int64 {
	if raw == nil {
		return nil
	}
	ids := make([]int64, len(*raw))
	copy(ids, *raw)
	return ids
}

func formatIDList(ids []int64) string {
	if ids == nil {
		return "(not configured)"
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func redactSecret(secret string) string {
	if secret == "" {
		return "(none)"
	}
	if len(secret) <= 4 {
		return "...redacted"
	}
	return secret[:4] + "...redacted"
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "(unparseable)"
	}
	parsed.User = nil
	return parsed.String()
}

func orNone(value string) string {
	if value == "" {
		return "(none)"
	}
	return value
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
