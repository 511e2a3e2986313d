package storywatch

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Configuration keys. The YAML file uses the same keys, case-insensitively.
const (
	KeyStorageURI      = "STORAGE_URI"
	KeyDBName          = "DB_NAME"
	KeySessionUsername = "SESSION_USERNAME"
	KeyUsernames       = "USERNAMES"
	KeyCheckInterval   = "CHECK_INTERVAL"
	KeyBotToken        = "TELEGRAM_BOT_TOKEN"
	KeyChatID          = "TELEGRAM_CHAT_ID"
	KeyAPIEndpoint     = "TELEGRAM_API_ENDPOINT"
	KeyPort            = "PORT"
	KeyDownloadDir     = "DOWNLOAD_DIR"
	KeyFetchBaseURL    = "FETCH_BASE_URL"
	KeyFetchTransport  = "FETCH_TRANSPORT"
	KeyBrowserURL      = "BROWSER_URL"
	KeySendTimeout     = "SEND_TIMEOUT"
	KeyRetention       = "RETENTION"
	KeySweepInterval   = "SWEEP_INTERVAL"
	KeyCredentialKey   = "CREDENTIAL_AGE_KEY"
	KeyLogLevel        = "LOG_LEVEL"
)

var configKeys = []string{
	KeyStorageURI, KeyDBName, KeySessionUsername, KeyUsernames, KeyCheckInterval,
	KeyBotToken, KeyChatID, KeyAPIEndpoint, KeyPort, KeyDownloadDir,
	KeyFetchBaseURL, KeyFetchTransport, KeyBrowserURL, KeySendTimeout,
	KeyRetention, KeySweepInterval, KeyCredentialKey, KeyLogLevel,
}

// Config is the process configuration.
type Config struct {
	StorageURI      string
	DBName          string
	SessionUsername string
	Usernames       []string
	CheckInterval   time.Duration

	BotToken    string
	ChatID      string
	APIEndpoint string
	SendTimeout time.Duration

	Port        string
	DownloadDir string

	FetchBaseURL   string
	FetchTransport string
	BrowserURL     string

	Retention     time.Duration
	SweepInterval time.Duration

	CredentialKey string
	LogLevel      string
}

// Sources names where LoadConfig reads from. Empty paths are skipped.
type Sources struct {
	// DotEnv is a .env file; missing is not an error.
	DotEnv string
	// File is a YAML file; missing is an error.
	File string
	// LookupEnv reads the environment. Default: os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// LoadConfig merges, lowest precedence first: defaults, the .env file, the
// YAML file, the environment. Only parse errors are reported; completeness is
// checked by Validate.
func LoadConfig(src Sources) (*Config, error) {
	if src.LookupEnv == nil {
		src.LookupEnv = os.LookupEnv
	}
	values := make(map[string]string)

	if src.DotEnv != "" {
		m, err := godotenv.Read(src.DotEnv)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: read %s: %v", ErrConfiguration, src.DotEnv, err)
		}
		for k, v := range m {
			values[strings.ToUpper(k)] = v
		}
	}

	if src.File != "" {
		m, err := readYAML(src.File)
		if err != nil {
			return nil, err
		}
		for k, v := range m {
			values[k] = v
		}
	}

	for _, k := range configKeys {
		if v, ok := src.LookupEnv(k); ok {
			values[k] = v
		}
	}
	return parseConfig(values)
}

func readYAML(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfiguration, path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(x))
			for _, e := range x {
				parts = append(parts, fmt.Sprint(e))
			}
			out[strings.ToUpper(k)] = strings.Join(parts, ",")
		default:
			out[strings.ToUpper(k)] = fmt.Sprint(x)
		}
	}
	return out, nil
}

// Identity and targets used when the keys are unset.
const (
	DefaultSessionUsername = "moe.mpg"
	DefaultUsernames       = "jaqxul,ssh.daemon"
)

func parseConfig(v map[string]string) (*Config, error) {
	get := func(key, fallback string) string {
		if s := strings.TrimSpace(v[key]); s != "" {
			return s
		}
		return fallback
	}

	cfg := &Config{
		StorageURI:      get(KeyStorageURI, "data"),
		DBName:          get(KeyDBName, "insta_monitor"),
		SessionUsername: get(KeySessionUsername, DefaultSessionUsername),
		Usernames:       splitList(get(KeyUsernames, DefaultUsernames)),
		BotToken:        get(KeyBotToken, ""),
		ChatID:          get(KeyChatID, ""),
		APIEndpoint:     get(KeyAPIEndpoint, ""),
		Port:            get(KeyPort, "8080"),
		DownloadDir:     get(KeyDownloadDir, "/tmp/insta_stories"),
		FetchBaseURL:    get(KeyFetchBaseURL, ""),
		FetchTransport:  strings.ToLower(get(KeyFetchTransport, "http")),
		BrowserURL:      get(KeyBrowserURL, ""),
		CredentialKey:   get(KeyCredentialKey, ""),
		LogLevel:        strings.ToLower(get(KeyLogLevel, "info")),
	}

	var err error
	if cfg.CheckInterval, err = parseSeconds(KeyCheckInterval, get(KeyCheckInterval, "600")); err != nil {
		return nil, err
	}
	if cfg.SendTimeout, err = parseSeconds(KeySendTimeout, get(KeySendTimeout, "60s")); err != nil {
		return nil, err
	}
	if cfg.Retention, err = parseSeconds(KeyRetention, get(KeyRetention, "72h")); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = parseSeconds(KeySweepInterval, get(KeySweepInterval, "1h")); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseSeconds accepts a bare integer (seconds) or a Go duration string.
func parseSeconds(key, s string) (time.Duration, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is neither seconds nor a duration", ErrConfiguration, key, s)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateStorage checks what every command needs: storage and identity.
func (c *Config) ValidateStorage() error {
	var missing []string
	if c.StorageURI == "" {
		missing = append(missing, KeyStorageURI)
	}
	if c.SessionUsername == "" {
		missing = append(missing, KeySessionUsername)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// Validate checks everything a monitoring run needs.
func (c *Config) Validate() error {
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	var problems []string
	if len(c.Usernames) == 0 {
		problems = append(problems, "missing "+KeyUsernames)
	}
	if c.BotToken == "" {
		problems = append(problems, "missing "+KeyBotToken)
	}
	if c.ChatID == "" {
		problems = append(problems, "missing "+KeyChatID)
	}
	if c.CheckInterval <= 0 {
		problems = append(problems, KeyCheckInterval+" must be positive")
	}
	if c.SendTimeout <= 0 {
		problems = append(problems, KeySendTimeout+" must be positive")
	}
	if c.Retention < 0 {
		problems = append(problems, KeyRetention+" must not be negative")
	}
	switch c.FetchTransport {
	case "http", "browser":
	default:
		problems = append(problems, fmt.Sprintf("%s=%q (want http or browser)", KeyFetchTransport, c.FetchTransport))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}
