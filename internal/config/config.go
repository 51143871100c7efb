package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DefaultCredentialsFile is where the API key is persisted when none is set.
	DefaultCredentialsFile = "testpilot.env"

	defaultIdeasAssistant = "asst_XW9b1pA7W2aExEWEFnp69xVq"
	defaultTestsAssistant = "asst_GpfjUzQuQhp1DwF86auMjxMY"
	defaultChatModel      = "gpt-3.5-turbo"
)

// ErrMissingAPIKey is returned by RequireAPIKey when no key is configured.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is required")

// Config holds all configuration for testpilot
type Config struct {
	// Server settings
	Port int

	// OpenAI settings
	OpenAIAPIKey   string
	OpenAIBaseURL  string // Optional: custom API endpoint
	IdeasAssistant string
	TestsAssistant string

	// Extraction completions
	ChatModel       string
	ChatMaxTokens   int
	ChatTemperature float64

	// Run polling
	PollInitial    time.Duration
	PollMax        time.Duration
	PollMultiplier float64

	// Test file convention
	TestDir    string
	TestSuffix string
	TestExt    string

	// Generation queue settings
	GenerateWorkers     int
	GenerateQueueSize   int
	GenerateMaxAttempts int
	GenerateRetry       time.Duration
	GenerateRetryMax    time.Duration

	CredentialsFile string
}

// Load reads the credentials file, if present, and then the environment.
func Load() (*Config, error) {
	credentials := getEnv("TESTPILOT_CREDENTIALS", DefaultCredentialsFile)
	if err := godotenv.Load(credentials); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to read %s: %v", credentials, err)
	}

	cfg := &Config{
		Port:                getEnvInt("PORT", 8000),
		OpenAIAPIKey:        strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:       os.Getenv("OPENAI_BASE_URL"),
		IdeasAssistant:      getEnv("IDEAS_ASSISTANT_ID", defaultIdeasAssistant),
		TestsAssistant:      getEnv("TESTS_ASSISTANT_ID", defaultTestsAssistant),
		ChatModel:           getEnv("CHAT_MODEL", defaultChatModel),
		ChatMaxTokens:       getEnvInt("CHAT_MAX_TOKENS", 1000),
		ChatTemperature:     getEnvFloat("CHAT_TEMPERATURE", 1),
		PollInitial:         getEnvDuration("POLL_INITIAL_SECONDS", time.Second),
		PollMax:             getEnvDuration("POLL_MAX_SECONDS", 15*time.Second),
		PollMultiplier:      getEnvFloat("POLL_MULTIPLIER", 2),
		TestDir:             getEnv("TEST_DIR", "test"),
		TestSuffix:          getEnv("TEST_SUFFIX", "Tests"),
		TestExt:             getEnv("TEST_EXT", ".cs"),
		GenerateWorkers:     getEnvInt("GENERATE_WORKERS", 1),
		GenerateQueueSize:   getEnvInt("GENERATE_QUEUE_SIZE", 16),
		GenerateMaxAttempts: getEnvInt("GENERATE_MAX_ATTEMPTS", 1),
		GenerateRetry:       getEnvDuration("GENERATE_RETRY_SECONDS", 5*time.Second),
		GenerateRetryMax:    getEnvDuration("GENERATE_RETRY_MAX_SECONDS", time.Minute),
		CredentialsFile:     credentials,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// RequireAPIKey fails when no OpenAI key has been configured.
func (c *Config) RequireAPIKey() error {
	if c.OpenAIAPIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// validate checks that all configuration values are usable
func (c *Config) validate() error {
	c.applyDefaults()

	if c.IdeasAssistant == "" || c.TestsAssistant == "" {
		return fmt.Errorf("IDEAS_ASSISTANT_ID and TESTS_ASSISTANT_ID must not be empty")
	}
	if c.PollMax < c.PollInitial {
		return fmt.Errorf("POLL_MAX_SECONDS must be >= POLL_INITIAL_SECONDS")
	}
	if c.PollMultiplier < 1 {
		return fmt.Errorf("POLL_MULTIPLIER must be >= 1")
	}
	if !strings.HasPrefix(c.TestExt, ".") {
		return fmt.Errorf("TEST_EXT must start with a dot, got %q", c.TestExt)
	}
	if c.ChatTemperature < 0 || c.ChatTemperature > 2 {
		return fmt.Errorf("CHAT_TEMPERATURE must be between 0 and 2")
	}
	if c.GenerateRetryMax < c.GenerateRetry {
		return fmt.Errorf("GENERATE_RETRY_MAX_SECONDS must be >= GENERATE_RETRY_SECONDS")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 8000
	}
	if c.ChatModel == "" {
		c.ChatModel = defaultChatModel
	}
	if c.ChatMaxTokens <= 0 {
		c.ChatMaxTokens = 1000
	}
	if c.PollInitial <= 0 {
		c.PollInitial = time.Second
	}
	if c.PollMax <= 0 {
		c.PollMax = 15 * time.Second
	}
	if c.PollMultiplier == 0 {
		c.PollMultiplier = 2
	}
	if c.TestDir == "" {
		c.TestDir = "test"
	}
	if c.GenerateWorkers <= 0 {
		c.GenerateWorkers = 1
	}
	if c.GenerateQueueSize <= 0 {
		c.GenerateQueueSize = 16
	}
	if c.GenerateMaxAttempts <= 0 {
		c.GenerateMaxAttempts = 1
	}
	if c.GenerateRetry <= 0 {
		c.GenerateRetry = 5 * time.Second
	}
	if c.GenerateRetryMax <= 0 {
		c.GenerateRetryMax = time.Minute
	}
	if c.CredentialsFile == "" {
		c.CredentialsFile = DefaultCredentialsFile
	}
}

// SaveAPIKey writes key into the credentials file at path, keeping any other
// entries already stored there.
func SaveAPIKey(path, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissingAPIKey
	}

	values, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read %s: %w", path, err)
		}
		values = map[string]string{}
	}
	values["OPENAI_API_KEY"] = key

	if err := godotenv.Write(values, path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return os.Setenv("OPENAI_API_KEY", key)
}

// getEnv gets environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration reads a number of seconds, fractions allowed.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.ParseFloat(value, 64); err == nil && seconds > 0 {
			return time.Duration(seconds * float64(time.Second))
		}
	}
	return defaultValue
}
