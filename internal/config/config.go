package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL        string
	ListenAddr         string
	TelegramBotToken   string
	TelegramGatewayURL string
	DeepSeekAPIKey     string
	PollInterval       int // seconds
	ShutdownTimeout    int // seconds
	InitDataTTL        int // seconds
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	botToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	gatewayURL := os.Getenv("TELEGRAM_GATEWAY_URL")
	if gatewayURL == "" {
		return nil, fmt.Errorf("TELEGRAM_GATEWAY_URL is required")
	}

	deepseekKey := os.Getenv("DEEPSEEK_API_KEY")
	if deepseekKey == "" {
		fmt.Println("Warning: DEEPSEEK_API_KEY not set, summarization will not work")
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8000"
	}

	return &Config{
		DatabaseURL:        dbURL,
		ListenAddr:         listenAddr,
		TelegramBotToken:   botToken,
		TelegramGatewayURL: gatewayURL,
		DeepSeekAPIKey:     deepseekKey,
		PollInterval:       intEnv("SCHEDULER_INTERVAL_SECONDS", 300),
		ShutdownTimeout:    intEnv("SHUTDOWN_TIMEOUT", 30),
		InitDataTTL:        intEnv("INITDATA_TTL_SECONDS", 86400),
	}, nil
}

func intEnv(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Printf("Warning: invalid %s=%q, using default %d\n", key, raw, def)
		return def
	}
	return v
}
