package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию процесса.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Invidious struct {
		Host           string `envconfig:"INVIDIOUS_INSTANCE"`
		Token          string `envconfig:"INVIDIOUS_TOKEN"`
		FeedMaxResults int    `envconfig:"INVIDIOUS_FEED_MAX_RESULTS" default:"60"`
	} `envconfig:""`

	Mastodon struct {
		Host  string `envconfig:"MASTODON_BOT_INSTANCE"`
		Token string `envconfig:"MASTODON_ACCESS_TOKEN"`
	} `envconfig:""`

	AdminHandle string `envconfig:"ADMIN_HANDLE"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`

	Poll struct {
		FeedInterval         time.Duration `envconfig:"FEED_POLL_INTERVAL" default:"30m"`
		ConversationInterval time.Duration `envconfig:"CONVERSATION_POLL_INTERVAL" default:"60s"`
		SendDelay            time.Duration `envconfig:"SEND_THROTTLE_DELAY" default:"1s"`
	} `envconfig:""`

	// OneShot — выполнить по одному циклу каждого опроса и завершиться.
	OneShot bool `envconfig:"ONE_SHOT" default:"false"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
