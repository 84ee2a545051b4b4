package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	BotToken      string
	AdminIDs      []int64
	Channels      string
	Port          string
	StorageDriver string
	DBUser        string
	DBPassword    string
	DBName        string
	DBHost        string
	DBPort        string
	MongoURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		BotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		AdminIDs:      parseAdminIDs(getEnv("ADMIN_IDS", "")),
		Channels:      getEnv("CHANNELS", ""),
		Port:          getEnv("PORT", "8080"),
		StorageDriver: getEnv("STORAGE_DRIVER", "file"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "refgate_bot"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		MongoURL:      getEnv("MONGO_URL", ""),
		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
	}
}

// RedisAddr is empty when no redis host is configured; callers fall back to
// in-memory caching and direct persistence in that case.
func (c *Config) RedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return c.RedisHost + ":" + c.RedisPort
}

func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func parseAdminIDs(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Printf("Skipping invalid admin id %q: %v", part, err)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
