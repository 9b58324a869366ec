package config

import (
	"fmt"
	"os"
)

// Config holds every knob the order service needs. It is loaded once in main
// and passed into constructors; nothing reads the environment after startup.
type Config struct {
	Port string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	UserServiceURL    string
	PaymentServiceURL string

	JWTSecret string

	KafkaBroker string
	KafkaTopic  string

	RedisAddr     string
	RedisPassword string

	JaegerEndpoint string
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8082"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "orderdb"),

		UserServiceURL:    getEnv("USER_SERVICE_URL", "http://localhost:8081"),
		PaymentServiceURL: getEnv("PAYMENT_SERVICE_URL", "http://localhost:8083"),

		JWTSecret: getEnv("JWT_SECRET", "your-secret-key-change-in-production"),

		KafkaBroker: getEnv("KAFKA_BROKER", "localhost:9092"),
		KafkaTopic:  getEnv("KAFKA_TOPIC", "order_events"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}
}

// DSN renders the postgres connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
