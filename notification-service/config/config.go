package config

import "os"

// Config is loaded once at startup.
type Config struct {
	Port string

	KafkaBroker string
	KafkaTopic  string

	JaegerEndpoint string
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8084"),

		KafkaBroker: getEnv("KAFKA_BROKER", "localhost:9092"),
		KafkaTopic:  getEnv("KAFKA_TOPIC", "order_events"),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
