package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort string

	// StoreDriver chọn backend lưu trữ: "postgres" hoặc "bolt"
	StoreDriver string
	BoltPath    string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string

	AWSRegion          string
	SQSEventQueueURL   string
	IoTMQTTEndpoint    string
	GateCommandTopic   string
	RekognitionEnabled bool

	JWTSecret string // Secret key cho JWT (chỉ dùng để xác thực token)

	RedisAddr    string
	RedisChannel string

	// GateSensorID là ID "ảo" của cảm biến cổng, không phải một slot thật
	GateSensorID string
	// SlotAliases ánh xạ ID số của firmware cũ sang số slot, ví dụ "1" -> "A1"
	SlotAliases map[string]string

	SweepInterval       time.Duration
	SensorRatePerSecond float64
	SensorBurst         int
	SeedSlots           bool
	CORSAllowedOrigins  []string
}

func Load() *Config {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		log.Printf("Cảnh báo: Không thể tải file .env: %v", err)
	}

	dbPort, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))

	sweepSeconds, err := strconv.Atoi(getEnv("SWEEP_INTERVAL_SECONDS", "60"))
	if err != nil || sweepSeconds <= 0 {
		log.Printf("SWEEP_INTERVAL_SECONDS không hợp lệ, dùng 60 giây")
		sweepSeconds = 60
	}

	sensorRate, err := strconv.ParseFloat(getEnv("SENSOR_RATE_PER_SECOND", "5"), 64)
	if err != nil || sensorRate <= 0 {
		log.Printf("SENSOR_RATE_PER_SECOND không hợp lệ, dùng 5")
		sensorRate = 5
	}
	sensorBurst, err := strconv.Atoi(getEnv("SENSOR_BURST", "10"))
	if err != nil || sensorBurst <= 0 {
		sensorBurst = 10
	}

	aliases, err := ParseSlotAliases(getEnv("SLOT_ALIASES", "1=A1,2=A2"))
	if err != nil {
		log.Printf("SLOT_ALIASES không hợp lệ (%v), bỏ qua bảng alias", err)
		aliases = map[string]string{}
	}

	return &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		BoltPath:    getEnv("BOLT_PATH", "parking.db"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", "parking"),
		DBPassword: getEnv("DB_PASSWORD", "parking"),
		DBName:     getEnv("DB_NAME", "parking_db"),
		DBSslMode:  getEnv("DB_SSLMODE", "disable"),

		AWSRegion:          getEnv("AWS_REGION", "ap-south-1"),
		SQSEventQueueURL:   getEnv("SQS_EVENT_QUEUE_URL", ""),
		IoTMQTTEndpoint:    getEnv("IOT_MQTT_ENDPOINT", ""),
		GateCommandTopic:   getEnv("GATE_COMMAND_TOPIC", "parking/gate/command"),
		RekognitionEnabled: getBool("REKOGNITION_ENABLED", false),

		JWTSecret: getEnv("JWT_SECRET", "change-me-jwt-secret"),

		RedisAddr:    getEnv("REDIS_ADDR", ""),
		RedisChannel: getEnv("REDIS_CHANNEL", "parking:booking-events"),

		GateSensorID: getEnv("GATE_SENSOR_ID", "3"),
		SlotAliases:  aliases,

		SweepInterval:       time.Duration(sweepSeconds) * time.Second,
		SensorRatePerSecond: sensorRate,
		SensorBurst:         sensorBurst,
		SeedSlots:           getBool("SEED_SLOTS", true),
		CORSAllowedOrigins:  splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
	}
}

// ParseSlotAliases parses "1=A1,2=A2". Keys and values are trimmed and values
// uppercased; an empty string yields an empty table.
func ParseSlotAliases(raw string) (map[string]string, error) {
	aliases := make(map[string]string)
	for _, pair := range splitList(raw) {
		key, value, ok := strings.Cut(pair, "=")
		key, value = strings.TrimSpace(key), strings.ToUpper(strings.TrimSpace(value))
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("alias %q phải có dạng id=SLOT", pair)
		}
		if prev, dup := aliases[key]; dup && prev != value {
			return nil, fmt.Errorf("alias %q bị khai báo hai lần (%s, %s)", key, prev, value)
		}
		aliases[key] = value
	}
	return aliases, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		log.Printf("Biến môi trường '%s' không phải bool hợp lệ, dùng mặc định %v", key, fallback)
		return fallback
	}
	return v
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Biến môi trường '%s' không được đặt, sử dụng giá trị mặc định: '%s'", key, fallback)
	return fallback
}
