package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

type Config struct {
	Engine  EngineConfig
	Assets  AssetsConfig
	API     APIConfig
	Queue   QueueConfig
	Worker  WorkerConfig
	Storage StorageConfig
	Webhook WebhookConfig
	Tracing TracingConfig
	Log     LogConfig
}

type EngineConfig struct {
	Dir            string
	Command        string
	Args           []string
	Port           int
	HealthInterval time.Duration
	HealthAttempts int
	HealthTimeout  time.Duration
	PollInterval   time.Duration
	JobTimeout     time.Duration
	RequestTimeout time.Duration

	Checkpoint        string
	StyleLoRA         string
	StyleLoRAStrength float64
	FilenamePrefix    string
}

// BaseURL is the loopback address the engine listens on.
func (e EngineConfig) BaseURL() string {
	return "http://127.0.0.1:" + strconv.Itoa(e.Port)
}

type AssetsConfig struct {
	VolumeRoot string
}

type APIConfig struct {
	Addr            string
	RateLimit       int
	RateLimitWindow time.Duration
	RateLimitHeader string
	// SyncEnabled serves /runsync from an engine owned by this process.
	// When false the host only enqueues and never starts an engine.
	SyncEnabled bool
}

type QueueConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
	TaskTimeout   time.Duration
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	MetricsAddr string
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

type WebhookConfig struct {
	SigningSecret string
	Timeout       time.Duration
	MaxAttempts   int
}

type TracingConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

type LogConfig struct {
	Level  string
	Format string
}

const defaultEngineArgs = "main.py --listen 0.0.0.0 --port 8188 --highvram --dont-print-server"

func Load() Config {
	port := envInt("ENGINE_PORT", 8188)
	return Config{
		Engine: EngineConfig{
			Dir:            env("ENGINE_DIR", "/comfyui"),
			Command:        env("ENGINE_COMMAND", "python"),
			Args:           withPort(strings.Fields(env("ENGINE_ARGS", defaultEngineArgs)), port),
			Port:           port,
			HealthInterval: envDuration("ENGINE_HEALTH_INTERVAL", time.Second),
			HealthAttempts: envInt("ENGINE_HEALTH_ATTEMPTS", 40),
			HealthTimeout:  envDuration("ENGINE_HEALTH_TIMEOUT", 2*time.Second),
			PollInterval:   envDuration("ENGINE_POLL_INTERVAL", 500*time.Millisecond),
			JobTimeout:     envDuration("ENGINE_JOB_TIMEOUT", 120*time.Second),
			RequestTimeout: envDuration("ENGINE_REQUEST_TIMEOUT", 10*time.Second),

			Checkpoint:        env("ENGINE_CHECKPOINT", "RealVisXL_V5.0.safetensors"),
			StyleLoRA:         env("ENGINE_STYLE_LORA", "Concept_Art_XL.safetensors"),
			StyleLoRAStrength: envFloat("ENGINE_STYLE_LORA_STRENGTH", 0.7),
			FilenamePrefix:    env("ENGINE_FILENAME_PREFIX", "character"),
		},
		Assets: AssetsConfig{
			VolumeRoot: env("VOLUME_ROOT", "/runpod-volume"),
		},
		API: APIConfig{
			Addr:            env("CHARFORGE_API_ADDR", ":8080"),
			RateLimit:       envInt("API_RATE_LIMIT", 0),
			RateLimitWindow: envDuration("API_RATE_LIMIT_WINDOW", time.Minute),
			RateLimitHeader: env("API_RATE_LIMIT_HEADER", "X-User-ID"),
			SyncEnabled:     envBool("API_SYNC_ENABLED", true),
		},
		Queue: QueueConfig{
			Enabled:       envBool("QUEUE_ENABLED", false),
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
			TaskTimeout:   envDuration("QUEUE_TASK_TIMEOUT", 3*time.Minute),
		},
		Worker: WorkerConfig{
			MetricsAddr: env("WORKER_METRICS_ADDR", ":9090"),
		},
		Storage: StorageConfig{
			Enabled:   envBool("MIRROR_ENABLED", false),
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "charforge-images"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
			Prefix:    env("MINIO_PREFIX", "generations"),
		},
		Webhook: WebhookConfig{
			SigningSecret: env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:       envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:   envInt("WEBHOOK_MAX_ATTEMPTS", 1),
		},
		Tracing: TracingConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "charforge"),
			Exporter:     env("TRACING_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
		Log: LogConfig{
			Level:  env("LOG_LEVEL", "info"),
			Format: env("LOG_FORMAT", "json"),
		},
	}
}

// withPort makes the engine's --port flag agree with port, rewriting either
// flag form or appending one when args carry none.
func withPort(args []string, port int) []string {
	value := strconv.Itoa(port)
	out := make([]string, 0, len(args)+2)
	found := false
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--port":
			out = append(out, "--port", value)
			found = true
			if i+1 < len(args) {
				i++
			}
		case strings.HasPrefix(args[i], "--port="):
			out = append(out, "--port="+value)
			found = true
		default:
			out = append(out, args[i])
		}
	}
	if !found {
		out = append(out, "--port", value)
	}
	return out
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envDuration accepts Go duration strings ("500ms") or bare seconds ("120").
func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return time.Duration(seconds * float64(time.Second))
}
