package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Server
	Port     string
	LogLevel string
	LogJSON  bool

	// Secrets
	InternalSharedSecret string
	MistralAPIKey        string

	// Limits
	MaxUploadBytes int64

	// Concurrency
	MaxConcurrentRequests int64
	MaxOCRConcurrent      int64

	// Server timeouts
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// Request timeouts
	ConvertTimeout time.Duration

	// Poppler
	PopplerTimeout time.Duration

	// OCR
	OCREngine      string // "tesseract" | "mistral"
	OCRMaxPages    int
	OCRDPI         int
	OCRLanguage    string
	OCRMaxImageDim int
	OCRModel       string
	MistralBaseURL string

	// Quality diagnostics
	MinWords int

	// rate limiting (per IP)
	RateLimitEvery time.Duration
	RateLimitBurst int

	// housekeeping
	CleanupInterval time.Duration

	// http
	MaxHeaderBytes int

	// TempDir is the parent directory for per-request scratch dirs ("" = os.TempDir()).
	TempDir string
}

var defaults = map[string]any{
	"port":      "5000",
	"log_level": "INFO",
	"log_json":  true,

	"internal_shared_secret": "",
	"mistral_api_key":        "",

	"max_upload_bytes": 100 << 20,

	"max_concurrent_requests": 15,
	"max_ocr_concurrent":      3,

	"read_header_timeout": 10 * time.Second,
	"read_timeout":        60 * time.Second,
	"write_timeout":       180 * time.Second,
	"idle_timeout":        60 * time.Second,

	"convert_timeout": 160 * time.Second,
	"poppler_timeout": 60 * time.Second,

	"ocr_engine":        "tesseract",
	"ocr_max_pages":     10,
	"ocr_dpi":           200,
	"ocr_language":      "eng",
	"ocr_max_image_dim": 4000,
	"default_ocr_model": "mistral-ocr-latest",
	"mistral_base_url":  "https://api.mistral.ai",

	"default_min_words": 20,

	"rate_limit_every": 600 * time.Millisecond,
	"rate_limit_burst": 20,

	"cleanup_interval": 5 * time.Minute,

	"max_header_bytes": 1 << 20,

	"temp_dir": "",
}

// SetDefaults registers every known key on v and enables env lookup, so that
// PORT, OCR_MAX_PAGES, etc. override config-file values.
func SetDefaults(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

func Load(v *viper.Viper) Config {
	SetDefaults(v)

	return Config{
		Port:     str(v, "port"),
		LogLevel: str(v, "log_level"),
		LogJSON:  v.GetBool("log_json"),

		InternalSharedSecret: str(v, "internal_shared_secret"),
		MistralAPIKey:        str(v, "mistral_api_key"),

		MaxUploadBytes: int64(posInt(v, "max_upload_bytes")),

		MaxConcurrentRequests: int64(posInt(v, "max_concurrent_requests")),
		MaxOCRConcurrent:      int64(posInt(v, "max_ocr_concurrent")),

		ReadHeaderTimeout: posDur(v, "read_header_timeout"),
		ReadTimeout:       posDur(v, "read_timeout"),
		WriteTimeout:      posDur(v, "write_timeout"),
		IdleTimeout:       posDur(v, "idle_timeout"),

		ConvertTimeout: posDur(v, "convert_timeout"),
		PopplerTimeout: posDur(v, "poppler_timeout"),

		OCREngine:      strings.ToLower(str(v, "ocr_engine")),
		OCRMaxPages:    posInt(v, "ocr_max_pages"),
		OCRDPI:         posInt(v, "ocr_dpi"),
		OCRLanguage:    str(v, "ocr_language"),
		OCRMaxImageDim: posInt(v, "ocr_max_image_dim"),
		OCRModel:       str(v, "default_ocr_model"),
		MistralBaseURL: strings.TrimRight(str(v, "mistral_base_url"), "/"),

		MinWords: posInt(v, "default_min_words"),

		RateLimitEvery: posDur(v, "rate_limit_every"),
		RateLimitBurst: posInt(v, "rate_limit_burst"),

		CleanupInterval: posDur(v, "cleanup_interval"),

		MaxHeaderBytes: posInt(v, "max_header_bytes"),

		TempDir: str(v, "temp_dir"),
	}
}

func (c Config) Validate() error {
	if s := strings.TrimSpace(c.InternalSharedSecret); s != "" && len(s) < 32 {
		return fmt.Errorf("INTERNAL_SHARED_SECRET must be at least 32 characters when set")
	}
	switch c.OCREngine {
	case "tesseract":
	case "mistral":
		if c.MistralAPIKey == "" {
			return fmt.Errorf("OCR_ENGINE=mistral requires MISTRAL_API_KEY")
		}
	default:
		return fmt.Errorf("unknown OCR_ENGINE %q (want tesseract or mistral)", c.OCREngine)
	}
	return nil
}

func str(v *viper.Viper, key string) string {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		if d, ok := defaults[key].(string); ok {
			return d
		}
	}
	return s
}

// posInt falls back to the default when the value is missing, malformed or <= 0.
func posInt(v *viper.Viper, key string) int {
	n := v.GetInt(key)
	if n <= 0 {
		return defaults[key].(int)
	}
	return n
}

func posDur(v *viper.Viper, key string) time.Duration {
	d := v.GetDuration(key)
	if d <= 0 {
		return defaults[key].(time.Duration)
	}
	return d
}
