// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"regbackend/internal/logger"
)

// Variables available everywhere
var (
	processorClientID, processorSecret, processorAPIBase string

	baseDir       string
	dataDirectory string
	logsDirectory string

	feeRate  = 0.029
	fixedFee = 0.30

	reservationTTL   = 30 * time.Minute
	cleanupInterval  = time.Hour
	cleanupRetention = 48 * time.Hour

	AllowedOrigin      string // For CORS
	ProcessorWebhookID string

	UseMockProcessor bool
)

//
// --- Utility Helpers ---
//

// Helper: get a setting based on ENVIRONMENT (dev or prod)
func GetEnvBasedSetting(base string) string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	return os.Getenv(fmt.Sprintf("%s_%s", base, strings.ToUpper(env)))
}

// Helper: log which environment is running
func LogCurrentEnvironment() {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	if env == "dev" {
		logger.LogInfo("Running in development environment")
	} else {
		logger.LogInfo("Running in production environment")
	}
}

//
// --- Loaders ---
//

// LoadEnv reads .env file
func LoadEnv() {
	wd, err := os.Getwd()
	if err != nil {
		log.Printf("Could not determine working directory: %v", err)
	}

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("No .env file found in %s. Using system environment variables.", wd)
	} else {
		log.Printf("Loaded environment variables from .env file in %s", wd)
	}

	UseMockProcessor = os.Getenv("USE_MOCK_PROCESSOR") == "true"
	if UseMockProcessor {
		logger.LogInfo("Mock payment processor enabled. No live charges will be created.")
	}
}

// LoggerConfig returns a logger.Config struct populated from environment
func LoggerConfig() logger.Config {
	logDir := GetEnvBasedSetting("LOGS_DIRECTORY")
	if logDir == "" {
		logDir = "./logs"
	}

	logFormat := GetEnvBasedSetting("LOG_FILE_FORMAT")
	if logFormat == "" {
		logFormat = "server_%s.log"
	}

	timezone := os.Getenv("TIME_ZONE")
	if timezone == "" {
		timezone = "UTC"
	}

	return logger.Config{
		LogsDirectory: logDir,
		LogFileFormat: logFormat,
		TimeZone:      timezone,
		Debug:         os.Getenv("LOG_DEBUG") == "true",
	}
}

// ConfigurePaths sets up folders and paths
func ConfigurePaths() {
	wd, err := os.Getwd()
	if err != nil {
		logger.LogFatal("Failed to get working directory: %v", err)
	}
	baseDir = wd

	if dataDir := GetEnvBasedSetting("DATA_DIRECTORY"); dataDir != "" {
		dataDirectory = dataDir
	} else {
		dataDirectory = filepath.Join(baseDir, "data")
	}

	if logsDir := GetEnvBasedSetting("LOGS_DIRECTORY"); logsDir != "" {
		logsDirectory = logsDir
	} else {
		logsDirectory = filepath.Join(baseDir, "logs")
	}
}

// LoadProcessorConfig sets up the payment processor credentials and API base
func LoadProcessorConfig() error {
	processorClientID = os.Getenv("PROCESSOR_CLIENT_ID")
	processorSecret = os.Getenv("PROCESSOR_CLIENT_SECRET")

	if !UseMockProcessor && (processorClientID == "" || processorSecret == "") {
		return fmt.Errorf("payment processor credentials are missing or incomplete")
	}

	mode := os.Getenv("PROCESSOR_MODE")
	if mode == "live" {
		processorAPIBase = os.Getenv("PROCESSOR_API_BASE_LIVE")
		logger.LogInfo("Using live payment processor environment")
	} else {
		processorAPIBase = os.Getenv("PROCESSOR_API_BASE_SANDBOX")
		logger.LogInfo("Using sandbox payment processor environment")
	}
	if processorAPIBase == "" {
		processorAPIBase = "https://api.sandbox.processor.example.com"
	}

	ProcessorWebhookID = os.Getenv("PROCESSOR_WEBHOOK_ID")
	if ProcessorWebhookID == "" {
		logger.LogWarn("PROCESSOR_WEBHOOK_ID is not set in environment")
	}

	return nil
}

// LoadFeeConfig loads the processing fee schedule
func LoadFeeConfig() {
	if rateStr := os.Getenv("PROCESSING_FEE_RATE"); rateStr != "" {
		if rate, err := strconv.ParseFloat(rateStr, 64); err == nil && rate >= 0 {
			feeRate = rate
		} else {
			logger.LogWarn("Invalid PROCESSING_FEE_RATE %q, using default %.3f", rateStr, feeRate)
		}
	}
	if fixedStr := os.Getenv("PROCESSING_FEE_FIXED"); fixedStr != "" {
		if fixed, err := strconv.ParseFloat(fixedStr, 64); err == nil && fixed >= 0 {
			fixedFee = fixed
		} else {
			logger.LogWarn("Invalid PROCESSING_FEE_FIXED %q, using default %.2f", fixedStr, fixedFee)
		}
	}
	logger.LogInfo("Processing fee schedule: rate=%.4f fixed=%.2f", feeRate, fixedFee)
}

// LoadReservationConfig loads inventory reservation and cleanup timing
func LoadReservationConfig() {
	if ttlStr := os.Getenv("RESERVATION_TTL_MINUTES"); ttlStr != "" {
		if minutes, err := strconv.Atoi(ttlStr); err == nil && minutes > 0 {
			reservationTTL = time.Duration(minutes) * time.Minute
		} else {
			logger.LogWarn("Invalid RESERVATION_TTL_MINUTES %q, using default %v", ttlStr, reservationTTL)
		}
	}
	if intervalStr := os.Getenv("CLEANUP_INTERVAL_MINUTES"); intervalStr != "" {
		if minutes, err := strconv.Atoi(intervalStr); err == nil && minutes > 0 {
			cleanupInterval = time.Duration(minutes) * time.Minute
		}
	}
	if retentionStr := os.Getenv("CLEANUP_RETENTION_HOURS"); retentionStr != "" {
		if hours, err := strconv.Atoi(retentionStr); err == nil && hours > 0 {
			cleanupRetention = time.Duration(hours) * time.Hour
		}
	}
	logger.LogInfo("Reservation TTL %v, cleanup every %v, retention %v",
		reservationTTL, cleanupInterval, cleanupRetention)
}

// LoadCORSConfig loads CORS settings
func LoadCORSConfig() {
	AllowedOrigin = GetEnvBasedSetting("ALLOWED_ORIGIN")
	if AllowedOrigin == "" {
		AllowedOrigin = "*" // Allow all - be careful in prod
		logger.LogWarn("ALLOWED_ORIGIN not set, using '*' (allow all origins) - SECURITY RISK")
	} else {
		logger.LogInfo("Allowed Origin: %s", AllowedOrigin)
	}
}

//
// --- Getters (exported) ---
//

func DataDirectory() string {
	return dataDirectory
}

func LogsDirectory() string {
	return logsDirectory
}

func DatabasePath() string {
	if p := GetEnvBasedSetting("DATABASE_PATH"); p != "" {
		return p
	}
	return filepath.Join(dataDirectory, "regbackend.db")
}

func ProcessorAPIBase() string {
	return processorAPIBase
}

func ProcessorClientID() string {
	return processorClientID
}

func ProcessorClientSecret() string {
	return processorSecret
}

func FeeRate() float64 {
	return feeRate
}

func FixedFee() float64 {
	return fixedFee
}

func ReservationTTL() time.Duration {
	return reservationTTL
}

func CleanupInterval() time.Duration {
	return cleanupInterval
}

func CleanupRetention() time.Duration {
	return cleanupRetention
}
