package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	defaultMaxConnections  = 10
	defaultTimeoutMs       = 5000
	defaultRetryAttempts   = 3
	defaultRetryDelayMs    = 500
	defaultBatchSize       = 1000
	defaultMaxConcurrent   = 5
	defaultMaxMemoryMB     = 512
	defaultBufferSizeMB    = 16
	defaultFieldSeparator  = "|^^|"
	defaultRowSeparator    = "|~~|"
	defaultMaxRowLength    = 10_000_000
	defaultMaxFieldLength  = 5000
	defaultMaxRetries      = 3
	defaultErrorThreshold  = 0.1
	defaultMaxErrsPerBatch = 100
	defaultMaxTotalErrors  = 10_000
	defaultMaxRejectRate   = 50.0
	defaultDateFormat      = "2006-01-02"
	defaultTimestampFormat = time.RFC3339
	defaultDecimalPrec     = 2
)

// ErrDatabaseURLEmpty is returned when no database connection string is configured.
var ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

// DatabaseConfig holds connection pool settings for the bookkeeping and raw/staging database.
type DatabaseConfig struct {
	URL            string
	MaxConnections int
	TimeoutMs      int
	RetryAttempts  int
	RetryDelayMs   int
}

// ProcessingConfig holds batch and concurrency tuning shared across the raw loader and
// staging transformer.
type ProcessingConfig struct {
	BatchSize          int
	MaxConcurrentFiles int
	MaxMemoryMB        int
	BufferSizeMB       int
	ContinueOnError    bool
	ForceReprocess     bool
}

// CSVConfig holds delimited-parser tuning. Field and row separators default to the
// multi-character values used by the vendor extract files this loader targets.
type CSVConfig struct {
	FieldSeparator string
	RowSeparator   string
	MaxRowLength   int
	MaxFieldLength int
	HasHeaders     bool
	SkipEmptyRows  bool
}

// ErrorHandlingConfig holds retry and tolerance settings for transient database errors.
type ErrorHandlingConfig struct {
	MaxRetries      int
	RetryDelayMs    int
	ContinueOnError bool
	ErrorThreshold  float64
}

// ValidationConfig controls the staging transformer's validation and rejection behavior.
type ValidationConfig struct {
	EnableValidation      bool
	FailOnValidationError bool
	MaxErrorsPerBatch     int
	MaxTotalErrors        int
	MaxRejectionRatePct   float64
	RejectInvalidRows     bool
	TrackRejectionReasons bool
}

// TransformationConfig controls the staging transformer's type-coercion behavior.
type TransformationConfig struct {
	EnableTypeCoercion bool
	DateFormat         string
	TimestampFormat    string
	DecimalPrecision   int
	TrimStrings        bool
	NullifyEmptyStrings bool
}

// Config aggregates every tunable the raw loader and staging transformer read at startup.
type Config struct {
	Database       DatabaseConfig
	Processing     ProcessingConfig
	CSV            CSVConfig
	ErrorHandling  ErrorHandlingConfig
	Validation     ValidationConfig
	Transformation TransformationConfig
}

// LoadConfig loads the full configuration from environment variables, falling back to
// production-ready defaults for anything unset.
func LoadConfig() *Config {
	cfg := &Config{}

	loadDatabaseConfig(cfg)
	loadProcessingConfig(cfg)
	loadCSVConfig(cfg)
	loadErrorHandlingConfig(cfg)
	loadValidationConfig(cfg)
	loadTransformationConfig(cfg)

	return cfg
}

// Validate checks that the configuration is usable. It does not validate per-extract
// handler definitions; those are validated at registry load time.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return ErrDatabaseURLEmpty
	}

	if c.CSV.FieldSeparator == c.CSV.RowSeparator {
		return fmt.Errorf("csv field separator and row separator must differ, both are %q", c.CSV.FieldSeparator)
	}

	return nil
}

func loadDatabaseConfig(cfg *Config) {
	cfg.Database = DatabaseConfig{
		URL:            GetEnvStr("DATABASE_URL", ""),
		MaxConnections: GetEnvInt("LOADER_DB_MAX_CONNECTIONS", defaultMaxConnections),
		TimeoutMs:      GetEnvInt("LOADER_DB_TIMEOUT_MS", defaultTimeoutMs),
		RetryAttempts:  GetEnvInt("LOADER_DB_RETRY_ATTEMPTS", defaultRetryAttempts),
		RetryDelayMs:   GetEnvInt("LOADER_DB_RETRY_DELAY_MS", defaultRetryDelayMs),
	}
}

func loadProcessingConfig(cfg *Config) {
	cfg.Processing = ProcessingConfig{
		BatchSize:          GetEnvInt("LOADER_BATCH_SIZE", defaultBatchSize),
		MaxConcurrentFiles: GetEnvInt("LOADER_MAX_CONCURRENT_FILES", defaultMaxConcurrent),
		MaxMemoryMB:        GetEnvInt("LOADER_MAX_MEMORY_MB", defaultMaxMemoryMB),
		BufferSizeMB:       GetEnvInt("LOADER_BUFFER_SIZE_MB", defaultBufferSizeMB),
		ContinueOnError:    GetEnvBool("LOADER_CONTINUE_ON_ERROR", true),
		ForceReprocess:     GetEnvBool("LOADER_FORCE_REPROCESS", false),
	}
}

func loadCSVConfig(cfg *Config) {
	cfg.CSV = CSVConfig{
		FieldSeparator: GetEnvStr("LOADER_CSV_FIELD_SEPARATOR", defaultFieldSeparator),
		RowSeparator:   GetEnvStr("LOADER_CSV_ROW_SEPARATOR", defaultRowSeparator),
		MaxRowLength:   GetEnvInt("LOADER_CSV_MAX_ROW_LENGTH", defaultMaxRowLength),
		MaxFieldLength: GetEnvInt("LOADER_CSV_MAX_FIELD_LENGTH", defaultMaxFieldLength),
		HasHeaders:     GetEnvBool("LOADER_CSV_HAS_HEADERS", false),
		SkipEmptyRows:  GetEnvBool("LOADER_CSV_SKIP_EMPTY_ROWS", true),
	}
}

func loadErrorHandlingConfig(cfg *Config) {
	cfg.ErrorHandling = ErrorHandlingConfig{
		MaxRetries:      GetEnvInt("LOADER_MAX_RETRIES", defaultMaxRetries),
		RetryDelayMs:    GetEnvInt("LOADER_RETRY_DELAY_MS", defaultRetryDelayMs),
		ContinueOnError: GetEnvBool("LOADER_CONTINUE_ON_ERROR", true),
		ErrorThreshold:  getEnvFloat("LOADER_ERROR_THRESHOLD", defaultErrorThreshold),
	}
}

func loadValidationConfig(cfg *Config) {
	cfg.Validation = ValidationConfig{
		EnableValidation:      GetEnvBool("LOADER_ENABLE_VALIDATION", true),
		FailOnValidationError: GetEnvBool("LOADER_FAIL_ON_VALIDATION_ERROR", false),
		MaxErrorsPerBatch:     GetEnvInt("LOADER_MAX_ERRORS_PER_BATCH", defaultMaxErrsPerBatch),
		MaxTotalErrors:        GetEnvInt("LOADER_MAX_TOTAL_ERRORS", defaultMaxTotalErrors),
		MaxRejectionRatePct:   getEnvFloat("LOADER_MAX_REJECTION_RATE_PCT", defaultMaxRejectRate),
		RejectInvalidRows:     GetEnvBool("LOADER_REJECT_INVALID_ROWS", true),
		TrackRejectionReasons: GetEnvBool("LOADER_TRACK_REJECTION_REASONS", true),
	}
}

func loadTransformationConfig(cfg *Config) {
	cfg.Transformation = TransformationConfig{
		EnableTypeCoercion:  GetEnvBool("LOADER_ENABLE_TYPE_COERCION", true),
		DateFormat:          GetEnvStr("LOADER_DATE_FORMAT", defaultDateFormat),
		TimestampFormat:     GetEnvStr("LOADER_TIMESTAMP_FORMAT", defaultTimestampFormat),
		DecimalPrecision:    GetEnvInt("LOADER_DECIMAL_PRECISION", defaultDecimalPrec),
		TrimStrings:         GetEnvBool("LOADER_TRIM_STRINGS", true),
		NullifyEmptyStrings: GetEnvBool("LOADER_NULLIFY_EMPTY_STRINGS", false),
	}
}

// getEnvFloat returns a float64 environment variable value or a default if not set.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := GetEnvStr(key, ""); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}

	return defaultValue
}
