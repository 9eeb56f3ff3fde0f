package env

import (
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	CredentialsSourcePostgres = "postgres"
	CredentialsSourceFile     = "file"

	IngestModeStream = "stream"
	IngestModeDirect = "direct"

	ScoreCacheRedis  = "redis"
	ScoreCacheMemory = "memory"
)

// values is filled from the environment by field name. A `default` tag is
// used when the variable is unset; a field with neither is reported missing.
type values struct {
	SERVER_ADDR string `default:"0.0.0.0"`
	SERVER_PORT int    `default:"8080"`

	REDIS_ADDR         string `default:"localhost:6379"`
	DATABASE_URL       string `default:""`
	DATABASE_MAX_CONNS int    `default:"16"`

	STORE_DRIVER       string `default:"postgres"`
	CREDENTIALS_SOURCE string `default:"postgres"`
	CREDENTIALS_FILE   string `default:"credentials.yaml"`
	INGEST_MODE        string `default:"stream"`

	STREAM_NAME        string `default:"webhook-events"`
	DEAD_LETTER_STREAM string `default:""`
	CONSUMER_GROUP     string `default:"webhook-processors"`
	CONSUMER_ID        string `default:"worker-1"`
	CONSUMER_COUNT     int    `default:"1"`
	BATCH_SIZE         int    `default:"10"`
	POLL_INTERVAL_MS   int    `default:"1000"`
	MAX_DELIVERIES     int    `default:"0"`

	SCORE_CACHE_DRIVER     string `default:"redis"`
	SCORE_CACHE_TTL_SEC    int    `default:"30"`
	BROADCAST_INTERVAL_SEC int    `default:"300"`
	BROADCAST_WINDOW_HOURS int    `default:"24"`

	LOG_LEVEL string `default:"info"`
}

var Values = &values{}

func Load() error {
	// Carrega o arquivo .env, se existir.
	if err := godotenv.Load(); err != nil {
		slog.Info("[CF:Env:Load:01] - No .env file found, using process environment")
	}
	return load(Values, os.LookupEnv)
}

func load(dst *values, lookup func(string) (string, bool)) error {
	v := reflect.ValueOf(dst).Elem()
	t := v.Type()

	var missingVars []string
	var invalidVars []string

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		envVarName := fieldType.Name

		envVarValue, ok := lookup(envVarName)
		if !ok {
			def, hasDefault := fieldType.Tag.Lookup("default")
			if !hasDefault {
				missingVars = append(missingVars, envVarName)
				continue
			}
			envVarValue = def
		}
		if err := setField(field, envVarValue); err != nil {
			invalidVars = append(invalidVars, fmt.Sprintf("%s=%q (%v)", envVarName, envVarValue, err))
		}
	}

	var problems []string
	for _, name := range missingVars {
		problems = append(problems, "- missing "+name)
	}
	for _, name := range invalidVars {
		problems = append(problems, "- invalid "+name)
	}
	if len(problems) > 0 {
		return fmt.Errorf("environment configuration errors:\n%s", strings.Join(problems, "\n"))
	}
	return dst.validate()
}

func setField(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	}
	return nil
}

func (v *values) validate() error {
	switch v.STORE_DRIVER {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, v.STORE_DRIVER)
	}
	switch v.CREDENTIALS_SOURCE {
	case CredentialsSourcePostgres, CredentialsSourceFile:
	default:
		return fmt.Errorf("CREDENTIALS_SOURCE must be %q or %q, got %q", CredentialsSourcePostgres, CredentialsSourceFile, v.CREDENTIALS_SOURCE)
	}
	switch v.INGEST_MODE {
	case IngestModeStream, IngestModeDirect:
	default:
		return fmt.Errorf("INGEST_MODE must be %q or %q, got %q", IngestModeStream, IngestModeDirect, v.INGEST_MODE)
	}
	switch v.SCORE_CACHE_DRIVER {
	case ScoreCacheRedis, ScoreCacheMemory:
	default:
		return fmt.Errorf("SCORE_CACHE_DRIVER must be %q or %q, got %q", ScoreCacheRedis, ScoreCacheMemory, v.SCORE_CACHE_DRIVER)
	}
	if v.NeedsPostgres() && v.DATABASE_URL == "" {
		return fmt.Errorf("DATABASE_URL is required when postgres is used")
	}
	if v.BATCH_SIZE <= 0 || v.POLL_INTERVAL_MS <= 0 || v.CONSUMER_COUNT <= 0 {
		return fmt.Errorf("BATCH_SIZE, POLL_INTERVAL_MS and CONSUMER_COUNT must be positive")
	}
	return nil
}

func (v *values) NeedsPostgres() bool {
	return v.STORE_DRIVER == StoreDriverPostgres || v.CREDENTIALS_SOURCE == CredentialsSourcePostgres
}

func (v *values) PollInterval() time.Duration {
	return time.Duration(v.POLL_INTERVAL_MS) * time.Millisecond
}

func (v *values) ScoreCacheTTL() time.Duration {
	return time.Duration(v.SCORE_CACHE_TTL_SEC) * time.Second
}

func (v *values) BroadcastInterval() time.Duration {
	return time.Duration(v.BROADCAST_INTERVAL_SEC) * time.Second
}

func (v *values) BroadcastWindow() time.Duration {
	return time.Duration(v.BROADCAST_WINDOW_HOURS) * time.Hour
}

func (v *values) DeadLetterStream() string {
	if v.DEAD_LETTER_STREAM != "" {
		return v.DEAD_LETTER_STREAM
	}
	return v.STREAM_NAME + ":dead-letter"
}

func (v *values) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.LOG_LEVEL)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ShowEnvValues logs every loaded value, masking DATABASE_URL.
func ShowEnvValues() {
	v := reflect.ValueOf(Values).Elem()
	t := v.Type()

	attrs := make([]any, 0, t.NumField()*2)
	for i := 0; i < v.NumField(); i++ {
		name := t.Field(i).Name
		value := v.Field(i).Interface()
		if name == "DATABASE_URL" && v.Field(i).String() != "" {
			value = "****"
		}
		attrs = append(attrs, name, value)
	}
	slog.Info("[CF:Env:Show:01] - Loaded configuration", attrs...)
}
