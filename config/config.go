package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"retsync/models"
)

type Config struct {
	RETS      RETSConfig
	S3        S3Config
	Geocode   GeocodeConfig
	Scheduler SchedulerConfig
	Sync      SyncConfig

	DatabaseURL string
	OpsDBPath   string
	TempPath    string
	LogPath     string

	// Field-map overrides loaded from config/mappings/*.yaml.
	PropertyMappings []models.FieldMapping
	AgentMappings    []models.FieldMapping
}

type RETSConfig struct {
	URL      string
	Username string
	Password string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // for DO Spaces, R2, etc.
	AccessKeyID     string
	SecretAccessKey string
}

type GeocodeConfig struct {
	URL    string
	APIKey string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type SyncConfig struct {
	Limit            int  // max records per paged request
	DaysPerBatch     int  // date-window size for property imports
	ImportOnlyActive bool // append (STATUS=A) to property queries
	AgentOfficeCode  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		RETS: RETSConfig{
			URL:      os.Getenv("RETS_URL"),
			Username: os.Getenv("RETS_USERNAME"),
			Password: os.Getenv("RETS_PASSWORD"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Geocode: GeocodeConfig{
			URL:    getEnv("GEOCODE_URL", "https://maps.googleapis.com/maps/api/geocode/json"),
			APIKey: os.Getenv("GEOCODE_API_KEY"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SYNC_CRON"),
		},
		Sync: SyncConfig{
			Limit:            getEnvInt("RETS_LIMIT", 100),
			DaysPerBatch:     getEnvInt("DAYS_PER_BATCH", 30),
			ImportOnlyActive: getEnv("IMPORT_ONLY_ACTIVE", "true") == "true",
			AgentOfficeCode:  os.Getenv("AGENT_OFFICE_CODE"),
		},
		DatabaseURL: os.Getenv("DATABASE_URL"),
		OpsDBPath:   getEnv("OPS_DB_PATH", "retsync.db"),
		TempPath:    getEnv("TEMP_PATH", os.TempDir()),
		LogPath:     getEnv("LOG_PATH", "retsync.log"),
	}

	if interval := os.Getenv("SYNC_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadMappingOverrides("config/mappings"); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces the configuration invariants the core components assume.
func (c *Config) Validate() error {
	if c.RETS.URL == "" {
		return fmt.Errorf("RETS_URL is required")
	}
	if c.RETS.Username == "" || c.RETS.Password == "" {
		return fmt.Errorf("RETS_USERNAME and RETS_PASSWORD are required")
	}
	if c.Sync.Limit <= 0 {
		return fmt.Errorf("RETS_LIMIT must be > 0, got %d", c.Sync.Limit)
	}
	if c.Sync.DaysPerBatch <= 0 {
		return fmt.Errorf("DAYS_PER_BATCH must be > 0, got %d", c.Sync.DaysPerBatch)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

type mappingFile struct {
	Kind     string                `yaml:"kind"`
	Mappings []models.FieldMapping `yaml:"mappings"`
}

// loadMappingOverrides reads extra field mappings from yaml files. A missing
// directory is fine; a bad target name is a startup error.
func (c *Config) loadMappingOverrides(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var mf mappingFile
		if err := yaml.Unmarshal(data, &mf); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		if err := models.ValidateMappings(mf.Kind, mf.Mappings); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		switch mf.Kind {
		case "property":
			c.PropertyMappings = append(c.PropertyMappings, mf.Mappings...)
		case "agent":
			c.AgentMappings = append(c.AgentMappings, mf.Mappings...)
		}
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
