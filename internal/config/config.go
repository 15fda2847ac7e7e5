package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config lists the tunable parameters for the survey uploader.
type Config struct {
	HTTPPort     int    `yaml:"http_port" json:"http_port"`
	MetricsPort  int    `yaml:"metrics_port" json:"metrics_port"`
	DatabasePath string `yaml:"database_path" json:"database_path"`
	LogLevel     string `yaml:"log_level" json:"log_level"`
	MDNSEnabled  bool   `yaml:"mdns_enabled" json:"mdns_enabled"`

	MQTTBroker      string `yaml:"mqtt_broker" json:"mqtt_broker"`
	MQTTClientID    string `yaml:"mqtt_client_id" json:"mqtt_client_id"`
	MQTTTopicPrefix string `yaml:"mqtt_topic_prefix" json:"mqtt_topic_prefix"`

	AppName    string `yaml:"app_name" json:"app_name"`
	AppVersion string `yaml:"app_version" json:"app_version"`

	OpenCelliD OpenCelliDConfig `yaml:"opencellid" json:"opencellid"`
	BeaconDB   BeaconDBConfig   `yaml:"beacondb" json:"beacondb"`

	RetryEnabled   bool          `yaml:"retry_enabled" json:"retry_enabled"`
	BatchSize      int           `yaml:"batch_size" json:"batch_size"`
	UploadInterval time.Duration `yaml:"upload_interval" json:"upload_interval"`
	HTTPTimeout    time.Duration `yaml:"http_timeout" json:"http_timeout"`

	DistanceThresholdMeters float64 `yaml:"distance_threshold_meters" json:"distance_threshold_meters"`
	AccuracyThresholdMeters float64 `yaml:"accuracy_threshold_meters" json:"accuracy_threshold_meters"`
}

type OpenCelliDConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	APIKey    string `yaml:"api_key" json:"-"`
	Anonymous bool   `yaml:"anonymous" json:"anonymous"`
	BaseURL   string `yaml:"base_url" json:"base_url"`
}

type BeaconDBConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	BaseURL string `yaml:"base_url" json:"base_url"`
}

const (
	defaultHTTPPort        = 8080
	defaultMetricsPort     = 9090
	defaultDatabasePath    = "data/survey.db"
	defaultLogLevel        = "info"
	defaultMQTTBroker      = "tcp://localhost:1883"
	defaultMQTTClientID    = "survey-uploader"
	defaultMQTTTopicPrefix = "networksurvey"
	defaultAppName         = "NetworkSurvey"
	defaultAppVersion      = "1.0.0"
	defaultOpenCelliDURL   = "https://opencellid.org"
	defaultBeaconDBURL     = "https://api.beacondb.net"
	defaultBatchSize       = 100
	defaultUploadInterval  = 15 * time.Minute
	defaultHTTPTimeout     = 60 * time.Second
	defaultDistance        = 35.0
	defaultAccuracy        = 100.0
)

// FileEnv names the variable pointing at an optional YAML config file.
const FileEnv = "SURVEY_CONFIG_FILE"

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPPort:        defaultHTTPPort,
		MetricsPort:     defaultMetricsPort,
		DatabasePath:    defaultDatabasePath,
		LogLevel:        defaultLogLevel,
		MDNSEnabled:     true,
		MQTTBroker:      defaultMQTTBroker,
		MQTTClientID:    defaultMQTTClientID,
		MQTTTopicPrefix: defaultMQTTTopicPrefix,
		AppName:         defaultAppName,
		AppVersion:      defaultAppVersion,
		OpenCelliD: OpenCelliDConfig{
			Enabled: true,
			BaseURL: defaultOpenCelliDURL,
		},
		BeaconDB: BeaconDBConfig{
			Enabled: true,
			BaseURL: defaultBeaconDBURL,
		},
		RetryEnabled:            true,
		BatchSize:               defaultBatchSize,
		UploadInterval:          defaultUploadInterval,
		HTTPTimeout:             defaultHTTPTimeout,
		DistanceThresholdMeters: defaultDistance,
		AccuracyThresholdMeters: defaultAccuracy,
	}
}

// Load starts from the defaults, overlays the YAML file named by
// SURVEY_CONFIG_FILE if set, then applies SURVEY_* environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	collect(envInt("SURVEY_HTTP_PORT", &c.HTTPPort))
	collect(envInt("SURVEY_METRICS_PORT", &c.MetricsPort))
	envString("SURVEY_DATABASE_PATH", &c.DatabasePath)
	envString("SURVEY_LOG_LEVEL", &c.LogLevel)
	collect(envBool("SURVEY_MDNS_ENABLED", &c.MDNSEnabled))

	envString("SURVEY_MQTT_BROKER", &c.MQTTBroker)
	envString("SURVEY_MQTT_CLIENT_ID", &c.MQTTClientID)
	envString("SURVEY_MQTT_TOPIC_PREFIX", &c.MQTTTopicPrefix)

	envString("SURVEY_APP_NAME", &c.AppName)
	envString("SURVEY_APP_VERSION", &c.AppVersion)

	collect(envBool("SURVEY_OCID_ENABLED", &c.OpenCelliD.Enabled))
	envString("SURVEY_OCID_API_KEY", &c.OpenCelliD.APIKey)
	collect(envBool("SURVEY_OCID_ANONYMOUS", &c.OpenCelliD.Anonymous))
	envString("SURVEY_OCID_BASE_URL", &c.OpenCelliD.BaseURL)
	collect(envBool("SURVEY_BEACONDB_ENABLED", &c.BeaconDB.Enabled))
	envString("SURVEY_BEACONDB_BASE_URL", &c.BeaconDB.BaseURL)

	collect(envBool("SURVEY_RETRY_ENABLED", &c.RetryEnabled))
	collect(envInt("SURVEY_BATCH_SIZE", &c.BatchSize))
	collect(envDuration("SURVEY_UPLOAD_INTERVAL", &c.UploadInterval))
	collect(envDuration("SURVEY_HTTP_TIMEOUT", &c.HTTPTimeout))
	collect(envFloat("SURVEY_DISTANCE_THRESHOLD", &c.DistanceThresholdMeters))
	collect(envFloat("SURVEY_ACCURACY_THRESHOLD", &c.AccuracyThresholdMeters))

	return errors.Join(errs...)
}

// Validate rejects values the uploader cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port must be between 1 and 65535, got %d", c.HTTPPort))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("metrics_port must be between 0 and 65535, got %d", c.MetricsPort))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.UploadInterval <= 0 {
		errs = append(errs, fmt.Errorf("upload_interval must be positive, got %s", c.UploadInterval))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("http_timeout must be positive, got %s", c.HTTPTimeout))
	}
	if c.DistanceThresholdMeters <= 0 {
		errs = append(errs, fmt.Errorf("distance_threshold_meters must be positive, got %g", c.DistanceThresholdMeters))
	}
	if c.AccuracyThresholdMeters <= 0 {
		errs = append(errs, fmt.Errorf("accuracy_threshold_meters must be positive, got %g", c.AccuracyThresholdMeters))
	}
	if c.AppName == "" {
		errs = append(errs, errors.New("app_name is required"))
	}
	return errors.Join(errs...)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = f
	return nil
}

func envBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
