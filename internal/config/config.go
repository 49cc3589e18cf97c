package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/robfig/cron/v3"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"vivarium/pkg/database"
)

// EnvPrefix is the prefix of environment overrides: VIVARIUM_<SECTION>_<KEY>.
const EnvPrefix = "VIVARIUM_"

// Config is the full application configuration. Section names match the
// INI/YAML section headers.
type Config struct {
	Database       DatabaseConfig   `ini:"database"`
	DatabaseRemote DatabaseConfig   `ini:"database_remote"`
	DatabaseSuper  DatabaseConfig   `ini:"database_super"`
	Supabase       DatabaseConfig   `ini:"supabase"`
	WeatherAPI     WeatherAPIConfig `ini:"weather_api"`
	Files          FilesConfig      `ini:"files"`
	Ingestion      IngestionConfig  `ini:"ingestion"`
	Exhaust        FanConfig        `ini:"exhaust"`
	Intake         FanConfig        `ini:"intake"`
	Mister         MisterConfig     `ini:"mister"`
	Growlight      GrowlightConfig  `ini:"growlight"`
	Humidifier     HumidifierConfig `ini:"humidifier"`
	Sensor         SensorConfig     `ini:"sensor"`
	Scheduler      SchedulerConfig  `ini:"scheduler"`
	Logging        LoggingConfig    `ini:"logging"`
	Server         ServerConfig     `ini:"server"`
	Redis          RedisConfig      `ini:"redis"`
	Kafka          KafkaConfig      `ini:"kafka"`
	MQTT           MQTTConfig       `ini:"mqtt"`
}

// DatabaseConfig holds one set of connection parameters.
type DatabaseConfig struct {
	Host            string        `ini:"host"`
	Port            int           `ini:"port" validate:"omitempty,min=1,max=65535"`
	User            string        `ini:"user"`
	Password        string        `ini:"password"`
	DBName          string        `ini:"dbname"`
	SSLMode         string        `ini:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	Options         string        `ini:"options"`
	MaxOpenConns    int           `ini:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `ini:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `ini:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `ini:"conn_max_idle_time"`
}

// ToDatabase converts the section into a pool configuration.
func (d DatabaseConfig) ToDatabase() *database.Config {
	return &database.Config{
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.DBName,
		SSLMode:         d.SSLMode,
		Options:         d.Options,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}
}

// Require returns a MissingError for the first empty connection field.
func (d DatabaseConfig) Require(section string) error {
	checks := []struct {
		key   string
		empty bool
	}{
		{"host", d.Host == ""},
		{"port", d.Port == 0},
		{"user", d.User == ""},
		{"dbname", d.DBName == ""},
	}
	for _, c := range checks {
		if c.empty {
			return &MissingError{Section: section, Key: c.key}
		}
	}
	return nil
}

type WeatherAPIConfig struct {
	URL          string        `ini:"url" validate:"required,url"`
	APIKey       string        `ini:"api_key"`
	LatLong      string        `ini:"lat_long" validate:"required"`
	LocationName string        `ini:"location_name"`
	Timeout      time.Duration `ini:"timeout" validate:"min=0"`
	MaxRetries   int           `ini:"max_retries" validate:"min=0,max=10"`
	RetryBackoff time.Duration `ini:"retry_backoff"`
}

// RequireKey reports a MissingError when no API key is configured.
func (w WeatherAPIConfig) RequireKey() error {
	if strings.TrimSpace(w.APIKey) == "" {
		return &MissingError{Section: "weather_api", Key: "api_key"}
	}
	return nil
}

type FilesConfig struct {
	RawDir       string `ini:"raw_dir" validate:"required"`
	ProcessedDir string `ini:"processed_dir" validate:"required"`
	LogDir       string `ini:"log_dir"`
}

type IngestionConfig struct {
	// ArchiveMode is "copy" (keep the raw file) or "move".
	ArchiveMode string `ini:"archive_mode" validate:"oneof=copy move"`
}

// FanConfig describes one PWM fan. Pins are Raspberry Pi header numbers and
// speeds are percentages.
type FanConfig struct {
	PWMPin            string        `ini:"pwm_pin"`
	TachPin           string        `ini:"tach_pin"`
	PWMFrequency      int           `ini:"pwm_frequency" validate:"min=0"`
	PulsesPerRev      int           `ini:"pulses_per_rev" validate:"min=1"`
	StabiliseDelay    time.Duration `ini:"stabilise_delay"`
	SampleWindow      time.Duration `ini:"sample_window" validate:"min=0"`
	Off               int           `ini:"off" validate:"min=0,max=100"`
	Low               int           `ini:"low" validate:"min=0,max=100"`
	Medium            int           `ini:"med" validate:"min=0,max=100"`
	High              int           `ini:"high" validate:"min=0,max=100"`
	Max               int           `ini:"max" validate:"min=0,max=100"`
	DefaultSpeedLevel string        `ini:"default_level" validate:"oneof=off low med high max"`
}

// Speed returns the configured percentage for a named level.
func (f FanConfig) Speed(level string) (int, error) {
	switch level {
	case "off":
		return f.Off, nil
	case "low":
		return f.Low, nil
	case "med":
		return f.Medium, nil
	case "high":
		return f.High, nil
	case "max":
		return f.Max, nil
	}
	return 0, fmt.Errorf("unknown fan speed level %q", level)
}

// Fraction returns the percentage of a named level as a duty cycle in [0,1].
func (f FanConfig) Fraction(level string) (float64, error) {
	pct, err := f.Speed(level)
	if err != nil {
		return 0, err
	}
	return float64(pct) / 100, nil
}

// HumidifierConfig describes the humidifier relay and its control loop.
// The humidifier runs for RuntimeMinutes whenever the latest humidity drops
// below TargetHumidity - Hysteresis.
type HumidifierConfig struct {
	Pin            string        `ini:"pin"`
	TargetHumidity float64       `ini:"target_humidity" validate:"min=0,max=100"`
	Hysteresis     float64       `ini:"hysteresis" validate:"min=0,max=100"`
	RuntimeMinutes int           `ini:"runtime" validate:"min=1"`
	CheckInterval  time.Duration `ini:"check_interval"`
}

// Runtime returns how long one humidifier run lasts.
func (h HumidifierConfig) Runtime() time.Duration {
	return time.Duration(h.RuntimeMinutes) * time.Minute
}

// SensorConfig describes the I2C temperature and humidity sensor.
type SensorConfig struct {
	Enabled       bool          `ini:"enabled"`
	Name          string        `ini:"name" validate:"required_if=Enabled true"`
	Bus           int           `ini:"i2c_bus" validate:"min=0"`
	ReadInterval  time.Duration `ini:"read_interval"`
	ReadTimeout   time.Duration `ini:"read_timeout"`
	Retries       int           `ini:"retries" validate:"min=0"`
	RetryInterval time.Duration `ini:"retry_interval"`
}

// MQTTConfig describes the broker bridge. Sensor readings and device
// status go to DataTopic; device commands arrive on CommandTopic.
type MQTTConfig struct {
	Enabled      bool   `ini:"enabled"`
	Broker       string `ini:"broker" validate:"required_if=Enabled true"`
	ClientID     string `ini:"client_id"`
	Username     string `ini:"username"`
	Password     string `ini:"password"`
	DataTopic    string `ini:"data_topic"`
	CommandTopic string `ini:"command_topic"`
}

// MisterConfig describes the misting relay. DurationSeconds is how long the
// mister runs per cycle.
type MisterConfig struct {
	Pin             string `ini:"pin"`
	DurationSeconds int    `ini:"duration" validate:"min=1"`
	RunAt           string `ini:"run_at"`
	HumidityLimit   int    `ini:"hu_threshold" validate:"min=0,max=100"`
}

// Duration returns the mister run time.
func (m MisterConfig) Duration() time.Duration {
	return time.Duration(m.DurationSeconds) * time.Second
}

type GrowlightConfig struct {
	Pin       string        `ini:"pin"`
	On        string        `ini:"on" validate:"required"`
	Off       string        `ini:"off" validate:"required"`
	SunsetLag time.Duration `ini:"sunset_lag"`
}

type SchedulerConfig struct {
	WeatherFetchCron     string `ini:"weather_fetch_cron" validate:"required"`
	MaxRetries           int    `ini:"max_retries" validate:"min=0"`
	RetryIntervalMinutes int    `ini:"retry_interval_minutes" validate:"min=0"`
	LightRefreshTime     string `ini:"light_refresh_time"`
	EnableWeatherFetcher bool   `ini:"enable_weather_fetcher"`
	EnableVivarium       bool   `ini:"enable_vivarium_controller"`
	WeatherFetcherBin    string `ini:"weather_fetcher_bin"`
	VivariumBin          string `ini:"vivarium_controller_bin"`
	Timezone             string `ini:"timezone"`
}

// Location resolves the scheduler timezone, defaulting to local time.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

type LoggingConfig struct {
	Level   string `ini:"level" validate:"oneof=DEBUG INFO WARN ERROR FATAL debug info warn error fatal"`
	Service string `ini:"service"`
}

type ServerConfig struct {
	Port            int           `ini:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `ini:"read_timeout"`
	WriteTimeout    time.Duration `ini:"write_timeout"`
	ShutdownTimeout time.Duration `ini:"shutdown_timeout"`
}

type RedisConfig struct {
	Enabled  bool          `ini:"enabled"`
	Addr     string        `ini:"addr" validate:"required_if=Enabled true"`
	Password string        `ini:"password"`
	DB       int           `ini:"db" validate:"min=0"`
	TTL      time.Duration `ini:"ttl"`
}

type KafkaConfig struct {
	Enabled bool     `ini:"enabled"`
	Brokers []string `ini:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `ini:"topic"`
}

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	fan := func(pwm, tach string) FanConfig {
		return FanConfig{
			PWMPin:            pwm,
			TachPin:           tach,
			PWMFrequency:      25000,
			PulsesPerRev:      2,
			StabiliseDelay:    2 * time.Second,
			SampleWindow:      time.Second,
			Off:               0,
			Low:               30,
			Medium:            60,
			High:              85,
			Max:               100,
			DefaultSpeedLevel: "low",
		}
	}

	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "ibis",
			DBName:          "vivarium",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		DatabaseRemote: DatabaseConfig{
			Port:         5432,
			DBName:       "vivarium",
			SSLMode:      "require",
			MaxOpenConns: 5,
			MaxIdleConns: 2,
		},
		DatabaseSuper: DatabaseConfig{
			Host:   "localhost",
			Port:   5432,
			User:   "postgres",
			DBName: "postgres",
		},
		Supabase: DatabaseConfig{
			Port:         5432,
			User:         "postgres",
			DBName:       "postgres",
			SSLMode:      "require",
			Options:      "--client_encoding=UTF8",
			MaxOpenConns: 5,
			MaxIdleConns: 2,
		},
		WeatherAPI: WeatherAPIConfig{
			URL:          "https://api.weatherapi.com/v1",
			LatLong:      "5.98,116.07",
			LocationName: "Gunung Kinabalu",
			Timeout:      30 * time.Second,
			MaxRetries:   3,
			RetryBackoff: time.Second,
		},
		Files: FilesConfig{
			RawDir:       "rawfiles",
			ProcessedDir: "rawfiles/processed",
			LogDir:       "logs",
		},
		Ingestion: IngestionConfig{ArchiveMode: "copy"},
		Exhaust:   fan("32", "36"),
		Intake:    fan("33", "31"),
		Mister: MisterConfig{
			Pin:             "40",
			DurationSeconds: 30,
			RunAt:           "12:00",
			HumidityLimit:   80,
		},
		Growlight: GrowlightConfig{
			Pin:       "38",
			On:        "6:00 AM",
			Off:       "6:00 PM",
			SunsetLag: 2 * time.Hour,
		},
		Humidifier: HumidifierConfig{
			Pin:            "37",
			TargetHumidity: 80,
			Hysteresis:     5,
			RuntimeMinutes: 10,
			CheckInterval:  5 * time.Minute,
		},
		Sensor: SensorConfig{
			Enabled:       true,
			Name:          "htu21d",
			Bus:           1,
			ReadInterval:  5 * time.Minute,
			ReadTimeout:   10 * time.Second,
			Retries:       3,
			RetryInterval: 2 * time.Second,
		},
		Scheduler: SchedulerConfig{
			WeatherFetchCron:     "0 1 * * *",
			MaxRetries:           3,
			RetryIntervalMinutes: 10,
			LightRefreshTime:     "01:30",
			EnableWeatherFetcher: true,
			EnableVivarium:       true,
			WeatherFetcherBin:    "weatherscheduler",
			VivariumBin:          "vivarium",
		},
		Logging: LoggingConfig{Level: "INFO", Service: "vivarium"},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  7 * 24 * time.Hour,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "vivarium.device_status",
		},
		MQTT: MQTTConfig{
			Broker:       "tcp://localhost:1883",
			ClientID:     "vivarium-controller",
			DataTopic:    "vivarium/data",
			CommandTopic: "vivarium/command",
		},
	}
}

// Load reads the configuration file at path (INI, or YAML when the
// extension is .yaml/.yml), merges secretsPath over it when that file
// exists, applies VIVARIUM_* environment overrides and validates the result.
// A .env file in the working directory is loaded first when present.
func Load(path, secretsPath string) (*Config, error) {
	_ = godotenv.Load()

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found at %s: %w", path, err)
	}

	sections, err := readSections(path, secretsPath)
	if err != nil {
		return nil, err
	}
	applyEnv(sections, os.Environ())

	cfg := Default()
	if err := bind(sections, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type sectionMap map[string]map[string]interface{}

func readSections(path, secretsPath string) (sectionMap, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		sections, err := readYAML(path)
		if err != nil {
			return nil, err
		}
		if secretsPath != "" {
			if _, statErr := os.Stat(secretsPath); statErr == nil {
				secrets, err := readYAML(secretsPath)
				if err != nil {
					return nil, err
				}
				merge(sections, secrets)
			}
		}
		return sections, nil
	default:
		return readINI(path, secretsPath)
	}
}

func readINI(path, secretsPath string) (sectionMap, error) {
	sources := []interface{}{}
	if secretsPath != "" {
		sources = append(sources, secretsPath)
	}
	// Later sources win, so secrets override the main file.
	f, err := ini.LooseLoad(path, sources...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	sections := sectionMap{}
	for _, s := range f.Sections() {
		if s.Name() == ini.DefaultSection {
			continue
		}
		values := make(map[string]interface{}, len(s.Keys()))
		for k, v := range s.KeysHash() {
			values[strings.ToLower(k)] = v
		}
		sections[strings.ToLower(s.Name())] = values
	}
	return sections, nil
}

func readYAML(path string) (sectionMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	raw := map[string]map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	sections := sectionMap{}
	for name, values := range raw {
		lowered := make(map[string]interface{}, len(values))
		for k, v := range values {
			lowered[strings.ToLower(k)] = v
		}
		sections[strings.ToLower(name)] = lowered
	}
	return sections, nil
}

func merge(dst, src sectionMap) {
	for name, values := range src {
		if dst[name] == nil {
			dst[name] = map[string]interface{}{}
		}
		for k, v := range values {
			dst[name][k] = v
		}
	}
}

// applyEnv overlays VIVARIUM_<SECTION>_<KEY> variables. Section names may
// contain underscores, so the longest known section prefix is matched.
func applyEnv(sections sectionMap, environ []string) {
	names := SectionNames()
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 || !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		name := strings.ToLower(kv[len(EnvPrefix):eq])
		value := kv[eq+1:]

		for _, section := range names {
			if !strings.HasPrefix(name, section+"_") {
				continue
			}
			key := name[len(section)+1:]
			if key == "" {
				break
			}
			if sections[section] == nil {
				sections[section] = map[string]interface{}{}
			}
			sections[section][key] = value
			break
		}
	}
}

// SectionNames lists the section names Config understands.
func SectionNames() []string {
	t := reflect.TypeOf(Config{})
	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		names = append(names, t.Field(i).Tag.Get("ini"))
	}
	return names
}

func bind(sections sectionMap, cfg *Config) error {
	input := make(map[string]interface{}, len(sections))
	for name, values := range sections {
		input[name] = values
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "ini",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// Validate runs struct tag validation plus cross-field checks and returns
// every failure found.
func (c *Config) Validate() error {
	var result *multierror.Error

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("ini")
	})
	if err := v.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				result = multierror.Append(result, fieldError(fe))
			}
		} else {
			result = multierror.Append(result, err)
		}
	}

	for _, fan := range []struct {
		name string
		cfg  FanConfig
	}{{"exhaust", c.Exhaust}, {"intake", c.Intake}} {
		f := fan.cfg
		if !(f.Off <= f.Low && f.Low <= f.Medium && f.Medium <= f.High && f.High <= f.Max) {
			result = multierror.Append(result, fmt.Errorf("%s: speeds must be ordered off <= low <= med <= high <= max", fan.name))
		}
	}

	if _, err := ParseClock(c.Growlight.On); err != nil {
		result = multierror.Append(result, fmt.Errorf("growlight.on: %w", err))
	}
	if _, err := ParseClock(c.Growlight.Off); err != nil {
		result = multierror.Append(result, fmt.Errorf("growlight.off: %w", err))
	}
	if c.Mister.RunAt != "" {
		if _, err := ParseClock(c.Mister.RunAt); err != nil {
			result = multierror.Append(result, fmt.Errorf("mister.run_at: %w", err))
		}
	}
	if c.Scheduler.LightRefreshTime != "" {
		if _, err := ParseClock(c.Scheduler.LightRefreshTime); err != nil {
			result = multierror.Append(result, fmt.Errorf("scheduler.light_refresh_time: %w", err))
		}
	}
	if _, err := cron.ParseStandard(c.Scheduler.WeatherFetchCron); err != nil {
		result = multierror.Append(result, fmt.Errorf("scheduler.weather_fetch_cron: %w", err))
	}
	if _, err := c.Scheduler.Location(); err != nil {
		result = multierror.Append(result, fmt.Errorf("scheduler.timezone: %w", err))
	}

	return result.ErrorOrNil()
}

func fieldError(fe validator.FieldError) error {
	// Namespace is "Config.<section>.<key>".
	parts := strings.Split(fe.Namespace(), ".")
	section, key := "", fe.Field()
	if len(parts) >= 3 {
		section = parts[1]
		key = strings.Join(parts[2:], ".")
	}
	if fe.Tag() == "required" || fe.Tag() == "required_if" {
		return &MissingError{Section: section, Key: key}
	}
	return fmt.Errorf("%s.%s: invalid value %v (%s %s)", section, key, fe.Value(), fe.Tag(), fe.Param())
}

// ParseClock parses a time of day such as "6:00 AM", "18:30" or "6PM" and
// returns the offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	layouts := []string{"3:04 PM", "3:04PM", "3 PM", "3PM", "15:04", "15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("unrecognised time of day %q", s)
}

// MissingError reports a required option that is absent.
type MissingError struct {
	Section string
	Key     string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required config option %s.%s", e.Section, e.Key)
}

// IsTransient returns false as configuration errors are not transient
func (e *MissingError) IsTransient() bool {
	return false
}
