package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/load-probe/internal/httpclient"
	"yqhp/load-probe/pkg/logger"
	"yqhp/load-probe/pkg/metrics"
)

// Config represents the engine configuration. The test plan is loaded separately.
type Config struct {
	Logging     logger.Config     `yaml:"logging"`
	HTTP        httpclient.Config `yaml:"http"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Status      StatusConfig      `yaml:"status"`
	Output      OutputConfig      `yaml:"output"`
	SelfMonitor SelfMonitorConfig `yaml:"self_monitor"`
}

// MetricsConfig controls aggregation and threshold evaluation.
type MetricsConfig struct {
	TrendSampleCap    int           `yaml:"trend_sample_cap" env:"LP_METRICS_TREND_SAMPLE_CAP"`
	ThresholdInterval time.Duration `yaml:"threshold_interval" env:"LP_METRICS_THRESHOLD_INTERVAL"`
	TimelineInterval  time.Duration `yaml:"timeline_interval" env:"LP_METRICS_TIMELINE_INTERVAL"`
	TimelineLimit     int           `yaml:"timeline_limit" env:"LP_METRICS_TIMELINE_LIMIT"`
}

// StatusConfig configures the live status server.
type StatusConfig struct {
	Enabled      bool          `yaml:"enabled" env:"LP_STATUS_ENABLED"`
	Address      string        `yaml:"address" env:"LP_STATUS_ADDRESS"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"LP_STATUS_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"LP_STATUS_WRITE_TIMEOUT"`
}

// OutputConfig selects where results go besides the console summary.
type OutputConfig struct {
	SummaryExport string `yaml:"summary_export" env:"LP_OUTPUT_SUMMARY_EXPORT"`
	Report        string `yaml:"report" env:"LP_OUTPUT_REPORT"`
	// Samples is a list of sample outputs, e.g. "json=samples.json",
	// "influxdb=http://localhost:8086/loadprobe" or "kafka=broker:9092?topic=lp".
	Samples []string `yaml:"samples" env:"LP_OUTPUT_SAMPLES"`
	NoColor bool     `yaml:"no_color" env:"LP_OUTPUT_NO_COLOR"`
}

// SelfMonitorConfig controls sampling of the probe's own CPU and memory.
type SelfMonitorConfig struct {
	Enabled  bool          `yaml:"enabled" env:"LP_SELF_MONITOR_ENABLED"`
	Interval time.Duration `yaml:"interval" env:"LP_SELF_MONITOR_INTERVAL"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Logging: *logger.DefaultConfig(),
		HTTP: httpclient.Config{
			Timeout:             httpclient.DefaultTimeout,
			MaxConnsPerHost:     httpclient.DefaultMaxConnsPerHost,
			MaxIdleConnDuration: httpclient.DefaultMaxIdleConn,
			UserAgent:           httpclient.DefaultUserAgent,
		},
		Metrics: MetricsConfig{
			TrendSampleCap:    metrics.DefaultTrendSampleCap,
			ThresholdInterval: 2 * time.Second,
			TimelineInterval:  time.Second,
			TimelineLimit:     3600,
		},
		Status: StatusConfig{
			Enabled:      false,
			Address:      "127.0.0.1:6565",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		SelfMonitor: SelfMonitorConfig{
			Enabled:  true,
			Interval: 5 * time.Second,
		},
	}
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	cmdArgs    map[string]string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		cmdArgs: make(map[string]string),
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithCmdArgs sets dot-notation overrides, e.g. "metrics.trend_sample_cap": "5000".
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < YAML file < environment variables < command-line flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("从文件加载配置失败: %w", err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("应用环境变量覆盖失败: %w", err)
	}

	if err := l.applyCmdOverrides(cfg); err != nil {
		return nil, fmt.Errorf("应用命令行参数覆盖失败: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file. A missing file leaves the defaults.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}

	return nil
}

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	return applyEnvToStruct(reflect.ValueOf(cfg).Elem())
}

// applyEnvToStruct recursively applies environment variables to struct fields.
func applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("从环境变量 %s 设置字段 %s 失败: %w", envTag, fieldType.Name, err)
		}
	}

	return nil
}

func (l *Loader) applyCmdOverrides(cfg *Config) error {
	for key, value := range l.cmdArgs {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("设置配置值 %s 失败: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a configuration value by its dot-notation yaml path.
func setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		field, ok := fieldByYAMLName(v, part)
		if !ok {
			return fmt.Errorf("未知的配置路径: %s", path)
		}

		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}

		if field.Kind() != reflect.Struct {
			return fmt.Errorf("期望 %s 是结构体，实际是 %s", part, field.Kind())
		}
		v = field
	}

	return nil
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if tag == name || (tag == "" && strings.EqualFold(t.Field(i).Name, name)) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("无法设置字段")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("无效的时间格式: %w", err)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("无效的整数: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("无效的浮点数: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("无效的布尔值: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("不支持的切片类型: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))

	default:
		return fmt.Errorf("不支持的字段类型: %s", field.Kind())
	}

	return nil
}

// ParseCmdArgs turns repeated "key=value" flags into loader overrides.
func ParseCmdArgs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("无效的覆盖参数 %q，应为 key=value", p)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig parses a YAML configuration from bytes on top of the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file path.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}
