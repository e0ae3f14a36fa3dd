package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/metacubex/mihomo/log"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultPath 未指定时的配置文件路径
const DefaultPath = "config.yaml"

// ScheduleParser 与调度器一致的cron解析器（含秒字段和@every描述符）
var ScheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config 应用程序配置
type Config struct {
	LogLevel  string          `yaml:"log_level" toml:"log_level"`
	Server    Server          `yaml:"server" toml:"server"`
	Database  Database        `yaml:"database" toml:"database"`
	Probe     Probe           `yaml:"probe" toml:"probe"`
	Bandwidth Bandwidth       `yaml:"bandwidth" toml:"bandwidth"`
	Schedule  Schedule        `yaml:"schedule" toml:"schedule"`
	History   History         `yaml:"history" toml:"history"`
	Charts    Charts          `yaml:"charts" toml:"charts"`
	Console   Console         `yaml:"console" toml:"console"`
	Webhooks  []WebhookConfig `yaml:"webhooks" toml:"webhooks"`
}

// Server HTTP服务配置
type Server struct {
	Address string `yaml:"address" toml:"address"`
}

// Database 数据库配置，作为CSV日志的镜像
type Database struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Driver  string `yaml:"driver" toml:"driver"`
	DSN     string `yaml:"dsn" toml:"dsn"`
}

// Probe 延迟探测配置
type Probe struct {
	Target         string `yaml:"target" toml:"target"`
	PingMethod     string `yaml:"ping_method" toml:"ping_method"` // icmp 或 tcp
	TimeoutSeconds int    `yaml:"timeout_seconds" toml:"timeout_seconds"`
	Privileged     bool   `yaml:"privileged" toml:"privileged"`
	TCPPort        string `yaml:"tcp_port" toml:"tcp_port"`
}

// Timeout 单次ping超时
func (p Probe) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Bandwidth 带宽测速配置
type Bandwidth struct {
	Provider              string   `yaml:"provider" toml:"provider"` // speedtest.net, cloudflare, none
	LibraryTimeoutSeconds int      `yaml:"library_timeout_seconds" toml:"library_timeout_seconds"`
	CLICandidates         []string `yaml:"cli_candidates" toml:"cli_candidates"`
	CLIPath               string   `yaml:"cli_path" toml:"cli_path"`
	CLIArgs               []string `yaml:"cli_args" toml:"cli_args"`
	CLITimeoutSeconds     int      `yaml:"cli_timeout_seconds" toml:"cli_timeout_seconds"`
	HTTP                  HTTPTier `yaml:"http" toml:"http"`
}

// LibraryTimeout 测速库超时
func (b Bandwidth) LibraryTimeout() time.Duration {
	return time.Duration(b.LibraryTimeoutSeconds) * time.Second
}

// CLITimeout 命令行工具超时
func (b Bandwidth) CLITimeout() time.Duration {
	return time.Duration(b.CLITimeoutSeconds) * time.Second
}

// HTTPTier HTTP测速层配置
type HTTPTier struct {
	DownloadURL    string `yaml:"download_url" toml:"download_url"`
	UploadURL      string `yaml:"upload_url" toml:"upload_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" toml:"timeout_seconds"`
}

// Timeout 单次请求超时
func (h HTTPTier) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// Schedule 两个探测节奏
type Schedule struct {
	Latency   string `yaml:"latency" toml:"latency"`
	Bandwidth string `yaml:"bandwidth" toml:"bandwidth"`
}

// History 历史记录配置
type History struct {
	CSVPath string `yaml:"csv_path" toml:"csv_path"`
	// Append 为true时保留已有文件内容，否则启动时重写表头
	Append bool `yaml:"append" toml:"append"`
	// MaxPoints 内存中每类保留的最大记录数，0表示不限
	MaxPoints int `yaml:"max_points" toml:"max_points"`
}

// Charts PNG图表输出
type Charts struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Dir     string `yaml:"dir" toml:"dir"`
}

// Console 控制台状态行
type Console struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// WebhookConfig 状态变化时调用的webhook
type WebhookConfig struct {
	Name   string            `yaml:"name" toml:"name"`
	URL    string            `yaml:"url" toml:"url"`
	Method string            `yaml:"method" toml:"method"`
	Header map[string]string `yaml:"header" toml:"header"`
	Body   string            `yaml:"body" toml:"body"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server:   Server{Address: "127.0.0.1:8080"},
		Database: Database{Enabled: false, Driver: "sqlite", DSN: "netwatch.db"},
		Probe: Probe{
			Target:         "8.8.8.8",
			PingMethod:     "icmp",
			TimeoutSeconds: 4,
			TCPPort:        "53",
		},
		Bandwidth: Bandwidth{
			Provider:              "speedtest.net",
			LibraryTimeoutSeconds: 90,
			CLICandidates:         []string{"speedtest-cli", "speedtest"},
			CLIArgs:               []string{"--simple"},
			CLITimeoutSeconds:     30,
			HTTP: HTTPTier{
				DownloadURL:    "http://speedtest.tele2.net/1MB.zip",
				UploadURL:      "https://httpbin.org/post",
				TimeoutSeconds: 20,
			},
		},
		Schedule: Schedule{Latency: "@every 5s", Bandwidth: "@every 60s"},
		History:  History{CSVPath: "network_history.csv"},
		Charts:   Charts{Enabled: false, Dir: "charts"},
		Console:  Console{Enabled: true},
	}
}

// ResolvePath 命令行参数优先，其次CONFIG_PATH环境变量
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return DefaultPath
}

// Load 从文件加载配置，文件不存在时使用默认配置
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warnln("config file %s not found, using defaults", path)
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := Parse(data, filepath.Ext(path), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse 按扩展名解析到cfg上，未出现的字段保留原值
func Parse(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Server.Address == "" {
		c.Server.Address = def.Server.Address
	}
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
	if c.Probe.Target == "" {
		c.Probe.Target = def.Probe.Target
	}
	if c.Probe.PingMethod == "" {
		c.Probe.PingMethod = def.Probe.PingMethod
	}
	if c.Probe.TimeoutSeconds == 0 {
		c.Probe.TimeoutSeconds = def.Probe.TimeoutSeconds
	}
	if c.Probe.TCPPort == "" {
		c.Probe.TCPPort = def.Probe.TCPPort
	}
	if c.Bandwidth.Provider == "" {
		c.Bandwidth.Provider = def.Bandwidth.Provider
	}
	if c.Bandwidth.LibraryTimeoutSeconds == 0 {
		c.Bandwidth.LibraryTimeoutSeconds = def.Bandwidth.LibraryTimeoutSeconds
	}
	if len(c.Bandwidth.CLIArgs) == 0 {
		c.Bandwidth.CLIArgs = def.Bandwidth.CLIArgs
	}
	if c.Bandwidth.CLITimeoutSeconds == 0 {
		c.Bandwidth.CLITimeoutSeconds = def.Bandwidth.CLITimeoutSeconds
	}
	if c.Bandwidth.HTTP.DownloadURL == "" {
		c.Bandwidth.HTTP.DownloadURL = def.Bandwidth.HTTP.DownloadURL
	}
	if c.Bandwidth.HTTP.UploadURL == "" {
		c.Bandwidth.HTTP.UploadURL = def.Bandwidth.HTTP.UploadURL
	}
	if c.Bandwidth.HTTP.TimeoutSeconds == 0 {
		c.Bandwidth.HTTP.TimeoutSeconds = def.Bandwidth.HTTP.TimeoutSeconds
	}
	if c.Schedule.Latency == "" {
		c.Schedule.Latency = def.Schedule.Latency
	}
	if c.Schedule.Bandwidth == "" {
		c.Schedule.Bandwidth = def.Schedule.Bandwidth
	}
	if c.History.CSVPath == "" {
		c.History.CSVPath = def.History.CSVPath
	}
	if c.Charts.Dir == "" {
		c.Charts.Dir = def.Charts.Dir
	}
	for i := range c.Webhooks {
		if c.Webhooks[i].Method == "" {
			c.Webhooks[i].Method = "POST"
		}
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error

	if _, ok := log.LogLevelMapping[strings.ToLower(c.LogLevel)]; !ok {
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	switch c.Probe.PingMethod {
	case "icmp", "tcp":
	default:
		errs = append(errs, fmt.Errorf("unsupported ping_method %q", c.Probe.PingMethod))
	}
	switch c.Bandwidth.Provider {
	case "speedtest.net", "cloudflare", "none":
	default:
		errs = append(errs, fmt.Errorf("unsupported bandwidth provider %q", c.Bandwidth.Provider))
	}
	if c.Probe.TimeoutSeconds < 0 || c.Bandwidth.LibraryTimeoutSeconds < 0 ||
		c.Bandwidth.CLITimeoutSeconds < 0 || c.Bandwidth.HTTP.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.History.MaxPoints < 0 {
		errs = append(errs, errors.New("history.max_points must not be negative"))
	}
	if _, err := ScheduleParser.Parse(c.Schedule.Latency); err != nil {
		errs = append(errs, fmt.Errorf("schedule.latency %q: %w", c.Schedule.Latency, err))
	}
	if _, err := ScheduleParser.Parse(c.Schedule.Bandwidth); err != nil {
		errs = append(errs, fmt.Errorf("schedule.bandwidth %q: %w", c.Schedule.Bandwidth, err))
	}
	for _, hook := range c.Webhooks {
		if hook.URL == "" {
			errs = append(errs, fmt.Errorf("webhook %q has no url", hook.Name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Resolve 启动时解析一次命令行测速工具路径，已配置cli_path时不再探测
func (c *Config) Resolve(detect func(candidates []string) string) {
	if c.Bandwidth.CLIPath != "" || detect == nil {
		return
	}
	c.Bandwidth.CLIPath = detect(c.Bandwidth.CLICandidates)
	if c.Bandwidth.CLIPath == "" {
		log.Warnln("no speedtest CLI found among %v, bandwidth health will not be judged", c.Bandwidth.CLICandidates)
	} else {
		log.Infoln("speedtest CLI detected: %s", c.Bandwidth.CLIPath)
	}
}

// BandwidthCapable 主机是否具备命令行测速能力
func (c *Config) BandwidthCapable() bool {
	return c.Bandwidth.CLIPath != ""
}
