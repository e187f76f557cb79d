package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Upload    UploadConfig      `mapstructure:"upload"`
	Segmenter SegmenterConfig   `mapstructure:"segmenter"`
	Cache     CacheConfig       `mapstructure:"cache"`
	Session   SessionConfig     `mapstructure:"session"`
	Preview   PreviewConfig     `mapstructure:"preview"`
	Export    ExportConfig      `mapstructure:"export"`
	Samples   map[string]string `mapstructure:"samples"`
	Gallery   GalleryConfig     `mapstructure:"gallery"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	MaxPixels    int64    `mapstructure:"max_pixels"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

type SegmenterConfig struct {
	// onnx | comfy | alpha
	Backend string      `mapstructure:"backend"`
	ONNX    ONNXConfig  `mapstructure:"onnx"`
	Comfy   ComfyConfig `mapstructure:"comfy"`
}

type ONNXConfig struct {
	LibraryPath string `mapstructure:"library_path"`
	ModelPath   string `mapstructure:"model_path"`
	InputName   string `mapstructure:"input_name"`
	OutputName  string `mapstructure:"output_name"`
	InputSize   int    `mapstructure:"input_size"`
}

type ComfyConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	WorkflowPath string        `mapstructure:"workflow_path"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	// memory | redis | none
	Backend  string        `mapstructure:"backend"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type SessionConfig struct {
	IdleTTL   time.Duration `mapstructure:"idle_ttl"`
	SweepSpec string        `mapstructure:"sweep_spec"`
}

type PreviewConfig struct {
	MaxSize int `mapstructure:"max_size"`
}

type ExportConfig struct {
	Filename string `mapstructure:"filename"`
}

// GalleryConfig 从网页抓取示例图片，PageURL 为空则不抓取
type GalleryConfig struct {
	PageURL string `mapstructure:"page_url"`

	// Match 图片地址的正则，为空则全部保留
	Match string `mapstructure:"match"`
	Limit int    `mapstructure:"limit"`
}

// Load 从 YAML 文件加载配置，环境变量 CUTOUT_* 可覆盖
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return unmarshal(v)
}

// New 使用默认配置路径加载配置，读取失败时退回默认配置
func New(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		cfg, err = unmarshal(newViper())
		if err != nil {
			return Default()
		}
	}
	return cfg
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:7860",
			Mode:            "debug",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Upload: UploadConfig{
			MaxSize:      20 * 1024 * 1024,
			MaxPixels:    100_000_000,
			AllowedTypes: defaultAllowedTypes(),
		},
		Segmenter: SegmenterConfig{
			Backend: "onnx",
			ONNX: ONNXConfig{
				ModelPath:  "models/rmbg-1.4.onnx",
				InputName:  "input",
				OutputName: "output",
				InputSize:  1024,
			},
			Comfy: ComfyConfig{
				BaseURL:      "http://127.0.0.1:8188/",
				PollInterval: 500 * time.Millisecond,
				Timeout:      2 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Backend: "memory",
			Addr:    "localhost:6379",
			TTL:     time.Hour,
		},
		Session: SessionConfig{
			IdleTTL:   30 * time.Minute,
			SweepSpec: "@every 1m",
		},
		Preview: PreviewConfig{MaxSize: 512},
		Export:  ExportConfig{Filename: "removed-background.png"},
		Gallery: GalleryConfig{Limit: 12},
	}
}

func defaultAllowedTypes() []string {
	return []string{"image/png", "image/jpeg", "image/jpg", "image/gif", "image/webp", "image/bmp", "image/tiff"}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("cutout")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.max_pixels", d.Upload.MaxPixels)
	v.SetDefault("upload.allowed_types", d.Upload.AllowedTypes)

	v.SetDefault("segmenter.backend", d.Segmenter.Backend)
	v.SetDefault("segmenter.onnx.library_path", d.Segmenter.ONNX.LibraryPath)
	v.SetDefault("segmenter.onnx.model_path", d.Segmenter.ONNX.ModelPath)
	v.SetDefault("segmenter.onnx.input_name", d.Segmenter.ONNX.InputName)
	v.SetDefault("segmenter.onnx.output_name", d.Segmenter.ONNX.OutputName)
	v.SetDefault("segmenter.onnx.input_size", d.Segmenter.ONNX.InputSize)
	v.SetDefault("segmenter.comfy.base_url", d.Segmenter.Comfy.BaseURL)
	v.SetDefault("segmenter.comfy.workflow_path", d.Segmenter.Comfy.WorkflowPath)
	v.SetDefault("segmenter.comfy.poll_interval", d.Segmenter.Comfy.PollInterval)
	v.SetDefault("segmenter.comfy.timeout", d.Segmenter.Comfy.Timeout)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.addr", d.Cache.Addr)
	v.SetDefault("cache.password", d.Cache.Password)
	v.SetDefault("cache.db", d.Cache.DB)
	v.SetDefault("cache.ttl", d.Cache.TTL)

	v.SetDefault("session.idle_ttl", d.Session.IdleTTL)
	v.SetDefault("session.sweep_spec", d.Session.SweepSpec)

	v.SetDefault("preview.max_size", d.Preview.MaxSize)
	v.SetDefault("export.filename", d.Export.Filename)

	v.SetDefault("gallery.page_url", d.Gallery.PageURL)
	v.SetDefault("gallery.match", d.Gallery.Match)
	v.SetDefault("gallery.limit", d.Gallery.Limit)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
