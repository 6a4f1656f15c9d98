package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/liuscraft/streamtts/internal/protocol"
	"github.com/liuscraft/streamtts/internal/tts"
)

const DefaultPath = "config/tts.json"

type AppConfig struct {
	Logging LoggingConfig     `json:"logging"`
	TTS     TTSConfig         `json:"tts"`
	Events  protocol.EventSet `json:"events"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type TTSConfig struct {
	AppKey      string  `json:"app_key"`
	AccessKey   string  `json:"access_key"`
	ResourceID  string  `json:"resource_id"`
	Endpoint    string  `json:"endpoint"`
	UID         string  `json:"uid"`
	Speaker     string  `json:"speaker"`
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float64 `json:"speed_ratio"`
	VolumeRatio float64 `json:"volume_ratio"`
	// Timeout 为 Go duration 字符串，例如 "30s"
	Timeout string `json:"timeout"`
	// OffsetMode: after_event | header_only
	OffsetMode string `json:"offset_mode"`
}

func DefaultConfig() *AppConfig {
	return &AppConfig{
		Logging: LoggingConfig{},
		TTS: TTSConfig{
			ResourceID:  tts.DefaultResourceID,
			Endpoint:    tts.DefaultEndpoint,
			Speaker:     tts.DefaultSpeaker,
			Format:      tts.DefaultFormat,
			SampleRate:  tts.DefaultSampleRate,
			SpeedRatio:  1.0,
			VolumeRatio: 1.0,
			Timeout:     tts.DefaultTimeout.String(),
			OffsetMode:  protocol.OffsetAfterEvent.String(),
		},
		Events: protocol.DefaultEvents(),
	}
}

func Load(path string) (*AppConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyEnv()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

func (c *AppConfig) ApplyEnv() {
	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		c.Logging.Level = level
	}
	if format := strings.TrimSpace(os.Getenv("LOG_FORMAT")); format != "" {
		c.Logging.Format = format
	}

	if v := strings.TrimSpace(os.Getenv("VOLC_TTS_APP_KEY")); v != "" {
		c.TTS.AppKey = v
	}
	if v := strings.TrimSpace(os.Getenv("VOLC_TTS_ACCESS_KEY")); v != "" {
		c.TTS.AccessKey = v
	}
	if v := strings.TrimSpace(os.Getenv("VOLC_TTS_RESOURCE_ID")); v != "" {
		c.TTS.ResourceID = v
	}
	if v := strings.TrimSpace(os.Getenv("VOLC_TTS_ENDPOINT")); v != "" {
		c.TTS.Endpoint = v
	}
}

func (c *AppConfig) Validate() error {
	if c.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if c.TTS.SpeedRatio <= 0 {
		return errors.New("tts.speed_ratio must be positive")
	}
	if c.TTS.VolumeRatio <= 0 {
		return errors.New("tts.volume_ratio must be positive")
	}
	if _, err := c.TTS.timeout(); err != nil {
		return err
	}
	if _, err := c.TTS.offsetMode(); err != nil {
		return err
	}

	// 未配置的事件码回落到默认值
	c.Events = c.Events.Merge(protocol.DefaultEvents())
	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events: %w", err)
	}
	return nil
}

// ValidateKeys 检查调用厂商接口所需的凭证
func (c *AppConfig) ValidateKeys() error {
	if strings.TrimSpace(c.TTS.AppKey) == "" {
		return errors.New("tts app_key is required (VOLC_TTS_APP_KEY)")
	}
	if strings.TrimSpace(c.TTS.AccessKey) == "" {
		return errors.New("tts access_key is required (VOLC_TTS_ACCESS_KEY)")
	}
	return nil
}

// ClientConfig converts the file configuration into a tts.Config.
func (c *AppConfig) ClientConfig() (tts.Config, error) {
	timeout, err := c.TTS.timeout()
	if err != nil {
		return tts.Config{}, err
	}
	offsets, err := c.TTS.offsetMode()
	if err != nil {
		return tts.Config{}, err
	}
	return tts.Config{
		AppKey:      c.TTS.AppKey,
		AccessKey:   c.TTS.AccessKey,
		ResourceID:  c.TTS.ResourceID,
		Endpoint:    c.TTS.Endpoint,
		UID:         c.TTS.UID,
		Speaker:     c.TTS.Speaker,
		Format:      c.TTS.Format,
		SampleRate:  c.TTS.SampleRate,
		SpeedRatio:  c.TTS.SpeedRatio,
		VolumeRatio: c.TTS.VolumeRatio,
		Timeout:     timeout,
		Events:      c.Events,
		Offsets:     offsets,
	}, nil
}

func (t TTSConfig) timeout() (time.Duration, error) {
	raw := strings.TrimSpace(t.Timeout)
	if raw == "" {
		return tts.DefaultTimeout, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("tts.timeout %q: %w", t.Timeout, err)
	}
	if d <= 0 {
		return 0, errors.New("tts.timeout must be positive")
	}
	return d, nil
}

func (t TTSConfig) offsetMode() (protocol.OffsetMode, error) {
	switch strings.ToLower(strings.TrimSpace(t.OffsetMode)) {
	case "", "after_event":
		return protocol.OffsetAfterEvent, nil
	case "header_only":
		return protocol.OffsetHeaderOnly, nil
	default:
		return 0, fmt.Errorf("invalid tts.offset_mode: %s", t.OffsetMode)
	}
}
