package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liuscraft/streamtts/internal/protocol"
)

const (
	DefaultEndpoint   = "wss://openspeech.bytedance.com/api/v3/tts/bidirection"
	DefaultResourceID = "volc.service_type.10029"
	DefaultSpeaker    = "zh_female_shuangkuaisisi_moon_bigtts"
	DefaultFormat     = "mp3"
	DefaultSampleRate = 24000
	DefaultTimeout    = 30 * time.Second
)

// Config is the static per-client configuration. AppKey and AccessKey have no
// usable default and must be supplied.
type Config struct {
	AppKey     string
	AccessKey  string
	ResourceID string
	Endpoint   string
	// UID is forwarded as user.uid in StartSession when set.
	UID string

	Speaker     string
	Format      string
	SampleRate  int
	SpeedRatio  float64
	VolumeRatio float64

	// Timeout is the watchdog window measured from session creation.
	Timeout time.Duration
	Events  protocol.EventSet
	Offsets protocol.OffsetMode
}

// SynthesizeOptions override the client defaults for one call. Zero fields
// fall back to Config.
type SynthesizeOptions struct {
	Speaker     string
	Format      string
	SampleRate  int
	SpeedRatio  float64
	VolumeRatio float64
}

// Request is the immutable input of one session.
type Request struct {
	Text        string
	Speaker     string
	Format      string
	SampleRate  int
	SpeedRatio  float64
	VolumeRatio float64
}

type Result struct {
	Audio  []byte
	Format string
}

var (
	ErrInvalidRequest  = errors.New("tts invalid request")
	ErrConnect         = errors.New("tts connect error")
	ErrProtocol        = errors.New("tts protocol error")
	ErrRemoteRejection = errors.New("tts remote rejection")
	ErrTimeout         = errors.New("tts timeout")
	ErrEmptyResult     = errors.New("tts empty result")
)

// RemoteError carries the payload of a SESSION_FAILED or CONNECTION_FAILED frame.
type RemoteError struct {
	Event     string
	SessionID string
	Payload   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrRemoteRejection, e.Event, e.Payload)
}

func (e *RemoteError) Unwrap() error {
	return ErrRemoteRejection
}

func normalizeConfig(cfg Config) (Config, error) {
	if strings.TrimSpace(cfg.AppKey) == "" {
		return Config{}, errors.New("tts app key is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" {
		return Config{}, errors.New("tts access key is required")
	}
	if strings.TrimSpace(cfg.ResourceID) == "" {
		cfg.ResourceID = DefaultResourceID
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Speaker == "" {
		cfg.Speaker = DefaultSpeaker
	}
	if cfg.Format == "" {
		cfg.Format = DefaultFormat
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.SpeedRatio == 0 {
		cfg.SpeedRatio = 1
	}
	if cfg.VolumeRatio == 0 {
		cfg.VolumeRatio = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.Events = cfg.Events.Merge(protocol.DefaultEvents())
	if err := cfg.Events.Validate(); err != nil {
		return Config{}, fmt.Errorf("tts events: %w", err)
	}
	return cfg, nil
}

func (c Config) request(text string, opts SynthesizeOptions) (Request, error) {
	if strings.TrimSpace(text) == "" {
		return Request{}, fmt.Errorf("%w: text is empty", ErrInvalidRequest)
	}
	req := Request{
		Text:        text,
		Speaker:     c.Speaker,
		Format:      c.Format,
		SampleRate:  c.SampleRate,
		SpeedRatio:  c.SpeedRatio,
		VolumeRatio: c.VolumeRatio,
	}
	if opts.Speaker != "" {
		req.Speaker = opts.Speaker
	}
	if opts.Format != "" {
		req.Format = opts.Format
	}
	if opts.SampleRate != 0 {
		req.SampleRate = opts.SampleRate
	}
	if opts.SpeedRatio != 0 {
		req.SpeedRatio = opts.SpeedRatio
	}
	if opts.VolumeRatio != 0 {
		req.VolumeRatio = opts.VolumeRatio
	}
	if req.SampleRate < 0 || req.SpeedRatio < 0 || req.VolumeRatio < 0 {
		return Request{}, fmt.Errorf("%w: sample rate and ratios must be positive", ErrInvalidRequest)
	}
	return req, nil
}

// errorKind buckets err into the status label used by logs and metrics.
func errorKind(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.As(err, &remote):
		return "rejected"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrEmptyResult):
		return "empty"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrConnect):
		return "connect"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
