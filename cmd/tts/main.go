package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/liuscraft/streamtts/internal/audio"
	"github.com/liuscraft/streamtts/internal/config"
	"github.com/liuscraft/streamtts/internal/logging"
	"github.com/liuscraft/streamtts/internal/text"
	"github.com/liuscraft/streamtts/internal/tts"
)

func main() {
	inputText := flag.String("text", "", "Text to synthesize (empty reads stdin)")
	split := flag.Bool("split", false, "Split long text into sentences and synthesize them as a batch")
	maxRunes := flag.Int("max-runes", 120, "Max runes per piece when splitting")
	stripMarkdown := flag.Bool("markdown", false, "Strip Markdown formatting before synthesis")
	speaker := flag.String("speaker", "", "Speaker id (empty uses config)")
	format := flag.String("format", "", "Audio format: mp3/pcm/ogg_opus (empty uses config)")
	sampleRate := flag.Int("sample-rate", 0, "Sample rate in Hz (0 uses config)")
	speed := flag.Float64("speed", 0, "Speed ratio (0 uses config)")
	volume := flag.Float64("volume", 0, "Volume ratio (0 uses config)")
	output := flag.String("output", "", "Write audio to file")
	play := flag.Bool("play", false, "Play audio: pcm through portaudio, other formats through -player")
	player := flag.String("player", "ffplay", "Player executable for non-pcm playback")
	deviceRate := flag.Int("device-rate", 0, "Resample pcm to this rate before playback (0 plays as is)")
	configPath := flag.String("config", config.DefaultPath, "Config file path")
	timeout := flag.Duration("timeout", 0, "Per-session watchdog (0 uses config)")
	flag.Parse()

	// .env 不存在时忽略
	envErr := godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()
	logging.SetTraceID(logging.NewTraceID())
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logging.Warnf("load .env failed: %v", envErr)
	}

	if err := cfg.ValidateKeys(); err != nil {
		logging.Fatalf("%v", err)
	}
	clientCfg, err := cfg.ClientConfig()
	if err != nil {
		logging.Fatalf("invalid tts config: %v", err)
	}
	if *timeout > 0 {
		clientCfg.Timeout = *timeout
	}

	client, err := tts.NewClient(clientCfg)
	if err != nil {
		logging.Fatalf("create tts client failed: %v", err)
	}

	input, err := readInput(*inputText)
	if err != nil {
		logging.Fatalf("read input failed: %v", err)
	}
	if *stripMarkdown {
		input = strings.TrimSpace(text.StripMarkdown(input))
	}

	opts := tts.SynthesizeOptions{
		Speaker:     strings.TrimSpace(*speaker),
		Format:      strings.TrimSpace(*format),
		SampleRate:  *sampleRate,
		SpeedRatio:  *speed,
		VolumeRatio: *volume,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	var results []tts.Result
	if *split {
		pieces := text.Split(input, *maxRunes)
		logging.Infof("synthesizing %d pieces (max %d runes each)", len(pieces), *maxRunes)
		results, err = client.BatchSynthesize(ctx, pieces, opts)
	} else {
		var res tts.Result
		res, err = client.Synthesize(ctx, input, opts)
		results = []tts.Result{res}
	}
	if err != nil {
		logging.Fatalf("synthesize failed: %v", err)
	}

	data, audioFormat := joinResults(results)
	logging.Infof("received %d bytes of %s in %s", len(data), audioFormat, time.Since(start).Round(time.Millisecond))

	outPath := strings.TrimSpace(*output)
	if outPath == "" && !*play {
		outPath = "tts_output." + extension(audioFormat)
	}
	if outPath != "" {
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			logging.Fatalf("write %s failed: %v", outPath, err)
		}
		logging.Infof("audio written to %s", outPath)
	}

	if *play {
		rate := *sampleRate
		if rate == 0 {
			rate = clientCfg.SampleRate
		}
		if err := playAudio(ctx, data, audioFormat, rate, *deviceRate, *player); err != nil {
			logging.Errorf("playback error: %v", err)
		}
	}
}

func readInput(flagText string) (string, error) {
	if strings.TrimSpace(flagText) != "" {
		return flagText, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func joinResults(results []tts.Result) ([]byte, string) {
	var buf bytes.Buffer
	format := ""
	for _, r := range results {
		buf.Write(r.Audio)
		if format == "" {
			format = r.Format
		}
	}
	return buf.Bytes(), format
}

func extension(format string) string {
	switch format {
	case "ogg_opus":
		return "ogg"
	case "":
		return "bin"
	default:
		return format
	}
}

func playAudio(ctx context.Context, data []byte, format string, sampleRate, deviceRate int, player string) error {
	if format == "pcm" {
		return audio.Play(ctx, data, sampleRate, deviceRate)
	}

	if player == "" {
		return errors.New("no player configured for " + format)
	}
	path, err := exec.LookPath(player)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, path, "-autoexit", "-nodisp", "-loglevel", "warning", "-i", "pipe:0")
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
