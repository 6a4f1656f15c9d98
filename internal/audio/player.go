package audio

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/liuscraft/streamtts/internal/logging"
)

const framesPerBuffer = 1024

// Play 通过默认输出设备播放单声道 PCM。deviceRate > 0 且与 sampleRate 不同时先重采样。
func Play(ctx context.Context, pcm []byte, sampleRate, deviceRate int) error {
	samples := DecodePCM16(pcm)
	rate := sampleRate
	if deviceRate > 0 && deviceRate != sampleRate {
		resampled, err := Resample(samples, sampleRate, deviceRate)
		if err != nil {
			return err
		}
		samples = resampled
		rate = deviceRate
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	defer portaudio.Terminate()

	buf := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(rate), len(buf), &buf)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return err
	}
	defer stream.Stop()

	logging.Infof("playing %.2fs: %d samples @ %d Hz", Duration(pcm, sampleRate), len(samples), rate)
	for off := 0; off < len(samples); off += len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(buf, samples[off:])
		clear(buf[n:])
		if err := stream.Write(); err != nil {
			return err
		}
	}
	return nil
}
