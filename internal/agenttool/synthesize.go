// Package agenttool exposes speech synthesis as an eino tool so agent
// pipelines can ask for audio the same way they call any other tool.
package agenttool

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/liuscraft/streamtts/internal/logging"
	"github.com/liuscraft/streamtts/internal/text"
	"github.com/liuscraft/streamtts/internal/tts"
)

const ToolName = "synthesize_speech"

// Synthesizer is satisfied by *tts.Client.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts tts.SynthesizeOptions) (tts.Result, error)
}

type SynthesizeInput struct {
	Text    string `json:"text" jsonschema_description:"要合成语音的文本，支持 Markdown，标记会被去掉"`
	Speaker string `json:"speaker,omitempty" jsonschema_description:"音色 ID，留空使用默认音色"`
	Format  string `json:"format,omitempty" jsonschema_description:"音频格式：mp3、pcm 或 ogg_opus，留空使用默认格式"`
}

type SynthesizeOutput struct {
	Format      string `json:"format"`
	Bytes       int    `json:"bytes"`
	AudioBase64 string `json:"audio_base64"`
}

// NewSynthesizeTool 创建语音合成工具
func NewSynthesizeTool(s Synthesizer) (tool.InvokableTool, error) {
	if s == nil {
		return nil, errors.New("agenttool: synthesizer is nil")
	}
	return utils.InferTool(ToolName, "把一段文本合成为语音，返回 base64 编码的音频",
		func(ctx context.Context, in SynthesizeInput) (SynthesizeOutput, error) {
			return synthesize(ctx, s, in)
		})
}

func synthesize(ctx context.Context, s Synthesizer, in SynthesizeInput) (SynthesizeOutput, error) {
	plain := strings.TrimSpace(text.StripMarkdown(in.Text))
	logging.Infof("[Tool] %s called: runes=%d speaker=%q format=%q", ToolName, len([]rune(plain)), in.Speaker, in.Format)

	res, err := s.Synthesize(ctx, plain, tts.SynthesizeOptions{
		Speaker: in.Speaker,
		Format:  in.Format,
	})
	if err != nil {
		return SynthesizeOutput{}, err
	}
	return SynthesizeOutput{
		Format:      res.Format,
		Bytes:       len(res.Audio),
		AudioBase64: base64.StdEncoding.EncodeToString(res.Audio),
	}, nil
}
