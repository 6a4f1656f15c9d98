package text

import (
	"strings"
	"unicode/utf8"
)

// Segmenter 按句子边界切分流式输入，超过 MaxRunes 时强制截断
type Segmenter struct {
	MaxRunes int
	buffer   []rune
}

func NewSegmenter(maxRunes int) *Segmenter {
	return &Segmenter{MaxRunes: maxRunes}
}

func (s *Segmenter) Feed(text string) []string {
	if text == "" {
		return nil
	}

	outputs := make([]string, 0)
	for _, r := range text {
		s.buffer = append(s.buffer, r)
		if isSentenceBoundary(r) || (s.MaxRunes > 0 && len(s.buffer) >= s.MaxRunes) {
			if sentence := s.flushBuffer(); sentence != "" {
				outputs = append(outputs, sentence)
			}
		}
	}
	return outputs
}

func (s *Segmenter) Flush() string {
	return s.flushBuffer()
}

func (s *Segmenter) flushBuffer() string {
	if len(s.buffer) == 0 {
		return ""
	}
	sentence := strings.TrimSpace(string(s.buffer))
	s.buffer = s.buffer[:0]
	return sentence
}

// Split breaks text into pieces of at most maxRunes runes, cutting on sentence
// boundaries where possible and packing short neighbouring sentences together.
// maxRunes <= 0 only splits on boundaries without packing.
func Split(text string, maxRunes int) []string {
	seg := NewSegmenter(maxRunes)
	sentences := seg.Feed(text)
	if tail := seg.Flush(); tail != "" {
		sentences = append(sentences, tail)
	}
	if maxRunes <= 0 {
		return sentences
	}

	var (
		pieces  []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if size > 0 {
			pieces = append(pieces, current.String())
			current.Reset()
			size = 0
		}
	}
	for _, sentence := range sentences {
		n := utf8.RuneCountInString(sentence)
		sep := 0
		if size > 0 && needsSpace(current.String(), sentence) {
			sep = 1
		}
		if size > 0 && size+sep+n > maxRunes {
			flush()
			sep = 0
		}
		if sep == 1 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
		size += sep + n
	}
	flush()
	return pieces
}

// needsSpace 拉丁文句子拼接时补一个空格，中文不需要
func needsSpace(prev, next string) bool {
	last, _ := utf8.DecodeLastRuneInString(prev)
	first, _ := utf8.DecodeRuneInString(next)
	return last < utf8.RuneSelf && first < utf8.RuneSelf
}

func isSentenceBoundary(r rune) bool {
	switch r {
	case '\n', '.', '!', '?', ';', '。', '！', '？', '；', '…':
		return true
	default:
		return false
	}
}
