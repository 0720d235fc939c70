package openai

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"captionflow/internal/types"
	"captionflow/log"
	apperrors "captionflow/pkg/errors"
)

var chatCodes = errorCodes{
	failed:   apperrors.CodeTranslateFailed,
	timeout:  apperrors.CodeTranslateTimeout,
	quota:    apperrors.CodeLLMQuotaExceeded,
	rejected: apperrors.CodeTranslateFailed,
	message:  "LLM调用失败 LLM request failed",
}

var transcriptionCodes = errorCodes{
	failed:   apperrors.CodeTranscribeFailed,
	timeout:  apperrors.CodeTranscribeTimeout,
	quota:    apperrors.CodeTranscribeQuota,
	rejected: apperrors.CodeTranscribeRejected,
	message:  "语音识别请求失败 Transcription request failed",
}

func (c *Client) ChatCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		Temperature: c.temperature,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		log.GetLogger().Warn("openai chat completion failed", zap.String("model", c.chatModel), zap.Error(err))
		return "", classify(err, chatCodes)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.Transient(chatCodes.failed, "LLM返回为空 Empty LLM response", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// Recognize transcribes an audio file with segment-level timestamps.
func (c *Client) Recognize(ctx context.Context, audioPath string, language string) (*types.RawTranscription, error) {
	req := openai.AudioRequest{
		Model:    c.transcriptionModel,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularitySegment,
		},
	}
	if lang := strings.TrimSpace(language); lang != "" {
		req.Language = lang
	}

	resp, err := c.client.CreateTranscription(ctx, req)
	if err != nil {
		log.GetLogger().Warn("openai transcription failed",
			zap.String("model", c.transcriptionModel),
			zap.String("audio", audioPath),
			zap.Error(err))
		return nil, classify(err, transcriptionCodes)
	}

	out := &types.RawTranscription{
		Language: resp.Language,
		Text:     resp.Text,
		Segments: make([]types.RawSegment, 0, len(resp.Segments)),
	}
	for _, seg := range resp.Segments {
		out.Segments = append(out.Segments, types.RawSegment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}
	return out, nil
}
