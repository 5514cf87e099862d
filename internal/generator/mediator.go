// Package generator はキャプション生成リクエストの検証と生成AIへの委譲を行う。
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/captionly/internal/gemini"
	"github.com/hitoshi/captionly/internal/metrics"
	"github.com/hitoshi/captionly/internal/model"
	"github.com/hitoshi/captionly/internal/security"
)

// 検証エラーメッセージ。
const (
	MsgTopicRequired    = "Please provide a topic. It cannot be empty or contain only spaces."
	MsgToneRequired     = "Please select a tone for your captions."
	MsgPlatformRequired = "Please select a platform for your captions."
	MsgToneInvalid      = "Please select a valid tone for your captions."
	MsgPlatformInvalid  = "Please select a valid platform for your captions."
)

// MsgTopicTooLong はトピック長超過時のメッセージ。
var MsgTopicTooLong = fmt.Sprintf("Topic cannot exceed %d characters.", model.MaxTopicLength)

// CaptionService は外部の生成AIサービスのインターフェース。
type CaptionService interface {
	GenerateCaptions(ctx context.Context, topic, tone, platform string) (gemini.Captions, error)
}

// Request は生成リクエスト。
type Request struct {
	Topic    string `json:"topic"`
	Tone     string `json:"tone"`
	Platform string `json:"platform"`
}

// Mediator は入力検証、生成AI呼び出し、出力の整形を行う。
// 永続状態は持たない。
type Mediator struct {
	service   CaptionService
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewMediator はMediatorを生成する。
// serviceがnilの場合、検証を通過した全てのリクエストはGenerationErrorになる。
// collectorはnilでもよい。
func NewMediator(service CaptionService, collector metrics.MetricsCollector) *Mediator {
	return &Mediator{
		service:   service,
		sanitizer: security.NewTextSanitizer(),
		metrics:   collector,
		logger:    slog.Default(),
	}
}

// Validate は生成リクエストを検証する。外部呼び出しは行わない。
func Validate(req Request) error {
	if strings.TrimSpace(req.Topic) == "" {
		return model.NewValidationError(MsgTopicRequired)
	}
	if utf8.RuneCountInString(req.Topic) > model.MaxTopicLength {
		return model.NewValidationError(MsgTopicTooLong)
	}
	if req.Tone == "" {
		return model.NewValidationError(MsgToneRequired)
	}
	if !model.IsValidTone(req.Tone) {
		return model.NewValidationError(MsgToneInvalid)
	}
	if req.Platform == "" {
		return model.NewValidationError(MsgPlatformRequired)
	}
	if !model.IsValidPlatform(req.Platform) {
		return model.NewValidationError(MsgPlatformInvalid)
	}
	return nil
}

// Generate はリクエストを検証し、生成AIを1回だけ呼び出して未保存のCaptionResultを返す。
// 検証エラーはValidationError、生成失敗は全てGenerationErrorとして返す。
func (m *Mediator) Generate(ctx context.Context, req Request) (model.CaptionResult, error) {
	if err := Validate(req); err != nil {
		return model.CaptionResult{}, err
	}

	if m.service == nil {
		m.recordFailure("unconfigured")
		m.logger.Warn("生成AIサービスが設定されていません")
		return model.CaptionResult{}, model.NewGenerationError()
	}

	start := time.Now()
	out, err := m.service.GenerateCaptions(ctx, req.Topic, req.Tone, req.Platform)
	if m.metrics != nil {
		m.metrics.RecordGenerationLatency(time.Since(start))
	}
	if err != nil {
		reason := "upstream"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			reason = "canceled"
		}
		m.recordFailure(reason)
		m.logger.Error("キャプション生成に失敗しました",
			slog.String("tone", req.Tone),
			slog.String("platform", req.Platform),
			slog.String("error", err.Error()),
		)
		return model.CaptionResult{}, model.NewGenerationError()
	}

	// 整形で空や重複が除かれた結果、件数が足りなければ部分的な結果は返さない
	captions := cleanCaptions(m.sanitizer, out.Captions)
	hashtags := cleanHashtags(m.sanitizer, out.Hashtags)
	if len(captions) > gemini.CaptionCount {
		captions = captions[:gemini.CaptionCount]
	}
	if len(hashtags) > gemini.MaxHashtags {
		hashtags = hashtags[:gemini.MaxHashtags]
	}
	if !wellFormed(captions, hashtags) {
		m.recordFailure("malformed")
		m.logger.Error("生成結果の件数が不足しています",
			slog.Int("captions", len(captions)),
			slog.Int("hashtags", len(hashtags)),
		)
		return model.CaptionResult{}, model.NewGenerationError()
	}

	if m.metrics != nil {
		m.metrics.RecordGenerationSuccess()
	}

	return model.CaptionResult{
		Captions: captions,
		Hashtags: hashtags,
		InputDetails: model.InputDetails{
			Topic:    req.Topic,
			Tone:     req.Tone,
			Platform: req.Platform,
		},
	}, nil
}

func (m *Mediator) recordFailure(reason string) {
	if m.metrics != nil {
		m.metrics.RecordGenerationFailure(reason)
	}
}
