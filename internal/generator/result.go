package generator

import (
	"fmt"
	"strings"

	"github.com/hitoshi/captionly/internal/gemini"
	"github.com/hitoshi/captionly/internal/model"
	"github.com/hitoshi/captionly/internal/security"
)

// MsgMalformedResult は保存しようとした生成結果の形が不正な場合のメッセージ。
var MsgMalformedResult = fmt.Sprintf("A caption result must have exactly %d captions and %d to %d hashtags.",
	gemini.CaptionCount, gemini.MinHashtags, gemini.MaxHashtags)

var plainText = security.NewTextSanitizer()

// cleanCaptions はマークアップを除去し、空になったキャプションを取り除く。
func cleanCaptions(s security.TextSanitizer, raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		if c = s.Sanitize(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// cleanHashtags はマークアップと空白を除去し、先頭に#を付与して大文字小文字を無視した重複を除く。
func cleanHashtags(s security.TextSanitizer, raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, h := range raw {
		h = strings.Join(strings.Fields(s.Sanitize(h)), "")
		h = strings.TrimLeft(h, "#")
		if h == "" {
			continue
		}
		h = "#" + h
		key := strings.ToLower(h)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h)
	}
	return out
}

// wellFormed は整形済みのキャプションとハッシュタグの件数が揃っているかを返す。
func wellFormed(captions, hashtags []string) bool {
	return len(captions) == gemini.CaptionCount &&
		len(hashtags) >= gemini.MinHashtags && len(hashtags) <= gemini.MaxHashtags
}

// NormalizeResult はクライアントから受け取った生成結果を生成時と同じ規則で整形し、形を検証する。
// 入力内容はValidateで、キャプションとハッシュタグは整形後の件数で検証する。
// 件数が揃わない場合は切り詰めずにValidationErrorを返す。
func NormalizeResult(result model.CaptionResult) (model.CaptionResult, error) {
	err := Validate(Request{
		Topic:    result.InputDetails.Topic,
		Tone:     result.InputDetails.Tone,
		Platform: result.InputDetails.Platform,
	})
	if err != nil {
		return model.CaptionResult{}, err
	}

	captions := cleanCaptions(plainText, result.Captions)
	hashtags := cleanHashtags(plainText, result.Hashtags)
	if !wellFormed(captions, hashtags) {
		return model.CaptionResult{}, model.NewValidationError(MsgMalformedResult)
	}

	result.Captions = captions
	result.Hashtags = hashtags
	return result, nil
}
