package model

import (
	"encoding/json"
	"strings"
)

// MaxTopicLength はトピックの最大文字数。
const MaxTopicLength = 1000

// Tones は選択可能なトーンの一覧。
var Tones = []string{
	"Casual", "Formal", "Humorous", "Inspirational", "Professional", "Witty",
	"Sarcastic", "Enthusiastic", "Poetic", "Mysterious", "Urgent",
}

// Platforms は生成対象として選択可能なプラットフォームの一覧。
var Platforms = []string{
	"Instagram", "TikTok", "LinkedIn", "Twitter (X)", "Facebook", "Threads", "YouTube", "Pinterest",
}

// Integrations はプロフィールで接続可能なプラットフォームの一覧。
var Integrations = []string{
	"Instagram", "TikTok", "LinkedIn", "Twitter", "Facebook", "Threads", "YouTube", "Pinterest",
}

// IsValidTone は指定トーンが定義済みかどうかを返す。
func IsValidTone(tone string) bool {
	return contains(Tones, tone)
}

// IsValidPlatform は指定プラットフォームが生成対象として定義済みかどうかを返す。
func IsValidPlatform(platform string) bool {
	return contains(Platforms, platform)
}

// IsValidIntegration は指定プラットフォームが接続対象として定義済みかどうかを返す。
func IsValidIntegration(platform string) bool {
	return contains(Integrations, platform)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// InputDetails は生成リクエストの入力値。
type InputDetails struct {
	Topic    string `json:"topic"`
	Tone     string `json:"tone"`
	Platform string `json:"platform"`
}

// CaptionResult は生成結果を表す。
// HistoryIDは保存されるまでゼロ値。
type CaptionResult struct {
	HistoryID    HistoryID    `json:"historyId"`
	Captions     []string     `json:"captions"`
	Hashtags     []string     `json:"hashtags"`
	InputDetails InputDetails `json:"inputDetails"`
}

// WithHistoryID はHistoryIDを差し替えたコピーを返す。
func (r CaptionResult) WithHistoryID(id HistoryID) CaptionResult {
	r.HistoryID = id
	r.Captions = append([]string(nil), r.Captions...)
	r.Hashtags = append([]string(nil), r.Hashtags...)
	return r
}

// localIDPrefix はクライアント専用IDのテキスト表現に付与するプレフィックス。
// ワイヤ形式の境界でのみ使用する。
const localIDPrefix = "local-"

type historyIDKind uint8

const (
	historyIDNone historyIDKind = iota
	historyIDPersisted
	historyIDLocal
)

// HistoryID は履歴エントリの識別子。
// ドキュメントストアが採番した Persisted と、クライアント側で採番した Local のいずれか。
type HistoryID struct {
	kind  historyIDKind
	value string
}

// PersistedID はドキュメントストアが採番したIDを表すHistoryIDを返す。
func PersistedID(id string) HistoryID {
	if id == "" {
		return HistoryID{}
	}
	return HistoryID{kind: historyIDPersisted, value: id}
}

// LocalID はクライアント専用トークンを表すHistoryIDを返す。
func LocalID(token string) HistoryID {
	if token == "" {
		return HistoryID{}
	}
	return HistoryID{kind: historyIDLocal, value: token}
}

// ParseHistoryID はテキスト表現からHistoryIDを復元する。
// 空文字列はゼロ値になる。
func ParseHistoryID(s string) HistoryID {
	s = strings.TrimSpace(s)
	if s == "" {
		return HistoryID{}
	}
	if token, ok := strings.CutPrefix(s, localIDPrefix); ok {
		return LocalID(token)
	}
	return PersistedID(s)
}

// IsZero はIDが未割り当てかどうかを返す。
func (h HistoryID) IsZero() bool { return h.kind == historyIDNone }

// IsLocal はクライアント専用IDかどうかを返す。
func (h HistoryID) IsLocal() bool { return h.kind == historyIDLocal }

// IsPersisted はドキュメントストアが採番したIDかどうかを返す。
func (h HistoryID) IsPersisted() bool { return h.kind == historyIDPersisted }

// Value はタグを除いたIDの値を返す。
func (h HistoryID) Value() string { return h.value }

// String はワイヤ形式のテキスト表現を返す。
func (h HistoryID) String() string {
	switch h.kind {
	case historyIDLocal:
		return localIDPrefix + h.value
	case historyIDPersisted:
		return h.value
	default:
		return ""
	}
}

// MarshalJSON はゼロ値をnull、それ以外をテキスト表現で出力する。
func (h HistoryID) MarshalJSON() ([]byte, error) {
	if h.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(h.String())
}

// UnmarshalJSON はnullまたは文字列からHistoryIDを復元する。
func (h *HistoryID) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil {
		*h = HistoryID{}
		return nil
	}
	*h = ParseHistoryID(*s)
	return nil
}
