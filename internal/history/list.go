package history

import (
	"strings"

	"github.com/hitoshi/captionly/internal/model"
)

// Contains はHistoryIDを持つエントリが存在するかどうかを返す。ゼロ値は常にfalse。
func Contains(entries []model.CaptionResult, id model.HistoryID) bool {
	return Index(entries, id) >= 0
}

// Index はHistoryIDに一致するエントリの位置を返す。見つからない場合は-1。
func Index(entries []model.CaptionResult, id model.HistoryID) int {
	if id.IsZero() {
		return -1
	}
	for i, e := range entries {
		if e.HistoryID == id {
			return i
		}
	}
	return -1
}

// Prepend は新しいエントリを先頭に追加した新しいスライスを返す。
func Prepend(entries []model.CaptionResult, e model.CaptionResult) []model.CaptionResult {
	out := make([]model.CaptionResult, 0, len(entries)+1)
	out = append(out, e)
	return append(out, entries...)
}

// Remove はHistoryIDに一致するエントリを除いた新しいスライスを返す。
func Remove(entries []model.CaptionResult, id model.HistoryID) []model.CaptionResult {
	out := make([]model.CaptionResult, 0, len(entries))
	for _, e := range entries {
		if !id.IsZero() && e.HistoryID == id {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Dedupe はHistoryIDの重複を先勝ちで除去する。ゼロ値のエントリは除外する。
func Dedupe(entries []model.CaptionResult) []model.CaptionResult {
	seen := make(map[model.HistoryID]struct{}, len(entries))
	out := make([]model.CaptionResult, 0, len(entries))
	for _, e := range entries {
		if e.HistoryID.IsZero() {
			continue
		}
		if _, ok := seen[e.HistoryID]; ok {
			continue
		}
		seen[e.HistoryID] = struct{}{}
		out = append(out, e)
	}
	return out
}

// HashtagText はハッシュタグを空白区切りで連結する。
func HashtagText(e model.CaptionResult) string {
	return strings.Join(e.Hashtags, " ")
}

// ShareText は共有・コピー用にキャプションとハッシュタグを連結する。
func ShareText(caption string, e model.CaptionResult) string {
	tags := HashtagText(e)
	if tags == "" {
		return caption
	}
	return caption + "\n\n" + tags
}
