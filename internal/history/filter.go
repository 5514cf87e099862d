// Package history は保存済みキャプション履歴に対する純粋な射影（検索・絞り込み）と
// 履歴スライスの操作を提供する。
package history

import (
	"sort"
	"strings"

	"github.com/hitoshi/captionly/internal/model"
)

// FilterAll は絞り込みを行わないことを表すセンチネル値。
const FilterAll = "all"

// Criteria は履歴の絞り込み条件。
type Criteria struct {
	Query    string
	Tone     string
	Platform string
}

// Filter は条件に一致するエントリを元の順序のまま返す。
// Queryはトピック・トーン・プラットフォームのいずれかに対する大文字小文字を区別しない部分一致。
// Tone/Platformは空またはFilterAllの場合に全件一致とする。
func Filter(entries []model.CaptionResult, c Criteria) []model.CaptionResult {
	query := strings.ToLower(strings.TrimSpace(c.Query))

	out := make([]model.CaptionResult, 0, len(entries))
	for _, e := range entries {
		if !matchesQuery(e, query) {
			continue
		}
		if !isAll(c.Tone) && e.InputDetails.Tone != c.Tone {
			continue
		}
		if !isAll(c.Platform) && e.InputDetails.Platform != c.Platform {
			continue
		}
		out = append(out, e)
	}
	return out
}

func isAll(v string) bool {
	return v == "" || v == FilterAll
}

func matchesQuery(e model.CaptionResult, query string) bool {
	if query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(e.InputDetails.Topic), query) ||
		strings.Contains(strings.ToLower(e.InputDetails.Tone), query) ||
		strings.Contains(strings.ToLower(e.InputDetails.Platform), query)
}

// Options は絞り込みUIの選択肢。
type Options struct {
	Tones     []string `json:"tones"`
	Platforms []string `json:"platforms"`
}

// FilterOptions は履歴に実在するトーン/プラットフォームの重複なしソート済み一覧を返す。
// 先頭は常にFilterAll。
func FilterOptions(entries []model.CaptionResult) Options {
	tones := map[string]struct{}{}
	platforms := map[string]struct{}{}
	for _, e := range entries {
		tones[e.InputDetails.Tone] = struct{}{}
		platforms[e.InputDetails.Platform] = struct{}{}
	}
	return Options{
		Tones:     withAll(tones),
		Platforms: withAll(platforms),
	}
}

func withAll(set map[string]struct{}) []string {
	values := make([]string, 0, len(set))
	for v := range set {
		if v == "" {
			continue
		}
		values = append(values, v)
	}
	sort.Strings(values)
	return append([]string{FilterAll}, values...)
}
