package model

import "time"

// Screen はUIの画面を表す。
type Screen string

const (
	ScreenHome    Screen = "home"
	ScreenHistory Screen = "history"
	ScreenPricing Screen = "pricing"
	ScreenProfile Screen = "profile"
)

// ParseScreen は文字列から画面を解析する。未定義の場合はfalseを返す。
func ParseScreen(s string) (Screen, bool) {
	switch Screen(s) {
	case ScreenHome, ScreenHistory, ScreenPricing, ScreenProfile:
		return Screen(s), true
	default:
		return "", false
	}
}

// NotificationKind は通知の種類。
type NotificationKind string

const (
	NotificationSuccess NotificationKind = "success"
	NotificationError   NotificationKind = "error"
	NotificationInfo    NotificationKind = "info"
)

// Notification は一時的に表示される単一スロットの通知。
type Notification struct {
	Message   string           `json:"message"`
	Kind      NotificationKind `json:"kind"`
	ExpiresAt time.Time        `json:"expiresAt"`
}
