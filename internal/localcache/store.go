// Package localcache はクライアントごとのローカル永続キャッシュを提供する。
// ゲスト/オフライン時の履歴・接続済みアカウント・ゲストフラグ・セッションユーザーを
// JSONブロブとして保持する。
package localcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/captionly/internal/model"
)

// キャッシュキー
const (
	KeyHistory           = "history"
	KeyConnectedAccounts = "connected_accounts"
	KeyIsGuest           = "is_guest"
	KeyUser              = "user"
)

// AllKeys はクリア対象の全キー。
var AllKeys = []string{KeyHistory, KeyConnectedAccounts, KeyIsGuest, KeyUser}

// ErrNotFound はキーが存在しない場合に返される。
var ErrNotFound = errors.New("localcache: key not found")

// Store はクライアントIDごとの文字列キーでJSONブロブを読み書きするインターフェース。
type Store interface {
	// Get は値を取得する。存在しない場合はErrNotFoundを返す。
	Get(ctx context.Context, clientID, key string) ([]byte, error)
	// Set は値を保存する。
	Set(ctx context.Context, clientID, key string, value []byte) error
	// Remove は値を削除する。存在しない場合もエラーにしない。
	Remove(ctx context.Context, clientID, key string) error
}

func getJSON(ctx context.Context, s Store, clientID, key string, v any) (bool, error) {
	data, err := s.Get(ctx, clientID, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func setJSON(ctx context.Context, s Store, clientID, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, clientID, key, data)
}

// LoadHistory はキャッシュされた履歴を返す。未保存の場合は空スライス。
func LoadHistory(ctx context.Context, s Store, clientID string) ([]model.CaptionResult, error) {
	history := []model.CaptionResult{}
	if _, err := getJSON(ctx, s, clientID, KeyHistory, &history); err != nil {
		return []model.CaptionResult{}, err
	}
	if history == nil {
		history = []model.CaptionResult{}
	}
	return history, nil
}

// SaveHistory は履歴をキャッシュに書き込む。
func SaveHistory(ctx context.Context, s Store, clientID string, history []model.CaptionResult) error {
	return setJSON(ctx, s, clientID, KeyHistory, history)
}

// LoadAccounts はキャッシュされた接続済みアカウントを返す。
func LoadAccounts(ctx context.Context, s Store, clientID string) ([]string, error) {
	accounts := []string{}
	if _, err := getJSON(ctx, s, clientID, KeyConnectedAccounts, &accounts); err != nil {
		return []string{}, err
	}
	if accounts == nil {
		accounts = []string{}
	}
	return accounts, nil
}

// SaveAccounts は接続済みアカウントをキャッシュに書き込む。
func SaveAccounts(ctx context.Context, s Store, clientID string, accounts []string) error {
	return setJSON(ctx, s, clientID, KeyConnectedAccounts, accounts)
}

// IsGuest はゲストフラグを返す。
func IsGuest(ctx context.Context, s Store, clientID string) (bool, error) {
	var guest bool
	if _, err := getJSON(ctx, s, clientID, KeyIsGuest, &guest); err != nil {
		return false, err
	}
	return guest, nil
}

// SetGuest はゲストフラグを書き込む。
func SetGuest(ctx context.Context, s Store, clientID string) error {
	return setJSON(ctx, s, clientID, KeyIsGuest, true)
}

// LoadUser はキャッシュされたセッションユーザーを返す。未保存の場合はnil。
func LoadUser(ctx context.Context, s Store, clientID string) (*model.User, error) {
	var user model.User
	found, err := getJSON(ctx, s, clientID, KeyUser, &user)
	if err != nil || !found {
		return nil, err
	}
	return &user, nil
}

// SaveUser はセッションユーザーをキャッシュに書き込む。
func SaveUser(ctx context.Context, s Store, clientID string, user *model.User) error {
	return setJSON(ctx, s, clientID, KeyUser, user)
}

// Clear は全キーを削除する。最初に発生したエラーを返すが、残りのキーの削除は継続する。
func Clear(ctx context.Context, s Store, clientID string) error {
	var firstErr error
	for _, key := range AllKeys {
		if err := s.Remove(ctx, clientID, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
