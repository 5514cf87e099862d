// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, auth, persistence, generation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryValidation  = "validation"
	CategoryAuth        = "auth"
	CategoryPersistence = "persistence"
	CategoryGeneration  = "generation"
	CategorySystem      = "system"
)

// 定義済みエラーコード
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeAuthFailed       = "AUTH_FAILED"
	ErrCodeAuthUnavailable  = "AUTH_UNAVAILABLE"
	ErrCodePersistence      = "PERSISTENCE_FAILED"
	ErrCodeGenerationFailed = "GENERATION_FAILED"
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeNotFound         = "NOT_FOUND"
)

// GenerationFailedMessage は生成失敗時にユーザーへ表示する固定メッセージ。
const GenerationFailedMessage = "Failed to generate captions. The AI model might be temporarily unavailable."

// AuthUnavailableMessage は認証基盤が未構成の場合のメッセージ。
const AuthUnavailableMessage = "Authentication is currently unavailable. Please check the application configuration."

// NewValidationError は入力検証エラーを生成する。
// 外部呼び出しの前に検出されるエラーに使用する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: CategoryValidation,
		Action:   "Please correct the input and try again.",
	}
}

// NewAuthError は認証エラーを生成する。
// messageはIdPのプレフィックスを除去した表示用メッセージ。
func NewAuthError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  message,
		Category: CategoryAuth,
		Action:   "Please check your credentials and sign in again.",
	}
}

// NewAuthUnavailableError は認証基盤が未構成の場合のエラーを生成する。
func NewAuthUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthUnavailable,
		Message:  AuthUnavailableMessage,
		Category: CategoryAuth,
		Action:   "Continue as a guest or contact the administrator.",
	}
}

// NewPersistenceError はドキュメントストアの書き込み失敗エラーを生成する。
func NewPersistenceError(message string) *APIError {
	return &APIError{
		Code:     ErrCodePersistence,
		Message:  message,
		Category: CategoryPersistence,
		Action:   "Please try again in a moment.",
	}
}

// NewGenerationError はキャプション生成失敗エラーを生成する。
// 部分的な結果は返さない。
func NewGenerationError() *APIError {
	return &APIError{
		Code:     ErrCodeGenerationFailed,
		Message:  GenerationFailedMessage,
		Category: CategoryGeneration,
		Action:   "Please try again.",
	}
}

// NewInvalidStateError は現在のセッション状態では実行できない操作のエラーを生成する。
func NewInvalidStateError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  message,
		Category: CategoryValidation,
		Action:   "Please reload the page and try again.",
	}
}

// NewNotFoundError は履歴エントリ等が見つからない場合のエラーを生成する。
func NewNotFoundError(what string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s not found.", what),
		Category: CategoryValidation,
		Action:   "Please check the identifier.",
	}
}
