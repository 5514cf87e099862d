package auth

import "errors"

// errorPrefix はIdPのエラーメッセージに付与されるプレフィックス。
// 表示時にはDisplayMessageで除去する。
const errorPrefix = "auth: "

// Error はユーザーに表示可能なIdPエラー。
type Error struct {
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	return errorPrefix + e.Message
}

// 定義済みエラー
var (
	ErrInvalidCredentials  = &Error{Code: "invalid-credential", Message: "Invalid email or password."}
	ErrEmailAlreadyInUse   = &Error{Code: "email-already-in-use", Message: "This email is already registered."}
	ErrInvalidEmail        = &Error{Code: "invalid-email", Message: "The email address is badly formatted."}
	ErrWeakPassword        = &Error{Code: "weak-password", Message: "Password should be at least 6 characters."}
	ErrUnsupportedProvider = &Error{Code: "unsupported-provider", Message: "This sign-in provider is not enabled."}
	ErrFederatedSignIn     = &Error{Code: "federated-sign-in-failed", Message: "Sign-in with the provider failed. Please try again."}
	ErrInternal            = &Error{Code: "internal-error", Message: "An internal error occurred. Please try again."}
)

// DisplayMessage はエラーからプレフィックスを除いた表示用メッセージを返す。
// IdPのエラー以外（インフラ障害等）は汎用メッセージに置き換える。
func DisplayMessage(err error) string {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return ErrInternal.Message
}
