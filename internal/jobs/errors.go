package jobs

// ジョブ状態エラーのコード。HTTPハンドラはこのコードでステータスを振り分けます。
const (
	CodeInvalidPayload    = "INVALID_PAYLOAD"
	CodeJobNotFound       = "JOB_NOT_FOUND"
	CodeJobNotReady       = "JOB_NOT_READY"
	CodeJobNotCancellable = "JOB_NOT_CANCELLABLE"
	CodeResultNotFound    = "JOB_RESULT_NOT_FOUND"
)

// Error はジョブ操作の失敗を表す型付きエラーです。
// Message は利用者向けの文言、Code は機械判定用の識別子です。
// Status にはジョブの現在状態が入ります（状態起因のエラーのみ）。
type Error struct {
	Code    string
	Message string
	Status  Status
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Code + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// newStateError は現在状態を添えたエラーを作ります。呼び出し側は状態を
// 確認してから再試行できます。
func newStateError(code, message string, status Status) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
	}
}
