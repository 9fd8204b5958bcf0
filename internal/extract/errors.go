package extract

// パイプラインの致命エラーコード。ワーカーがジョブレコードへ転記します。
const (
	CodeInvalidInput   = "INVALID_INPUT"
	CodeTextExtraction = "TEXT_EXTRACTION_FAILED"
	CodeWorkspace      = "WORKSPACE_ERROR"
	CodeNLIUnavailable = "NLI_UNAVAILABLE"
)

// Error は抽出パイプラインの失敗を表す型付きエラーです。
type Error struct {
	Code    string
	Message string
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
