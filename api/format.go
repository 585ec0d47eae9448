package api

import (
	"errors"
	"net/http"
	"strings"
)

// User-facing texts shown in the chat transcript.
const (
	MsgSessionExpired = "⚠️ Phiên đăng nhập đã hết hạn. Vui lòng đăng nhập lại để tiếp tục trò chuyện."
	MsgUnauthorized   = "🔐 Không có quyền truy cập. Vui lòng đăng nhập lại."
	MsgForbidden      = "🚫 Bạn không có quyền sử dụng tính năng này."
	MsgRateLimited    = "⏰ Bạn đã gửi quá nhiều tin nhắn. Vui lòng thử lại sau ít phút."
	MsgMaintenance    = "🔧 Máy chủ đang bảo trì. Vui lòng thử lại sau."
	MsgGeneric        = "Xin lỗi, đã có lỗi xảy ra. Vui lòng thử lại sau."
	MsgLoginRequired  = "Vui lòng đăng nhập để sử dụng tính năng chat."
	MsgNoAnswer       = "Xin lỗi, tôi không hiểu câu hỏi của bạn."
)

// FormatError converts err into the text displayed to the user.
func FormatError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrAuthExpired):
		return MsgSessionExpired
	case errors.Is(err, ErrForbidden):
		return MsgForbidden
	case errors.Is(err, ErrRateLimited):
		return MsgRateLimited
	case errors.Is(err, ErrServer):
		return MsgMaintenance
	}
	return FormatErrorText(err.Error())
}

// FormatStatus maps a bare HTTP status code to the user-facing text.
func FormatStatus(code int) string {
	switch code {
	case http.StatusUnauthorized:
		return MsgSessionExpired
	case http.StatusForbidden:
		return MsgForbidden
	case http.StatusTooManyRequests:
		return MsgRateLimited
	case http.StatusInternalServerError:
		return MsgMaintenance
	default:
		return MsgGeneric
	}
}

// FormatErrorText applies the substring table to a raw error string, for
// errors that did not come out of CheckResponse.
func FormatErrorText(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "token"), strings.Contains(lower, "xác thực"):
		return MsgSessionExpired
	case strings.Contains(text, "HTTP 401"):
		return MsgUnauthorized
	case strings.Contains(text, "HTTP 403"):
		return MsgForbidden
	case strings.Contains(text, "HTTP 429"):
		return MsgRateLimited
	case strings.Contains(text, "HTTP 500"):
		return MsgMaintenance
	default:
		return MsgGeneric
	}
}

// IsAuthError reports whether err (or its text) points at a missing or
// rejected login. The chat UI offers a re-login action for these.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthRequired) || errors.Is(err, ErrAuthExpired) {
		return true
	}
	return IsAuthErrorText(err.Error())
}

// IsAuthErrorText is IsAuthError for errors already rendered to text.
func IsAuthErrorText(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "token") ||
		strings.Contains(lower, "xác thực") ||
		strings.Contains(lower, "đăng nhập") ||
		strings.Contains(text, "401")
}
