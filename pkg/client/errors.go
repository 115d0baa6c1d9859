package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// HTTPError はAPIからの非2xxレスポンスを表す。
type HTTPError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Message はサーバーが返したエラーメッセージ。
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus はerr（またはラップされたエラー）が指定のステータスコードの
// HTTPErrorかどうかを判定する。
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}

// IsNotFound は対象の通知が存在しないエラーかどうかを判定する。
func IsNotFound(err error) bool {
	return IsStatus(err, 404)
}

// IsUnauthorized は認証・認可エラーかどうかを判定する。
// トークン不備の401と他ユーザーの通知への操作の403が該当する。
func IsUnauthorized(err error) bool {
	return IsStatus(err, 401) || IsStatus(err, 403)
}

// IsTransient は再試行で回復しうる失敗かどうかを判定する。
// サーバー側の障害(5xx)、タイムアウト、接続エラーが該当する。
// 呼び出し側によるキャンセルは再試行対象ではない。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
