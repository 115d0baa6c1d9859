package notification

import (
	"context"
	"testing"
)

// testContext はテスト終了時にキャンセルされる Context を返す。
// go1.21 の testing パッケージには T.Context が無いための代替。
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
