// Package client は通知サービスの型付きRESTクライアントを提供する。
// notifywatchコマンドとpkg/notifysyncの同期エンジンが使用する。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// 通知の状態。サーバー側の状態列と同じ値を持つ。
const (
	StatusUnread   = "UNREAD"
	StatusRead     = "READ"
	StatusArchived = "ARCHIVED"
)

// Notification はAPIから取得した通知。
type Notification struct {
	// ID は通知の識別子。
	ID string `json:"id"`
	// RecipientID は通知を受け取るユーザーのID。
	RecipientID string `json:"recipientId"`
	// Type は通知の種類（EVENT_REMINDER、NEW_COMMENTなど）。
	Type string `json:"type"`
	// Status は既読状態（UNREAD、READ、ARCHIVED）。
	Status string `json:"status"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知の本文。
	Message string `json:"message"`
	// RelatedEventID は関連イベントのID。リマインド通知のみ設定される。
	RelatedEventID *string `json:"relatedEventId,omitempty"`
	// ReminderLeadHours はリマインド時間。リマインド通知のみ設定される。
	ReminderLeadHours *int `json:"reminderLeadHours,omitempty"`
	// CreatedAt は通知の作成日時。
	CreatedAt time.Time `json:"createdAt"`
	// ReadAt は既読にした日時。未読の場合はnil。
	ReadAt *time.Time `json:"readAt,omitempty"`
	// ArchivedAt はアーカイブした日時。未アーカイブの場合はnil。
	ArchivedAt *time.Time `json:"archivedAt,omitempty"`
}

// Pagination は一覧レスポンスのページネーション情報。
type Pagination struct {
	// CurrentPage は現在のページ番号（1始まり）。
	CurrentPage int `json:"currentPage"`
	// TotalPages は総ページ数。
	TotalPages int `json:"totalPages"`
	// TotalCount は絞り込み後の総件数。
	TotalCount int `json:"totalCount"`
	// HasMore は次のページが存在するかどうか。
	HasMore bool `json:"hasMore"`
}

// ListResult は通知一覧APIのレスポンス。
type ListResult struct {
	// Notifications は通知の配列。新しい順に並ぶ。
	Notifications []Notification `json:"notifications"`
	// Pagination はページネーション情報。
	Pagination Pagination `json:"pagination"`
}

// ListOptions は通知一覧取得の絞り込み条件。
type ListOptions struct {
	// IsRead は既読状態での絞り込み。nilの場合は絞り込まない。
	IsRead *bool
	// Type は通知種類での絞り込み。空文字列の場合は絞り込まない。
	Type string
	// Page は取得するページ番号（1始まり）。0以下の場合はサーバーのデフォルト。
	Page int
	// Limit は1ページあたりの件数。0以下の場合はサーバーのデフォルト。
	Limit int
}

// Client は通知サービスのAPIクライアント。
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New はAPIクライアントを生成する。
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListNotifications は自分宛の通知一覧を取得する。
func (c *Client) ListNotifications(ctx context.Context, opts ListOptions) (*ListResult, error) {
	params := url.Values{}
	if opts.IsRead != nil {
		params.Set("isRead", strconv.FormatBool(*opts.IsRead))
	}
	if opts.Type != "" {
		params.Set("type", opts.Type)
	}
	if opts.Page > 0 {
		params.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	path := "/api/v1/notifications/me"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var result ListResult
	if err := c.get(ctx, path, &result); err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return &result, nil
}

// UnreadCount は未読通知の件数を取得する。
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var result struct {
		UnreadCount int `json:"unreadCount"`
	}
	if err := c.get(ctx, "/api/v1/notifications/unread/count", &result); err != nil {
		return 0, fmt.Errorf("未読件数の取得に失敗: %w", err)
	}
	return result.UnreadCount, nil
}

// MarkRead は通知を既読にし、更新後の通知を返す。
func (c *Client) MarkRead(ctx context.Context, id string) (*Notification, error) {
	var n Notification
	if err := c.patch(ctx, "/api/v1/notifications/"+url.PathEscape(id)+"/read", &n); err != nil {
		return nil, fmt.Errorf("通知の既読化に失敗: %w", err)
	}
	return &n, nil
}

// MarkAllRead は自分宛の全未読通知を既読にし、更新件数を返す。
func (c *Client) MarkAllRead(ctx context.Context) (int, error) {
	var result struct {
		UpdatedCount int `json:"updatedCount"`
	}
	if err := c.patch(ctx, "/api/v1/notifications/read-all", &result); err != nil {
		return 0, fmt.Errorf("全件既読化に失敗: %w", err)
	}
	return result.UpdatedCount, nil
}

// Archive は通知をアーカイブし、更新後の通知を返す。
func (c *Client) Archive(ctx context.Context, id string) (*Notification, error) {
	var n Notification
	if err := c.patch(ctx, "/api/v1/notifications/"+url.PathEscape(id)+"/archive", &n); err != nil {
		return nil, fmt.Errorf("通知のアーカイブに失敗: %w", err)
	}
	return &n, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) patch(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodPatch, path, nil, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディの作成に失敗: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("リクエストの作成に失敗: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("リクエストの実行に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// エラーボディは1MBまでに制限して読む
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("ボディの読み込みに失敗: %v", readErr)}
		}
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Error}
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("レスポンスのデコードに失敗: %w", err)
		}
	}
	return nil
}
