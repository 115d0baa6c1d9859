// Package eventsource はイベントカタログサービスからリマインド対象を取得するクライアントを提供する。
package eventsource

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/nao1215/eventhub/pkg/event"
	"github.com/nao1215/eventhub/pkg/httpclient"
)

// Client はイベントカタログサービスのAPIを呼び出すクライアント。
// スケジューラーのEventSourceとして動作する。
type Client struct {
	// http はカタログサービスへのHTTPクライアント。
	http *httpclient.Client
}

// New は新しいイベントカタログクライアントを生成する。
// baseURLにはカタログサービスのベースURL（例: "http://localhost:8081"）を指定する。
func New(baseURL string) *Client {
	return &Client{http: httpclient.New(baseURL)}
}

// UpcomingEvents はfromからtoまでの間に開始する公開済みイベントを取得する。
func (c *Client) UpcomingEvents(ctx context.Context, from, to time.Time) ([]event.Event, error) {
	query := url.Values{}
	query.Set("from", from.UTC().Format(time.RFC3339))
	query.Set("to", to.UTC().Format(time.RFC3339))
	query.Set("status", "published")

	var events []event.Event
	if err := c.http.GetJSON(ctx, "/api/v1/events?"+query.Encode(), &events); err != nil {
		return nil, fmt.Errorf("開催予定イベントの取得に失敗: %w", err)
	}
	return events, nil
}

// EligibleRecipients は指定イベントのリマインド対象者を取得する。
// 対象者は参加登録済みでリマインドを有効にしているユーザーに限られる。
func (c *Client) EligibleRecipients(ctx context.Context, eventID string) ([]event.Recipient, error) {
	path := fmt.Sprintf("/api/v1/events/%s/recipients", url.PathEscape(eventID))

	var recipients []event.Recipient
	if err := c.http.GetJSON(ctx, path, &recipients); err != nil {
		return nil, fmt.Errorf("リマインド対象者の取得に失敗 (event_id=%s): %w", eventID, err)
	}
	return recipients, nil
}
