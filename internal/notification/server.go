package notification

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/eventhub/internal/eventsource"
	"github.com/nao1215/eventhub/internal/scheduler"
	"github.com/nao1215/eventhub/pkg/middleware"
)

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサービスの設定。
	cfg *Config
	// store は通知ストレージ。
	store *Store
	// scheduler はリマインド通知のスケジューラー。設定で無効化されている場合はnil。
	scheduler *scheduler.Scheduler
}

// NewServer は新しい通知サーバーを生成する。
// SQLiteデータベースの初期化とマイグレーション、スケジューラーの起動を行う。
func NewServer(cfg *Config) (*Server, error) {
	store, err := NewStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("通知ストレージの初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router: router,
		cfg:    cfg,
		store:  store,
	}

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(eventsource.New(cfg.Catalog.BaseURL), store, nil, scheduler.Options{
			Schedule:         cfg.Scheduler.Schedule,
			LookaheadHours:   cfg.Scheduler.LookaheadHours,
			DefaultLeadHours: cfg.Scheduler.DefaultLeadHours,
			DedupRetention:   time.Duration(cfg.Scheduler.DedupRetentionHours) * time.Hour,
		})
		if err != nil {
			return nil, fmt.Errorf("スケジューラーの初期化に失敗: %w", err)
		}
		if err := sched.Start(); err != nil {
			return nil, fmt.Errorf("スケジューラーの起動に失敗: %w", err)
		}
		s.scheduler = sched
	}

	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.cfg.Port))
}

// Shutdown はスケジューラーを停止し、データベース接続を閉じる。
func (s *Server) Shutdown() error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	return s.store.Close()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.cfg.JWT.Secret))
	{
		notifications := api.Group("/notifications")
		{
			// 自分宛の通知一覧取得
			notifications.GET("/me", s.handleList())
			// 未読通知件数取得
			notifications.GET("/unread/count", s.handleUnreadCount())
			// 通知を既読にする
			notifications.PATCH("/:id/read", s.handleMarkRead())
			// 全通知を既読にする
			notifications.PATCH("/read-all", s.handleMarkAllRead())
			// 通知をアーカイブする
			notifications.PATCH("/:id/archive", s.handleArchive())
		}
	}

	// 内部API（他サービスと運用ツールから呼び出される。JWT認証は通らない）
	internal := s.router.Group("/internal/api/v1")
	{
		// 通知作成
		internal.POST("/notifications", s.handleCreate())
		// スケジューラーの手動実行
		internal.POST("/scheduler/run", s.handleSchedulerRun())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// RecipientID は通知先のユーザーID。
	RecipientID string `json:"recipientId"`
	// Type は通知の種類。
	Type string `json:"type"`
	// Status は通知の状態。
	Status string `json:"status"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// RelatedEventID は関連イベントのID。関連イベントがない場合は省略される。
	RelatedEventID *string `json:"relatedEventId,omitempty"`
	// ReminderLeadHours はリマインド時間。リマインド通知以外では省略される。
	ReminderLeadHours *int `json:"reminderLeadHours,omitempty"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"createdAt"`
	// ReadAt は既読日時（RFC3339形式）。未読の場合は省略される。
	ReadAt *string `json:"readAt,omitempty"`
	// ArchivedAt はアーカイブ日時（RFC3339形式）。未アーカイブの場合は省略される。
	ArchivedAt *string `json:"archivedAt,omitempty"`
}

// toNotificationResponse はストレージの通知をJSONレスポンスに変換する。
func toNotificationResponse(n Notification) notificationResponse {
	resp := notificationResponse{
		ID:                n.ID,
		RecipientID:       n.RecipientID,
		Type:              string(n.Type),
		Status:            string(n.Status),
		Title:             n.Title,
		Message:           n.Message,
		RelatedEventID:    n.RelatedEventID,
		ReminderLeadHours: n.ReminderLeadHours,
		CreatedAt:         n.CreatedAt.UTC().Format(time.RFC3339),
	}
	if n.ReadAt != nil {
		readAt := n.ReadAt.UTC().Format(time.RFC3339)
		resp.ReadAt = &readAt
	}
	if n.ArchivedAt != nil {
		archivedAt := n.ArchivedAt.UTC().Format(time.RFC3339)
		resp.ArchivedAt = &archivedAt
	}
	return resp
}

// toNotificationResponses はストレージの通知スライスをJSONレスポンスのスライスに変換する。
func toNotificationResponses(notifications []Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		responses = append(responses, toNotificationResponse(n))
	}
	return responses
}

// paginationResponse はページネーション情報のJSON構造。
type paginationResponse struct {
	// CurrentPage は現在のページ番号（1始まり）。
	CurrentPage int `json:"currentPage"`
	// TotalPages は総ページ数。
	TotalPages int `json:"totalPages"`
	// TotalCount は絞り込み条件に一致する通知の総数。
	TotalCount int `json:"totalCount"`
	// HasMore は次のページが存在するかどうか。
	HasMore bool `json:"hasMore"`
}

// listResponse は通知一覧のJSONレスポンス構造。
type listResponse struct {
	// Notifications は通知の一覧。
	Notifications []notificationResponse `json:"notifications"`
	// Pagination はページネーション情報。
	Pagination paginationResponse `json:"pagination"`
}

// parseListQuery は通知一覧取得のクエリパラメータを解析する。
// limitは1以上maxPageSize以下に丸め、pageは1以上に丸める。
func parseListQuery(c *gin.Context) (ListFilter, int, int, error) {
	var filter ListFilter

	switch c.Query("isRead") {
	case "":
	case "true":
		status := StatusRead
		filter.Status = &status
	case "false":
		status := StatusUnread
		filter.Status = &status
	default:
		return filter, 0, 0, errors.New("isReadはtrueまたはfalseを指定してください")
	}

	if raw := c.Query("type"); raw != "" {
		typ := Type(raw)
		if !typ.Valid() {
			return filter, 0, 0, fmt.Errorf("不明な通知種類です: %s", raw)
		}
		filter.Type = &typ
	}

	page := 1
	if raw := c.Query("page"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return filter, 0, 0, errors.New("pageには整数を指定してください")
		}
		if v > 1 {
			page = v
		}
	}

	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return filter, 0, 0, errors.New("limitには整数を指定してください")
		}
		switch {
		case v < 1:
			limit = 1
		case v > maxPageSize:
			limit = maxPageSize
		default:
			limit = v
		}
	}

	return filter, page, limit, nil
}

// handleList は認証済みユーザーの通知一覧をページネーション付きで返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		filter, page, limit, err := parseListQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		notifications, total, err := s.store.List(c.Request.Context(), userID, filter, page, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			log.Printf("通知一覧取得エラー: %v", err)
			return
		}

		totalPages := (total + limit - 1) / limit
		c.JSON(http.StatusOK, listResponse{
			Notifications: toNotificationResponses(notifications),
			Pagination: paginationResponse{
				CurrentPage: page,
				TotalPages:  totalPages,
				TotalCount:  total,
				HasMore:     page < totalPages,
			},
		})
	}
}

// handleUnreadCount は認証済みユーザーの未読通知件数を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		count, err := s.store.UnreadCount(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読件数の取得に失敗しました"})
			log.Printf("未読件数取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"unreadCount": count})
	}
}

// handleMarkRead は指定された通知を既読にするハンドラ。
// 既に既読またはアーカイブ済みの場合は現在の状態をそのまま返す。
func (s *Server) handleMarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		n, err := s.store.MarkRead(c.Request.Context(), userID, c.Param("id"))
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
		case errors.Is(err, ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			log.Printf("通知既読処理エラー: %v", err)
		default:
			c.JSON(http.StatusOK, toNotificationResponse(n))
		}
	}
}

// handleMarkAllRead は認証済みユーザーの全未読通知を既読にするハンドラ。
func (s *Server) handleMarkAllRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		updated, err := s.store.MarkAllRead(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			log.Printf("全通知既読処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"updatedCount": updated})
	}
}

// handleArchive は指定された通知をアーカイブするハンドラ。
// 既にアーカイブ済みの場合は現在の状態をそのまま返す。
func (s *Server) handleArchive() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		n, err := s.store.Archive(c.Request.Context(), userID, c.Param("id"))
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
		case errors.Is(err, ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知のアーカイブ処理に失敗しました"})
			log.Printf("通知アーカイブ処理エラー: %v", err)
		default:
			c.JSON(http.StatusOK, toNotificationResponse(n))
		}
	}
}

// createRequest は通知作成リクエストのJSON構造。
type createRequest struct {
	// RecipientID は通知先のユーザーID。
	RecipientID string `json:"recipientId" binding:"required"`
	// Type は通知の種類。
	Type string `json:"type" binding:"required"`
	// Title は通知のタイトル。
	Title string `json:"title" binding:"required"`
	// Message は通知メッセージ。
	Message string `json:"message" binding:"required"`
	// RelatedEventID は関連イベントのID。
	RelatedEventID *string `json:"relatedEventId"`
	// ReminderLeadHours はリマインド時間。EVENT_REMINDERでは必須。
	ReminderLeadHours *int `json:"reminderLeadHours"`
}

// handleCreate は通知を作成するハンドラ。
// 内部API（他サービスから呼び出される）。同一のリマインド通知が
// 既に存在する場合は作成せず200を返す。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		n, err := s.store.Create(c.Request.Context(), CreateParams{
			RecipientID:       req.RecipientID,
			Type:              Type(req.Type),
			Title:             req.Title,
			Message:           req.Message,
			RelatedEventID:    req.RelatedEventID,
			ReminderLeadHours: req.ReminderLeadHours,
		})
		switch {
		case errors.Is(err, ErrDuplicateReminder):
			c.JSON(http.StatusOK, gin.H{"duplicate": true, "message": "同一のリマインド通知が既に存在します"})
		case errors.Is(err, ErrInvalidParams):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の作成に失敗しました"})
			log.Printf("通知作成エラー: %v", err)
		default:
			c.JSON(http.StatusCreated, toNotificationResponse(n))
		}
	}
}

// handleSchedulerRun はスケジューラーのtickを即時実行するハンドラ。
// 内部API（運用時の手動実行用）。tickの完了を待ってから応答する。
func (s *Server) handleSchedulerRun() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.scheduler == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "スケジューラーは無効化されています"})
			return
		}

		switch err := s.scheduler.RunNow(); {
		case errors.Is(err, scheduler.ErrAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{"error": "スケジューラーは既に実行中です"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "スケジューラーの実行に失敗しました"})
			log.Printf("スケジューラー実行エラー: %v", err)
		default:
			c.JSON(http.StatusAccepted, gin.H{"status": "実行しました"})
		}
	}
}
