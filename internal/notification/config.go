package notification

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config は通知サービスの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `mapstructure:"port"`
	// Database はデータベース設定。
	Database DatabaseConfig `mapstructure:"database"`
	// JWT は認証トークン設定。
	JWT JWTConfig `mapstructure:"jwt"`
	// Catalog はイベントカタログサービスへの接続設定。
	Catalog CatalogConfig `mapstructure:"catalog"`
	// Scheduler はリマインドスケジューラーの設定。
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// DatabaseConfig はSQLiteデータベースの設定。
type DatabaseConfig struct {
	// Path はデータベースファイルのパス。
	Path string `mapstructure:"path"`
}

// JWTConfig はJWT認証の設定。
type JWTConfig struct {
	// Secret はトークン署名のシークレット。
	Secret string `mapstructure:"secret"`
}

// CatalogConfig はイベントカタログサービスの接続設定。
type CatalogConfig struct {
	// BaseURL はカタログサービスのベースURL。
	BaseURL string `mapstructure:"base_url"`
}

// SchedulerConfig はリマインドスケジューラーの設定。
type SchedulerConfig struct {
	// Enabled はスケジューラーを起動するかどうか。
	Enabled bool `mapstructure:"enabled"`
	// Schedule はtick実行タイミングのcron式。
	Schedule string `mapstructure:"schedule"`
	// LookaheadHours はイベント走査の先読み時間。
	LookaheadHours int `mapstructure:"lookahead_hours"`
	// DefaultLeadHours は受信者が設定を持たない場合のリマインド時間。
	DefaultLeadHours int `mapstructure:"default_lead_hours"`
	// DedupRetentionHours は重複排除記録の保持時間。
	DedupRetentionHours int `mapstructure:"dedup_retention_hours"`
}

// LoadConfig は設定ファイルと環境変数から設定を読み込む。
// eventhub.yamlが存在しない場合はデフォルト値と環境変数のみで構成する。
// 環境変数はEVENTHUB_接頭辞で指定する（例: EVENTHUB_PORT、EVENTHUB_SCHEDULER_SCHEDULE）。
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("eventhub")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/eventhub")

	v.SetDefault("port", "8086")
	v.SetDefault("database.path", "/data/notification.db")
	v.SetDefault("jwt.secret", "dev-secret-key")
	v.SetDefault("catalog.base_url", "http://localhost:8081")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.schedule", "*/15 * * * *")
	v.SetDefault("scheduler.lookahead_hours", 48)
	v.SetDefault("scheduler.default_lead_hours", 24)
	v.SetDefault("scheduler.dedup_retention_hours", 24)

	v.SetEnvPrefix("EVENTHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		// 設定ファイルが無い場合はデフォルト値と環境変数で動作する
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定の解析に失敗: %w", err)
	}
	return &cfg, nil
}
