// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// アプリケーション設定
	AppUsername     string // ログイン用ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string // セッション署名用の秘密鍵

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ファイル制限
	MaxFileSize      int64  // アップロード単一ファイルの最大サイズ（バイト）
	MaxPages         int    // PDFの最大ページ数
	DataDir          string // アップロード・結果ファイルの保存先ディレクトリ
	UploadExpireMin  int    // アップロードファイルの有効期限（分）
	JobExpireMinutes int    // ジョブレコードと結果の有効期限（分）

	// ジョブ/キュー設定
	QueueRedisURL string // Asynq用Redis接続URL

	// 生成AI設定
	LLMBaseURL        string // OpenAI互換APIのベースURL
	LLMAPIKey         string // APIキー
	LLMModel          string // 使用モデル名
	LLMTimeoutSeconds int    // 1リクエストのタイムアウト（秒）
	LLMMaxRetries     int    // リトライ回数
	LLMMaxTokens      int    // 応答の最大トークン数

	// NLI（矛盾判定）設定
	NLIBaseURL        string // NLIエンドポイントのURL
	NLITimeoutSeconds int    // タイムアウト（秒）

	// テキスト抽出サービス設定
	ExtractorBaseURL        string // 抽出サービスのベースURL
	ExtractorTimeoutSeconds int    // タイムアウト（秒）

	// 抽出パイプライン調整値
	MaxConcurrentCalls     int     // チャンク呼び出しの同時実行上限
	PacingIntervalMs       int     // 観点パス間のペーシング間隔（ミリ秒）
	TitleSimThreshold      float64 // 重複判定のタイトル類似度しきい値
	DescSimThreshold       float64 // 重複判定の説明文類似度しきい値
	DefaultNumAnalyses     int     // 既定の分析観点数
	DefaultReqPerAnalysis  int     // 観点あたりの既定要求件数
	ContradictionThreshold float64 // 矛盾と判定するスコアしきい値
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// アプリケーション設定
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),

		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// ファイル制限
		MaxFileSize:      getEnvAsInt64("MAX_FILE_SIZE", 52428800), // 50MB
		MaxPages:         getEnvAsInt("MAX_PAGES", 500),
		DataDir:          getEnv("DATA_DIR", "data"),
		UploadExpireMin:  getEnvAsInt("UPLOAD_EXPIRE_MINUTES", 60),
		JobExpireMinutes: getEnvAsInt("JOB_EXPIRE_MINUTES", 60),

		// ジョブ/キュー設定
		QueueRedisURL: getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),

		// 生成AI設定
		LLMBaseURL:        getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:         getEnv("LLM_API_KEY", ""),
		LLMModel:          getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeoutSeconds: getEnvAsInt("LLM_TIMEOUT_SECONDS", 120),
		LLMMaxRetries:     getEnvAsInt("LLM_MAX_RETRIES", 2),
		LLMMaxTokens:      getEnvAsInt("LLM_MAX_TOKENS", 4096),

		// NLI設定
		NLIBaseURL:        getEnv("NLI_BASE_URL", ""),
		NLITimeoutSeconds: getEnvAsInt("NLI_TIMEOUT_SECONDS", 30),

		// テキスト抽出サービス設定
		ExtractorBaseURL:        getEnv("EXTRACTOR_BASE_URL", "http://127.0.0.1:8090"),
		ExtractorTimeoutSeconds: getEnvAsInt("EXTRACTOR_TIMEOUT_SECONDS", 120),

		// 抽出パイプライン調整値
		MaxConcurrentCalls:     getEnvAsInt("EXTRACT_MAX_CONCURRENT_CALLS", 10),
		PacingIntervalMs:       getEnvAsInt("EXTRACT_PACING_INTERVAL_MS", 1000),
		TitleSimThreshold:      getEnvAsFloat("DEDUPE_TITLE_THRESHOLD", 0.7),
		DescSimThreshold:       getEnvAsFloat("DEDUPE_DESC_THRESHOLD", 0.5),
		DefaultNumAnalyses:     getEnvAsInt("DEFAULT_NUM_ANALYSES", 3),
		DefaultReqPerAnalysis:  getEnvAsInt("DEFAULT_REQ_PER_ANALYSIS", 5),
		ContradictionThreshold: getEnvAsFloat("NLI_CONTRADICTION_THRESHOLD", 0.8),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	// ローカル開発では認証設定は任意
	// 本番環境では厳格にチェックする想定
	if c.GinMode == "release" {
		if c.AppUsername == "" {
			return fmt.Errorf("APP_USERNAME is required in release mode")
		}
		if c.AppPasswordHash == "" {
			return fmt.Errorf("APP_PASSWORD_HASH is required in release mode")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
		if c.LLMAPIKey == "" {
			return fmt.Errorf("LLM_API_KEY is required in release mode")
		}
	}

	if c.TitleSimThreshold <= 0 || c.TitleSimThreshold > 1 {
		return fmt.Errorf("DEDUPE_TITLE_THRESHOLD must be in (0, 1]: %v", c.TitleSimThreshold)
	}
	if c.DescSimThreshold <= 0 || c.DescSimThreshold > 1 {
		return fmt.Errorf("DEDUPE_DESC_THRESHOLD must be in (0, 1]: %v", c.DescSimThreshold)
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します。
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
