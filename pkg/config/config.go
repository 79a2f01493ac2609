package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// エンジン用メタデータストア（PostgreSQL + pgvector）の接続設定
	Database DatabaseConfig

	// API認証
	APIToken string

	// OpenAI設定（Embeddings + クエリ生成LLM）
	OpenAI OpenAIConfig

	// インデックス作成設定
	Index IndexConfig

	// 質問応答パイプライン設定
	Query QueryConfig

	// HTTPサーバ設定
	Server ServerConfig

	// ログ出力設定
	Log LogConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// OpenAIConfig はOpenAI API設定（Embeddings + LLM）
type OpenAIConfig struct {
	APIKey             string
	EmbeddingModel     string
	EmbeddingDimension int
	LLMModel           string
	LLMTemperature     float64
	LLMMaxTokens       int
	RequestsPerMinute  int // スロットリング上限（0で無効）
}

// IndexConfig はスキーマインデックス作成の設定
type IndexConfig struct {
	SampleRows    int    // テーブルごとに取り込むサンプル行数（上限10）
	IgnoreRules   string // 除外するテーブル名パターン（gitignore形式、改行区切り）
	RedactSamples bool   // サンプル行の機微情報をマスクするか
}

// QueryConfig は質問応答パイプラインの設定
type QueryConfig struct {
	TopK                int // 検索で取得するチャンク数
	MaxResultRows       int // クエリ結果の行数上限（LIMIT注入値）
	ExecutionTimeoutSec int // クエリ実行のタイムアウト（秒）
	MaxAttempts         int // クエリ生成の最大試行回数（検証失敗時の再生成を含む）
	ContextTokenBudget  int // プロンプトに含めるスキーマコンテキストのトークン上限
}

// ServerConfig はHTTPサーバの設定
type ServerConfig struct {
	Port int
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string // debug / info / warn / error
	Format string // json / text
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "dbrag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "dbrag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		APIToken: getEnv("DBRAG_API_TOKEN", ""),
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			LLMModel:           getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
			LLMTemperature:     getEnvAsFloat("OPENAI_LLM_TEMPERATURE", 0.1),
			LLMMaxTokens:       getEnvAsInt("OPENAI_LLM_MAX_TOKENS", 1024),
			RequestsPerMinute:  getEnvAsInt("OPENAI_REQUESTS_PER_MINUTE", 60),
		},
		Index: IndexConfig{
			SampleRows:    getEnvAsInt("INDEX_SAMPLE_ROWS", 5),
			IgnoreRules:   getEnv("INDEX_IGNORE", ""),
			RedactSamples: getEnvAsBool("REDACT_SAMPLES", true),
		},
		Query: QueryConfig{
			TopK:                getEnvAsInt("RETRIEVAL_TOP_K", 3),
			MaxResultRows:       getEnvAsInt("MAX_RESULT_ROWS", 100),
			ExecutionTimeoutSec: getEnvAsInt("EXECUTION_TIMEOUT_SECONDS", 15),
			MaxAttempts:         getEnvAsInt("GENERATION_MAX_ATTEMPTS", 3),
			ContextTokenBudget:  getEnvAsInt("PROMPT_CONTEXT_TOKENS", 2000),
		},
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
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

// getEnvAsFloat は環境変数を浮動小数点数として取得します
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

// getEnvAsBool は環境変数を真偽値として取得します
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
