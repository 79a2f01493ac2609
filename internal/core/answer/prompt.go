package answer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jinford/db-rag/internal/core/connection"
	"github.com/jinford/db-rag/internal/core/retrieval"
	"github.com/jinford/db-rag/pkg/tokens"
)

// 回答合成のプロンプトに載せる行数の上限
const maxSynthesisRows = 20

const sqlExamples = `User: "Show me all users"
Query: SELECT * FROM users LIMIT 100;

User: "Get the latest 10 orders"
Query: SELECT * FROM orders ORDER BY created_at DESC LIMIT 10;

User: "How many customers do we have?"
Query: SELECT COUNT(*) AS total_customers FROM customers;

User: "Show top 5 products by price"
Query: SELECT * FROM products ORDER BY price DESC LIMIT 5;
`

const documentExamples = `User: "Show me all users"
Query: {"collection": "users", "filter": {}, "limit": 100}

User: "Get the latest 10 orders"
Query: {"collection": "orders", "pipeline": [{"$sort": {"created_at": -1}}, {"$limit": 10}]}

User: "How many customers do we have?"
Query: {"collection": "customers", "pipeline": [{"$count": "total_customers"}]}

User: "Find users whose email contains example.com"
Query: {"collection": "users", "filter": {"email": {"$regex": "example.com"}}, "limit": 100}
`

// QueryPromptParams はクエリ生成プロンプトの材料を表す
type QueryPromptParams struct {
	Question string
	Dialect  connection.Dialect
	Chunks   []*retrieval.ScoredChunk

	// スキーマ情報部に割り当てるトークン数（0以下なら無制限）
	ContextTokenBudget int
	Counter            *tokens.Counter

	// 修復ループ用: 直前に拒否された候補とその理由
	PreviousCandidate string
	RejectionReason   string
}

// BuildQueryPrompt は自然言語の質問から読み取り専用クエリを生成させるプロンプトを構築する
//
// スキーマ情報は関連度の降順で載せ、トークン予算を超える分は関連度の低い
// チャンクから順に落とす。境界をまたいだ最後のチャンクは予算内に収まるよう
// 切り詰める。質問文が落ちることはない
func BuildQueryPrompt(params QueryPromptParams) string {
	var sb strings.Builder

	family := params.Dialect.Family()

	sb.WriteString(fmt.Sprintf("あなたは%sデータベースに精通したアシスタントです。\n", dialectLabel(params.Dialect)))
	sb.WriteString("以下のスキーマ情報を基に、ユーザーの質問に対応する読み取り専用クエリを1つだけ生成してください。\n\n")

	sb.WriteString("## 生成ルール\n")
	if family == connection.FamilyDocument {
		sb.WriteString("- {\"collection\": ..., \"filter\": {...}} または {\"collection\": ..., \"pipeline\": [...]} 形式のJSONオブジェクトのみを生成してください\n")
		sb.WriteString("- 件数が指定されていない場合は \"limit\": 100 を付けてください\n")
		sb.WriteString("- $out / $merge / $where など書き込みやコード実行を伴う演算子は使用しないでください\n")
	} else {
		sb.WriteString("- SELECT / SHOW / DESCRIBE / EXPLAIN のみを生成してください\n")
		sb.WriteString("- 件数が指定されていない場合は LIMIT 100 を付けてください\n")
		sb.WriteString("- INSERT / UPDATE / DELETE / DROP / CREATE / ALTER などの書き込み操作は絶対に生成しないでください\n")
	}
	sb.WriteString("- スキーマに存在するテーブル名・カラム名のみを使用してください\n")
	sb.WriteString(dialectNotes(params.Dialect))
	sb.WriteString("\n")

	sb.WriteString("## 例\n")
	if family == connection.FamilyDocument {
		sb.WriteString(documentExamples)
	} else {
		sb.WriteString(sqlExamples)
	}
	sb.WriteString("\n")

	sb.WriteString("## コンテキスト: スキーマ情報\n")
	chunks := boundChunks(params.Chunks, params.Counter, params.ContextTokenBudget)
	if len(chunks) > 0 {
		for i, chunk := range chunks {
			sb.WriteString(fmt.Sprintf("### [スキーマ断片 %d] %s (%s, 関連度: %.3f)\n",
				i+1, chunk.TableName, chunk.Kind, chunk.Score))
			sb.WriteString(chunk.Content)
			sb.WriteString("\n\n")
		}
	} else {
		sb.WriteString("(該当するスキーマ情報はありません)\n\n")
	}

	if params.PreviousCandidate != "" {
		sb.WriteString("## 直前の候補は拒否されました\n")
		sb.WriteString("候補:\n")
		sb.WriteString(params.PreviousCandidate)
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("拒否理由: %s\n", params.RejectionReason))
		sb.WriteString("この理由を解消した読み取り専用クエリを生成し直してください。\n\n")
	}

	sb.WriteString("## ユーザーの質問\n")
	sb.WriteString(params.Question)
	sb.WriteString("\n\n")

	sb.WriteString("## 出力\n")
	if family == connection.FamilyDocument {
		sb.WriteString("クエリを ```json コードブロックで1つだけ出力してください。説明は不要です。\n")
	} else {
		sb.WriteString("クエリを ```sql コードブロックで1つだけ出力してください。説明は不要です。\n")
	}

	return sb.String()
}

// SynthesisPromptParams は回答合成プロンプトの材料を表す
type SynthesisPromptParams struct {
	Question  string
	Statement string
	Result    *connection.QueryResult
}

// BuildSynthesisPrompt は実行結果をユーザーへの回答に織り込むためのプロンプトを構築する
func BuildSynthesisPrompt(params SynthesisPromptParams) string {
	var sb strings.Builder

	sb.WriteString("あなたはデータベースの問い合わせ結果を説明するアシスタントです。\n")
	sb.WriteString("実行済みクエリの結果を基に、ユーザーの質問へ質問と同じ言語で簡潔に回答してください。\n")
	sb.WriteString("結果に含まれる事実のみを述べ、推測はしないでください。\n\n")

	sb.WriteString("## 実行したクエリ\n")
	sb.WriteString(params.Statement)
	sb.WriteString("\n\n")

	shown := len(params.Result.Rows)
	if shown > maxSynthesisRows {
		shown = maxSynthesisRows
	}

	sb.WriteString(fmt.Sprintf("## 取得結果 (全%d行", params.Result.RowCount))
	if params.Result.Truncated {
		sb.WriteString("、行数上限により切り詰め")
	}
	if shown < params.Result.RowCount {
		sb.WriteString(fmt.Sprintf("、先頭%d行を表示", shown))
	}
	sb.WriteString(")\n")

	if shown == 0 {
		sb.WriteString("(該当する行はありません)\n")
	}
	for _, row := range params.Result.Rows[:shown] {
		line, err := json.Marshal(row)
		if err != nil {
			continue
		}
		sb.Write(line)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## ユーザーの質問\n")
	sb.WriteString(params.Question)
	sb.WriteString("\n\n")

	sb.WriteString("## 回答\n")

	return sb.String()
}

// boundChunks はトークン予算に収まるようチャンク列を制限する
func boundChunks(chunks []*retrieval.ScoredChunk, counter *tokens.Counter, budget int) []*retrieval.ScoredChunk {
	if budget <= 0 {
		return chunks
	}

	kept := make([]*retrieval.ScoredChunk, 0, len(chunks))
	remaining := budget
	for _, chunk := range chunks {
		count := counter.Count(chunk.Content)
		if count <= remaining {
			kept = append(kept, chunk)
			remaining -= count
			continue
		}
		if remaining > 0 {
			trimmed := *chunk
			trimmed.Content = counter.Trim(chunk.Content, remaining)
			if trimmed.Content != "" && trimmed.Content != chunk.Content {
				kept = append(kept, &trimmed)
			}
		}
		break
	}
	return kept
}

func dialectLabel(dialect connection.Dialect) string {
	switch dialect {
	case connection.DialectPostgres:
		return "PostgreSQL"
	case connection.DialectMySQL:
		return "MySQL"
	case connection.DialectMongoDB:
		return "MongoDB"
	default:
		return string(dialect)
	}
}

func dialectNotes(dialect connection.Dialect) string {
	switch dialect {
	case connection.DialectPostgres:
		return "- 大文字小文字を無視した部分一致には ILIKE を、日付の集計には DATE_TRUNC を使用してください\n"
	case connection.DialectMySQL:
		return "- 識別子のクォートにはバッククォートを使用し、日付演算には DATE_SUB / DATE_ADD を使用してください\n"
	case connection.DialectMongoDB:
		return "- 比較には $gte / $lte / $in などの標準的な演算子を使用してください\n"
	default:
		return ""
	}
}
