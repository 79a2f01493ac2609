package indexing

import "regexp"

// サンプル行に現れやすい機微情報のパターン
var redactionPatterns = []*regexp.Regexp{
	// メールアドレス
	regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	// 米国SSN形式
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	// カード番号とみなせる13〜19桁の数字列
	regexp.MustCompile(`\b\d{13,19}\b`),
	// E.164形式の電話番号
	regexp.MustCompile(`\+\d{7,15}\b`),
	// ハイフン区切りの電話番号
	regexp.MustCompile(`\b\d{2,4}-\d{2,4}-\d{3,4}\b`),
}

const redactedPlaceholder = "[redacted]"

// Redactor はサンプル行の機微情報をマスクする
// 埋め込みや生成プロンプトに実データが流出するのを防ぐ
type Redactor struct {
	enabled bool
}

// NewRedactor は新しいRedactorを作成する
func NewRedactor(enabled bool) *Redactor {
	return &Redactor{enabled: enabled}
}

// Redact はテキスト中の機微情報をプレースホルダに置き換える
func (r *Redactor) Redact(text string) string {
	if r == nil || !r.enabled {
		return text
	}
	for _, re := range redactionPatterns {
		text = re.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}
