package indexing

const (
	// DefaultChunkWindow はチャンク1つあたりの文字数
	DefaultChunkWindow = 800
	// DefaultChunkOverlap は隣接チャンク間で重複させる文字数（約15%）
	DefaultChunkOverlap = 120
)

// SplitText はテキストをオーバーラップ付きの固定長ウィンドウに分割する
// window以下のテキストは分割せずそのまま返す
func SplitText(text string, window, overlap int) []string {
	if window <= 0 {
		window = DefaultChunkWindow
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= window {
		overlap = window - 1
	}

	runes := []rune(text)
	if len(runes) <= window {
		return []string{text}
	}

	step := window - overlap
	var parts []string
	for start := 0; start < len(runes); start += step {
		end := start + window
		if end >= len(runes) {
			parts = append(parts, string(runes[start:]))
			break
		}
		parts = append(parts, string(runes[start:end]))
	}

	return parts
}
