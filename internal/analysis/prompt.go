package analysis

import (
	"fmt"
	"strings"

	"github.com/soitgoes887/tokenomics/internal/model"
)

const systemPrompt = `You are a financial news analyst. Classify the sentiment of a news
article for one specific stock symbol. Respond with strict JSON only, no
markdown fences and no prose, in exactly this shape:

{
  "sentiment": "BULLISH" | "NEUTRAL" | "BEARISH",
  "conviction": <integer 0-100>,
  "time_horizon": "SHORT" | "MEDIUM" | "LONG",
  "reasoning": "<one or two sentences>",
  "key_factors": ["<factor>", ...]
}

Conviction expresses how strongly the article supports the sentiment for the
given symbol, not the magnitude of the expected move. Use NEUTRAL with low
conviction when the article is routine or only tangentially related.`

func buildPrompt(article model.NewsArticle, symbol string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s\n", symbol)
	fmt.Fprintf(&b, "Headline: %s\n", article.Headline)
	if article.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", article.Summary)
	}
	if article.Content != "" {
		content := article.Content
		if len(content) > 4000 {
			content = content[:4000]
		}
		fmt.Fprintf(&b, "Content: %s\n", content)
	}
	fmt.Fprintf(&b, "Source: %s\n", article.Source)
	fmt.Fprintf(&b, "Published: %s\n", article.CreatedAt.Format("2006-01-02 15:04 MST"))
	return b.String()
}
