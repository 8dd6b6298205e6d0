package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soitgoes887/tokenomics/internal/config"
	"github.com/soitgoes887/tokenomics/internal/model"
)

func TestExtractJSONPlain(t *testing.T) {
	payload, err := extractJSON(`{"sentiment":"BULLISH"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sentiment":"BULLISH"}`, string(payload))
}

func TestExtractJSONFenced(t *testing.T) {
	content := "Here is the analysis:\n```json\n{\"sentiment\":\"BEARISH\",\"conviction\":80}\n```\nHope that helps."
	payload, err := extractJSON(content)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sentiment":"BEARISH","conviction":80}`, string(payload))
}

func TestExtractJSONMissing(t *testing.T) {
	_, err := extractJSON("no json here")
	assert.Error(t, err)
}

func TestParseVerdict(t *testing.T) {
	v, err := parseVerdict(`{"sentiment":"BULLISH","conviction":85,"time_horizon":"SHORT","reasoning":"earnings beat","key_factors":["guidance"]}`)
	require.NoError(t, err)

	assert.Equal(t, "BULLISH", v.Sentiment)
	assert.Equal(t, 85, v.Conviction)
	assert.Equal(t, []string{"guidance"}, v.KeyFactors)
	require.NoError(t, v.validate())
}

func TestVerdictValidate(t *testing.T) {
	assert.Error(t, verdict{Sentiment: "SIDEWAYS", Conviction: 50}.validate())
	assert.Error(t, verdict{Sentiment: "BULLISH", Conviction: 101}.validate())
	assert.Error(t, verdict{Sentiment: "BULLISH", Conviction: -1}.validate())
	assert.NoError(t, verdict{Sentiment: "NEUTRAL", Conviction: 0}.validate())
}

func TestNormalizeHorizon(t *testing.T) {
	assert.Equal(t, model.HorizonShort, normalizeHorizon("short"))
	assert.Equal(t, model.HorizonLong, normalizeHorizon("LONG"))
	assert.Equal(t, model.HorizonMedium, normalizeHorizon("MEDIUM"))
	assert.Equal(t, model.HorizonMedium, normalizeHorizon("whatever"))
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New("openai", config.SentimentConfig{Model: "gpt-4.1-mini"}, nil)
	assert.Error(t, err)
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New("claude", config.SentimentConfig{APIKey: "k"}, nil)
	assert.Error(t, err)
}

func TestBuildPromptIncludesSymbolAndHeadline(t *testing.T) {
	article := model.NewsArticle{
		Headline: "Apple beats expectations",
		Summary:  "Strong quarter",
		Source:   "newswire",
	}

	prompt := buildPrompt(article, "AAPL")

	assert.Contains(t, prompt, "Symbol: AAPL")
	assert.Contains(t, prompt, "Apple beats expectations")
	assert.Contains(t, prompt, "Strong quarter")
}
