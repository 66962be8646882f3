package generator

import (
	"context"
	"errors"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnalysis(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    *Analysis
		wantErr string
	}{
		{
			name: "full document",
			input: `{
				"geometric_bias": "BULLISH",
				"synthesis": {"score": 3, "max_score": 5},
				"context_alert": {"has_alert": true, "alert_type": "VOLATILITY_SPIKE"},
				"price": 64250.5,
				"timeframe": "4H",
				"levels": [1, 2, 3]
			}`,
			want: &Analysis{
				AssetID:  "BTC",
				Bias:     "BULLISH",
				Score:    3,
				MaxScore: 5,
				Alert:    Alert{Active: true, Type: "VOLATILITY_SPIKE"},
				Details: []Detail{
					{Key: "price", Value: "64250.5"},
					{Key: "timeframe", Value: "4H"},
				},
			},
		},
		{
			name:  "defaults max score and no alert",
			input: `{"geometric_bias": "BEARISH", "synthesis": {"score": 1.5}}`,
			want: &Analysis{
				AssetID:  "BTC",
				Bias:     "BEARISH",
				Score:    1.5,
				MaxScore: DefaultMaxScore,
			},
		},
		{
			name:    "not json",
			input:   `bias: bullish`,
			wantErr: "not valid JSON",
		},
		{
			name:    "array instead of object",
			input:   `[1,2]`,
			wantErr: "expected a JSON object",
		},
		{
			name:    "missing bias",
			input:   `{"synthesis": {"score": 2}}`,
			wantErr: "missing geometric_bias",
		},
		{
			name:    "score not numeric",
			input:   `{"geometric_bias": "NEUTRAL", "synthesis": {"score": "high"}}`,
			wantErr: "synthesis.score must be a number",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseAnalysis("BTC", []byte(tt.input))
			if tt.wantErr != "" {
				require.ErrorIs(t, err, ErrInvalidAnalysis)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandAnalyzer(t *testing.T) {
	t.Parallel()

	t.Run("passes asset as last argument and parses stdout", func(t *testing.T) {
		t.Parallel()

		script := `printf '{"geometric_bias":"BULLISH","synthesis":{"score":3},"asset":"%s"}' "$1"`
		analyzer := NewCommandAnalyzer("sh", []string{"-c", script, "analyzer"})

		got, err := analyzer.Analyze(context.Background(), "ETH")
		require.NoError(t, err)
		assert.Equal(t, "ETH", got.AssetID)
		assert.Equal(t, "BULLISH", got.Bias)
		assert.Equal(t, 3.0, got.Score)
		assert.Contains(t, got.Details, Detail{Key: "asset", Value: "ETH"})
	})

	t.Run("reports exit status and stderr", func(t *testing.T) {
		t.Parallel()

		analyzer := NewCommandAnalyzer("sh", []string{"-c", `echo "upstream timeout" >&2; exit 3`, "analyzer"})

		_, err := analyzer.Analyze(context.Background(), "BTC")
		require.Error(t, err)

		var cmdErr *CommandError
		require.ErrorAs(t, err, &cmdErr)
		assert.Equal(t, "BTC", cmdErr.AssetID)
		assert.Equal(t, "upstream timeout", cmdErr.Stderr)
		assert.Contains(t, err.Error(), "exit status 3")
	})

	t.Run("environment is forwarded", func(t *testing.T) {
		t.Parallel()

		script := `printf '{"geometric_bias":"%s","synthesis":{"score":0}}' "$PIVOT_BIAS"`
		analyzer := NewCommandAnalyzer("sh", []string{"-c", script, "analyzer"}, WithEnv("PIVOT_BIAS=NEUTRAL"))

		got, err := analyzer.Analyze(context.Background(), "BTC")
		require.NoError(t, err)
		assert.Equal(t, "NEUTRAL", got.Bias)
	})

	t.Run("timeout stops a hung analyzer", func(t *testing.T) {
		t.Parallel()

		analyzer := NewCommandAnalyzer("sh", []string{"-c", "exec sleep 10", "analyzer"}, WithTimeout(50*time.Millisecond))

		start := time.Now()
		_, err := analyzer.Analyze(context.Background(), "BTC")
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("invalid output is rejected", func(t *testing.T) {
		t.Parallel()

		analyzer := NewCommandAnalyzer("sh", []string{"-c", "echo not-json", "analyzer"})
		_, err := analyzer.Analyze(context.Background(), "BTC")
		require.ErrorIs(t, err, ErrInvalidAnalysis)
	})
}

func TestTail(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", tail("  short\n", 10))
	assert.Equal(t, "...6789", tail("0123456789", 4))

	// "é" is two bytes; a cut inside it moves forward to the next rune
	got := tail("café au lait", 9)
	assert.Equal(t, "... au lait", got)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "...€", tail("€€", 4))
}
