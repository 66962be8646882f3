package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Analyzer output fields
const (
	fieldBias      = "geometric_bias"
	fieldScore     = "synthesis.score"
	fieldMaxScore  = "synthesis.max_score"
	fieldHasAlert  = "context_alert.has_alert"
	fieldAlertType = "context_alert.alert_type"
)

// maxStderrBytes bounds how much analyzer stderr ends up in an error
const maxStderrBytes = 512

// ErrInvalidAnalysis is returned when analyzer output cannot be interpreted
var ErrInvalidAnalysis = errors.New("invalid analysis output")

// CommandError describes a failed analyzer process
type CommandError struct {
	AssetID string
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("analyzer failed for %s: %v", e.AssetID, e.Err)
	}
	return fmt.Sprintf("analyzer failed for %s: %v: %s", e.AssetID, e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// CommandAnalyzer runs an external program once per asset. The asset
// identifier is appended as the last argument and the program must print a
// JSON document on stdout.
type CommandAnalyzer struct {
	command string
	args    []string
	timeout time.Duration
	env     []string
}

// CommandOption configures a CommandAnalyzer
type CommandOption func(*CommandAnalyzer)

// WithTimeout bounds each analyzer run; zero disables the bound
func WithTimeout(d time.Duration) CommandOption {
	return func(a *CommandAnalyzer) {
		a.timeout = d
	}
}

// WithEnv appends environment entries (KEY=value) to the inherited environment
func WithEnv(env ...string) CommandOption {
	return func(a *CommandAnalyzer) {
		a.env = append(a.env, env...)
	}
}

// NewCommandAnalyzer creates an analyzer invoking command with args
func NewCommandAnalyzer(command string, args []string, opts ...CommandOption) *CommandAnalyzer {
	a := &CommandAnalyzer{
		command: command,
		args:    append([]string(nil), args...),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs the analyzer for assetID and parses its output
func (a *CommandAnalyzer) Analyze(ctx context.Context, assetID string) (*Analysis, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	args := append(append([]string(nil), a.args...), assetID)
	// #nosec G204 -- the command comes from operator configuration
	cmd := exec.CommandContext(ctx, a.command, args...)
	cmd.WaitDelay = time.Second
	if len(a.env) > 0 {
		cmd.Env = append(cmd.Environ(), a.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%w)", ctxErr, err)
		}
		return nil, &CommandError{
			AssetID: assetID,
			Stderr:  tail(stderr.String(), maxStderrBytes),
			Err:     err,
		}
	}

	return ParseAnalysis(assetID, stdout.Bytes())
}

// ParseAnalysis interprets an analyzer JSON document
func ParseAnalysis(assetID string, data []byte) (*Analysis, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w for %s: not valid JSON", ErrInvalidAnalysis, assetID)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w for %s: expected a JSON object", ErrInvalidAnalysis, assetID)
	}

	bias := doc.Get(fieldBias)
	if !bias.Exists() || bias.String() == "" {
		return nil, fmt.Errorf("%w for %s: missing %s", ErrInvalidAnalysis, assetID, fieldBias)
	}

	score := doc.Get(fieldScore)
	if score.Type != gjson.Number {
		return nil, fmt.Errorf("%w for %s: %s must be a number", ErrInvalidAnalysis, assetID, fieldScore)
	}

	maxScore := float64(DefaultMaxScore)
	if m := doc.Get(fieldMaxScore); m.Type == gjson.Number && m.Float() > 0 {
		maxScore = m.Float()
	}

	analysis := &Analysis{
		AssetID:  assetID,
		Bias:     bias.String(),
		Score:    score.Float(),
		MaxScore: maxScore,
		Alert: Alert{
			Active: doc.Get(fieldHasAlert).Bool(),
			Type:   doc.Get(fieldAlertType).String(),
		},
	}

	doc.ForEach(func(key, value gjson.Result) bool {
		if key.String() == fieldBias {
			return true
		}
		switch value.Type {
		case gjson.String, gjson.Number, gjson.True, gjson.False:
			analysis.Details = append(analysis.Details, Detail{Key: key.String(), Value: value.String()})
		}
		return true
	})
	sort.Slice(analysis.Details, func(i, j int) bool {
		return analysis.Details[i].Key < analysis.Details[j].Key
	})

	return analysis, nil
}

// tail keeps at most the last n bytes of s, starting on a rune boundary
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return "..." + s[start:]
}
