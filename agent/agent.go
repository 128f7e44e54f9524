// LLM-backed research collaborators.
//
// Agent implements the judge, research step, proposer, decomposer and
// reporter the orchestration loop drives. Every answer is parsed
// defensively: a response that cannot be decoded degrades to a safe default
// instead of failing the run.
//
// Information Hiding:
// - Prompt wording hidden
// - Response parsing and fallbacks hidden
// - Token accounting hidden behind llm.Client

package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/richinex/scout/llm"
	"github.com/richinex/scout/orchestration"
)

// Agent talks to one LLM provider on behalf of every research role.
type Agent struct {
	config Config
	client    *llm.Client
	contracts *orchestration.Coordinator
	logger    *zap.Logger
}

// New creates an agent with the given configuration and provider.
func New(config Config, provider llm.Provider) *Agent {
	return &Agent{
		config: config.withDefaults(),
		client:    llm.NewClient(provider),
		contracts: orchestration.DefaultCoordinator(),
		logger:    zap.NewNop(),
	}
}

// WithLogger sets the logger.
func (a *Agent) WithLogger(logger *zap.Logger) *Agent {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// Config returns the effective configuration.
func (a *Agent) Config() Config {
	return a.config
}

// Usage returns accumulated token usage and the number of LLM calls.
func (a *Agent) Usage() (llm.TokenUsage, int) {
	return a.client.Usage()
}

// chatJSON asks for a JSON object answer.
func (a *Agent) chatJSON(ctx context.Context, role, system, user string) (string, error) {
	content, err := a.client.ChatWithFormat(ctx, []llm.ChatMessage{
		llm.SystemMessage(system),
		llm.UserMessage(user),
	}, llm.NewJSONObjectFormat())
	if err != nil {
		return "", fmt.Errorf("%s: %w", role, err)
	}
	return content, nil
}

// checkContract validates a decoded answer and logs every missing field.
func (a *Agent) checkContract(name string, fields map[string]any) orchestration.ValidationResult {
	res := a.contracts.Validate(name, fields)
	if !res.Valid {
		a.logger.Warn("contract_violation",
			zap.String("contract", name),
			zap.Strings("errors", res.Messages()),
		)
	}
	return res
}

// preview shortens s for log fields.
func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}

var (
	_ orchestration.Judge      = (*Agent)(nil)
	_ orchestration.Researcher = (*Agent)(nil)
	_ orchestration.Proposer   = (*Agent)(nil)
	_ orchestration.Decomposer = (*Agent)(nil)
	_ orchestration.Reporter   = (*Agent)(nil)
)
