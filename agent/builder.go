// Agent builder for fluent configuration.
//
// Information Hiding:
// - Builder state management hidden
// - Default value application hidden

package agent

import (
	"go.uber.org/zap"

	"github.com/richinex/scout/llm"
)

// Builder provides fluent configuration for creating agents.
type Builder struct {
	provider llm.Provider
	config   Config
	logger   *zap.Logger
}

// NewBuilder creates a new agent builder for the given provider.
func NewBuilder(provider llm.Provider) *Builder {
	return &Builder{provider: provider}
}

// ToolsDescription overrides the tool list shown to the research step.
func (b *Builder) ToolsDescription(desc string) *Builder {
	b.config.ToolsDescription = desc
	return b
}

// StepTools limits the tool list shown to the research step to names.
func (b *Builder) StepTools(names []string) *Builder {
	b.config.ToolsDescription = describeTools(names)
	return b
}

// ReportLanguage sets the report language ("en" or "ko").
func (b *Builder) ReportLanguage(lang string) *Builder {
	b.config.ReportLanguage = lang
	return b
}

// MaxFindingsChars bounds the findings passed to the judge and reporter.
func (b *Builder) MaxFindingsChars(n int) *Builder {
	b.config.MaxFindingsChars = n
	return b
}

// Logger sets the logger.
func (b *Builder) Logger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// Build creates the agent.
func (b *Builder) Build() *Agent {
	return New(b.config, b.provider).WithLogger(b.logger)
}
