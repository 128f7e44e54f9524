// Handoff contracts between the research agents and the loop.
//
// A contract lists the fields an agent answer must carry before the loop
// acts on it. Validation only reports what is missing; the caller decides
// which default stands in for each absent field.
//
// Information Hiding:
// - Contract storage and lookup hidden
// - Validation logic hidden

package orchestration

import (
	"fmt"
	"sort"
	"sync"
)

// Contract names built into DefaultCoordinator.
const (
	JudgeContract = "judge_to_loop"
	StepContract  = "step_to_loop"
)

// OutputSchema describes the fields of a structured agent answer.
type OutputSchema struct {
	RequiredFields []string `json:"required_fields"`
	OptionalFields []string `json:"optional_fields,omitempty"`
}

// Contract defines expected output from an agent.
type Contract struct {
	FromAgent string
	ToAgent   string
	Schema    OutputSchema
}

// ValidationError describes one broken field.
type ValidationError struct {
	Field     string `json:"field"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// ValidationResult is the outcome of checking an answer against a contract.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors"`
}

// Missing reports whether field was flagged as absent.
func (v ValidationResult) Missing(field string) bool {
	for _, e := range v.Errors {
		if e.Field == field && e.ErrorType == "MissingRequired" {
			return true
		}
	}
	return false
}

// Messages returns the error messages in order.
func (v ValidationResult) Messages() []string {
	out := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		out[i] = e.Message
	}
	return out
}

// Coordinator manages handoff contracts between agents.
type Coordinator struct {
	mu        sync.RWMutex
	contracts map[string]Contract
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{contracts: make(map[string]Contract)}
}

// DefaultCoordinator holds the judge and research step contracts.
func DefaultCoordinator() *Coordinator {
	c := NewCoordinator()
	c.RegisterContract(JudgeContract, Contract{
		FromAgent: "judge",
		ToAgent:   "loop",
		Schema: OutputSchema{
			RequiredFields: []string{"decision", "ready_for_report"},
			OptionalFields: []string{"gaps_identified", "reasoning", "assessment", "next_actions"},
		},
	})
	c.RegisterContract(StepContract, Contract{
		FromAgent: "researcher",
		ToAgent:   "loop",
		Schema: OutputSchema{
			RequiredFields: []string{"sufficient"},
			OptionalFields: []string{"tool_call", "key_findings", "next_step", "analysis"},
		},
	})
	return c
}

// RegisterContract registers or replaces a contract.
func (c *Coordinator) RegisterContract(name string, contract Contract) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contracts[name] = contract
}

// GetContract retrieves a contract by name.
func (c *Coordinator) GetContract(name string) (Contract, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	contract, ok := c.contracts[name]
	return contract, ok
}

// ContractNames returns the registered names, sorted.
func (c *Coordinator) ContractNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.contracts))
	for name := range c.contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks a decoded answer against the named contract. A nil
// answer is missing every required field.
func (c *Coordinator) Validate(contractName string, fields map[string]any) ValidationResult {
	contract, ok := c.GetContract(contractName)
	if !ok {
		return ValidationResult{Errors: []ValidationError{{
			Field:     "contract",
			ErrorType: "ContractNotFound",
			Message:   fmt.Sprintf("Handoff contract '%s' not registered", contractName),
		}}}
	}

	var errs []ValidationError
	for _, field := range contract.Schema.RequiredFields {
		if v, present := fields[field]; !present || v == nil {
			errs = append(errs, ValidationError{
				Field:     field,
				ErrorType: "MissingRequired",
				Message:   fmt.Sprintf("Required field '%s' is missing", field),
			})
		}
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
