package runs

import (
	"context"
	"encoding/json"

	"github.com/volaticloud/agentcore/internal/store"
)

// AgentConfig is the typed replacement for the original's agent_config
// dict, carried through StartRun into the worker-bus enqueue payload.
// ConfiguredMCPs/CustomMCPs/AgentPressTools stay as opaque JSON since this
// service never interprets their contents, only the agent/model identity
// and system prompt matter to the preconditions below.
type AgentConfig struct {
	AgentID         string          `json:"agent_id"`
	Name            string          `json:"name"`
	SystemPrompt    string          `json:"system_prompt"`
	Model           string          `json:"model,omitempty"`
	ConfiguredMCPs  json.RawMessage `json:"configured_mcps,omitempty"`
	CustomMCPs      json.RawMessage `json:"custom_mcps,omitempty"`
	AgentPressTools json.RawMessage `json:"agentpress_tools,omitempty"`
}

// fromAgentRow converts a store.Agent into an AgentConfig.
func fromAgentRow(a *store.Agent) AgentConfig {
	cfg := AgentConfig{
		AgentID:         a.AgentID,
		Name:            a.Name,
		SystemPrompt:    a.SystemPrompt,
		ConfiguredMCPs:  a.ConfiguredMCPs,
		CustomMCPs:      a.CustomMCPs,
		AgentPressTools: a.AgentPressTools,
	}
	if a.Model != nil {
		cfg.Model = *a.Model
	}
	return cfg
}

// resolveAgentConfig is the (requested agent id, account id) -> *AgentConfig
// extractor the original's start_agent/initiate performs inline: load the
// explicitly requested agent if one was named, else fall back to the
// account's default agent (is_default=true), else nil (thread remains
// agent-agnostic — a plain model run with no system prompt override).
//
// A requested agent_id the account cannot access (neither owner nor public)
// is treated identically to the original's ValueError("Access denied"): the
// caller gets errAccessDenied rather than a silent fallback to default.
func (s *Service) resolveAgentConfig(ctx context.Context, accountID, requestedAgentID string) (*AgentConfig, error) {
	if requestedAgentID != "" {
		agent, err := s.store.GetAgent(ctx, requestedAgentID)
		if err != nil {
			if err == store.ErrNotFound {
				return nil, errAgentNotFound
			}
			return nil, err
		}
		if agent.AccountID != accountID && !agent.IsPublic {
			return nil, errAccessDenied
		}
		cfg := fromAgentRow(agent)
		return &cfg, nil
	}

	agent, err := s.store.DefaultAgentForAccount(ctx, accountID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil // thread remains agent-agnostic, matches original's agent_config=None path.
		}
		return nil, err
	}
	cfg := fromAgentRow(agent)
	return &cfg, nil
}
