package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Agent is a row of agents. ConfiguredMCPs/CustomMCPs/AgentPressTools are
// kept as raw JSON since this service passes them through to the worker
// bus without interpreting their contents.
type Agent struct {
	AgentID          string
	AccountID        string
	Name             string
	SystemPrompt     string
	Model            *string
	ConfiguredMCPs   json.RawMessage
	CustomMCPs       json.RawMessage
	AgentPressTools  json.RawMessage
	IsDefault        bool
	IsPublic         bool
}

const agentColumns = `agent_id, account_id, name, system_prompt, model, configured_mcps, custom_mcps, agentpress_tools, is_default, is_public`

func scanAgent(row interface{ Scan(...any) error }) (*Agent, error) {
	var a Agent
	if err := row.Scan(&a.AgentID, &a.AccountID, &a.Name, &a.SystemPrompt, &a.Model,
		&a.ConfiguredMCPs, &a.CustomMCPs, &a.AgentPressTools, &a.IsDefault, &a.IsPublic); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAgent fetches an agent by its public id.
func (s *Store) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id = $1`, agentID)
	a, err := scanAgent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get agent %s: %w", agentID, err)
	}
	return a, nil
}

// DefaultAgentForAccount fetches the account's default agent, if any,
// mirroring the original's `.eq('is_default', True).maybe_single()` lookup.
func (s *Store) DefaultAgentForAccount(ctx context.Context, accountID string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE account_id = $1 AND is_default = TRUE LIMIT 1`,
		accountID)
	a, err := scanAgent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: default agent for %s: %w", accountID, err)
	}
	return a, nil
}
