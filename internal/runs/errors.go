package runs

import "github.com/volaticloud/agentcore/internal/apperror"

var (
	errAgentNotFound     = apperror.New(apperror.KindNotFound, "agent not found")
	errAccessDenied      = apperror.New(apperror.KindForbidden, "access denied to agent")
	errModelForbidden    = apperror.New(apperror.KindForbidden, "model not permitted for account tier")
	errInsufficientFunds = apperror.New(apperror.KindPaymentNeeded, "insufficient credit balance")
	errRunNotFound       = apperror.New(apperror.KindNotFound, "run not found")
)

// ConcurrencyLimitDetail is the structured body returned alongside a 429
// when the parallel-run cap trips, matching the scenario table's
// {running_count, limit, running_thread_ids} shape.
type ConcurrencyLimitDetail struct {
	RunningCount    int      `json:"running_count"`
	Limit           int      `json:"limit"`
	RunningThreadIDs []string `json:"running_thread_ids"`
}
