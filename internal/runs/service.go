// Package runs implements the agent run lifecycle: starting a run against
// an account's thread subject to tier/credit/concurrency preconditions,
// stopping a run cooperatively via the control channel, and reaping runs
// left behind by a crashed instance. Grounded on
// original_source/backend/core/agent_runs.py's start_agent/stop_agent
// handlers and run_management.py's cleanup_instance_runs/
// stop_agent_run_with_helpers for exact ordering, re-expressed as a Go
// service struct in place of the original's module-level functions closing
// over a shared Supabase client.
package runs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/volaticloud/agentcore/internal/apperror"
	"github.com/volaticloud/agentcore/internal/broker"
	"github.com/volaticloud/agentcore/internal/credit"
	"github.com/volaticloud/agentcore/internal/enum"
	"github.com/volaticloud/agentcore/internal/logger"
	"github.com/volaticloud/agentcore/internal/money"
	"github.com/volaticloud/agentcore/internal/store"
	"github.com/volaticloud/agentcore/internal/subscription"
)

// MinRunBalance is the minimum credit balance required to start a run,
// matching the spec's $0.01 precondition.
var MinRunBalance = money.NewFromFloat(0.01)

// WorkPayload is what gets enqueued onto the external worker bus; the
// worker itself (the LLM execution loop) is an explicit external
// collaborator, out of scope for this service.
type WorkPayload struct {
	RunID      string       `json:"agent_run_id"`
	ThreadID   string       `json:"thread_id"`
	InstanceID string       `json:"instance_id"`
	ProjectID  string       `json:"project_id"`
	Model      string       `json:"model_name"`
	AgentConfig *AgentConfig `json:"agent_config,omitempty"`
}

// WorkEnqueuer is the external worker-bus boundary. A real deployment
// backs this with whatever queue sits in front of the execution workers;
// this service only needs to hand off a payload and get an error back.
type WorkEnqueuer interface {
	Enqueue(ctx context.Context, payload WorkPayload) error
}

// Service is the run lifecycle manager.
type Service struct {
	store      *store.Store
	credits    *credit.Manager
	broker     broker.Broker
	worker     WorkEnqueuer
	instanceID string

	maxParallelRuns int
	leaseTTL        time.Duration
}

// New builds a Service. instanceID identifies this process for ownership
// leases; maxParallelRuns is the per-account concurrency cap (spec
// MAX_PARALLEL_AGENT_RUNS); leaseTTL bounds how long an active-run key
// survives without renewal before the reaper treats the run as orphaned.
func New(s *store.Store, cm *credit.Manager, b broker.Broker, w WorkEnqueuer, instanceID string, maxParallelRuns int, leaseTTL time.Duration) *Service {
	return &Service{
		store:           s,
		credits:         cm,
		broker:          b,
		worker:          w,
		instanceID:      instanceID,
		maxParallelRuns: maxParallelRuns,
		leaseTTL:        leaseTTL,
	}
}

// StartRunRequest is the caller-supplied body for StartRun. AccountID,
// ProjectID and ThreadID are resolved by the caller (the httpapi layer,
// from the authenticated bearer token and the thread's ownership record)
// before reaching this service, matching the spec's "Authorise caller
// against thread" step happening ahead of the lifecycle manager proper.
type StartRunRequest struct {
	AccountID string
	ProjectID string
	ThreadID  string
	ModelName string
	AgentID   string // optional; empty means "account default, if any"
}

// StartRunResult is StartRun's success response.
type StartRunResult struct {
	RunID  string         `json:"agent_run_id"`
	Status enum.RunStatus `json:"status"`
}

// StartRun authorises, checks preconditions, and enqueues a new run. All
// three preconditions run concurrently via errgroup, matching the spec's
// "Check three preconditions concurrently" requirement; the first failure
// observed is returned and nothing is committed.
func (s *Service) StartRun(ctx context.Context, req StartRunRequest) (*StartRunResult, error) {
	log := logger.GetLogger(ctx)

	agentConfig, err := s.resolveAgentConfig(ctx, req.AccountID, req.AgentID)
	if err != nil {
		return nil, err
	}

	model := req.ModelName
	if model == "" && agentConfig != nil && agentConfig.Model != "" {
		model = agentConfig.Model
	}

	acc, err := s.credits.GetBalance(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("runs: load account %s: %w", req.AccountID, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.checkModelAllowed(acc.TierName, model) })
	g.Go(func() error { return s.checkCreditBalance(acc.Balance) })
	g.Go(func() error { return s.checkConcurrencyCap(gctx, req.AccountID) })

	if err := g.Wait(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()

	if err := s.store.CreateRun(ctx, runID, req.ThreadID, req.AccountID, req.ProjectID, s.instanceID); err != nil {
		return nil, fmt.Errorf("runs: create run: %w", err)
	}

	leaseKey := broker.ActiveRunKey(s.instanceID, runID)
	if _, err := s.broker.SetIfAbsent(ctx, leaseKey, req.ThreadID, int64(s.leaseTTL.Seconds())); err != nil {
		log.Error("runs: failed to publish ownership lease", zap.String("run_id", runID), zap.Error(err))
	}

	payload := WorkPayload{
		RunID:       runID,
		ThreadID:    req.ThreadID,
		InstanceID:  s.instanceID,
		ProjectID:   req.ProjectID,
		Model:       model,
		AgentConfig: agentConfig,
	}
	if err := s.worker.Enqueue(ctx, payload); err != nil {
		log.Error("runs: worker enqueue failed", zap.String("run_id", runID), zap.Error(err))
		return nil, fmt.Errorf("runs: enqueue work: %w", err)
	}

	log.Info("runs: started", zap.String("run_id", runID), zap.String("thread_id", req.ThreadID), zap.String("model", model))
	return &StartRunResult{RunID: runID, Status: enum.RunRunning}, nil
}

func (s *Service) checkModelAllowed(tierName enum.TierName, model string) error {
	if model == "" {
		return nil
	}
	tier, ok := subscription.ByName(tierName)
	if !ok {
		return nil // unknown tier name defaults to unrestricted rather than locking the account out
	}
	if !tier.AllowsModel(model) {
		return errModelForbidden
	}
	return nil
}

func (s *Service) checkCreditBalance(balance money.Amount) error {
	if balance.LT(MinRunBalance) {
		return errInsufficientFunds
	}
	return nil
}

func (s *Service) checkConcurrencyCap(ctx context.Context, accountID string) error {
	if s.maxParallelRuns <= 0 {
		return nil
	}
	since := time.Now().UTC().Add(-24 * time.Hour)
	running, err := s.store.RunningRunsSince(ctx, accountID, since)
	if err != nil {
		return fmt.Errorf("runs: concurrency check: %w", err)
	}
	if len(running) < s.maxParallelRuns {
		return nil
	}
	threadIDs := make([]string, 0, len(running))
	for _, r := range running {
		threadIDs = append(threadIDs, r.ThreadID)
	}
	return apperror.New(apperror.KindRateLimited, "parallel run limit reached").WithDetail(ConcurrencyLimitDetail{
		RunningCount:     len(running),
		Limit:            s.maxParallelRuns,
		RunningThreadIDs: threadIDs,
	})
}

// StopRun transitions a run to its terminal state, signals every
// instance-local control channel that might be executing it, and cleans
// up its buffered response list. Grounded on
// run_management.py's stop_agent_run_with_helpers: fetch-responses is
// best-effort, the DB transition happens before the control signal is
// published, and the instance-specific control keys are discovered by
// pattern rather than tracked separately.
func (s *Service) StopRun(ctx context.Context, runID string, runError string) error {
	log := logger.GetLogger(ctx)

	if _, err := s.broker.ReadResponses(ctx, runID, 0); err != nil {
		log.Warn("runs: best-effort response read failed before stop", zap.String("run_id", runID), zap.Error(err))
	}

	status := enum.RunStopped
	if runError != "" {
		status = enum.RunFailed
	}
	if err := s.store.FinishRun(ctx, runID, status, runError); err != nil {
		if err == store.ErrAlreadyTerminal {
			return nil // already stopped/failed/completed; nothing more to do.
		}
		return fmt.Errorf("runs: finish run %s: %w", runID, err)
	}

	if err := s.broker.Publish(ctx, broker.ControlTopic(runID), broker.ControlStop); err != nil {
		log.Error("runs: publish global stop failed", zap.String("run_id", runID), zap.Error(err))
	}

	ownerKeys, err := s.broker.KeysByPattern(ctx, broker.ActiveRunPattern(runID))
	if err != nil {
		log.Error("runs: enumerate active-run keys failed", zap.String("run_id", runID), zap.Error(err))
	}
	for _, key := range ownerKeys {
		instanceID := instanceIDFromActiveRunKey(key)
		if instanceID == "" {
			continue
		}
		if err := s.broker.Publish(ctx, broker.InstanceControlTopic(runID, instanceID), broker.ControlStop); err != nil {
			log.Error("runs: publish instance stop failed", zap.String("run_id", runID), zap.String("instance_id", instanceID), zap.Error(err))
		}
	}

	if err := s.broker.DeleteResponses(ctx, runID); err != nil {
		log.Warn("runs: response list cleanup failed", zap.String("run_id", runID), zap.Error(err))
	}

	log.Info("runs: stopped", zap.String("run_id", runID), zap.String("status", string(status)))
	return nil
}

// instanceIDFromActiveRunKey extracts the instance id from an
// "active_run:{instanceID}:{runID}" key, as returned by KeysByPattern.
func instanceIDFromActiveRunKey(key string) string {
	const prefix = "active_run:"
	if len(key) <= len(prefix) {
		return ""
	}
	rest := key[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			return rest[:i]
		}
	}
	return ""
}

// ReapInstance stops every run still owned by instanceID, for cleaning up
// after an instance that crashed or whose lease has expired. No code in this
// module calls it; cmd/server and the reconciliation sweep do not reap.
// Grounded on run_management.py's cleanup_instance_runs.
func (s *Service) ReapInstance(ctx context.Context, instanceID string) (int, error) {
	log := logger.GetLogger(ctx)

	owned, err := s.store.RunsOwnedByInstance(ctx, instanceID)
	if err != nil {
		return 0, fmt.Errorf("runs: list runs owned by %s: %w", instanceID, err)
	}

	reaped := 0
	for _, r := range owned {
		if err := s.StopRun(ctx, r.RunID, "instance unavailable"); err != nil {
			log.Error("runs: reap failed", zap.String("run_id", r.RunID), zap.String("instance_id", instanceID), zap.Error(err))
			continue
		}
		reaped++
	}
	return reaped, nil
}

// GetRun fetches a run by its public id.
func (s *Service) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, errRunNotFound
		}
		return nil, err
	}
	return r, nil
}

// ActiveRunForProject returns the currently running run for a project, if
// any, used by InitiateSession to enforce the original's
// check_for_active_project_agent_run one-run-per-project rule.
func (s *Service) ActiveRunForProject(ctx context.Context, projectID string) (*store.Run, error) {
	r, err := s.store.ActiveRunForProject(ctx, projectID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

var errProjectBusy = apperror.New(apperror.KindConflict, "project already has an active run")

// InitiateSessionRequest bundles the inputs for starting a fresh session.
// Project/thread/sandbox provisioning (the original's "creates project,
// optionally creates sandbox if files present, creates thread, writes
// initial user message" steps) is a separate external collaborator in this
// system's scope, the same way file upload is called out in the spec as
// an external collaborator — InitiateSession here picks up once the
// caller has already provisioned ProjectID/ThreadID and persisted the
// initial message, and is responsible only for the one invariant this
// service owns: refusing a second concurrent run on the same project.
type InitiateSessionRequest struct {
	AccountID string
	ProjectID string
	ThreadID  string
	ModelName string
	AgentID   string
}

// InitiateSession enforces the one-active-run-per-project rule (ported
// from run_management.py's check_for_active_project_agent_run) and then
// delegates to StartRun.
func (s *Service) InitiateSession(ctx context.Context, req InitiateSessionRequest) (*StartRunResult, error) {
	active, err := s.ActiveRunForProject(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("runs: check active project run: %w", err)
	}
	if active != nil {
		return nil, errProjectBusy
	}

	return s.StartRun(ctx, StartRunRequest{
		AccountID: req.AccountID,
		ProjectID: req.ProjectID,
		ThreadID:  req.ThreadID,
		ModelName: req.ModelName,
		AgentID:   req.AgentID,
	})
}
