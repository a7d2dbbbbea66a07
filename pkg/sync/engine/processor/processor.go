// Package processor orchestrates the handling of one inbound family update:
// request pipeline, comparison, CRM execution, response pipeline, audit state
// transitions, and the ack/nack verdict.
package processor

import (
	"context"
	"fmt"
	"time"

	port "github.com/tigerroll/famsync/pkg/sync/core/application/port"
	config "github.com/tigerroll/famsync/pkg/sync/core/config"
	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
	repository "github.com/tigerroll/famsync/pkg/sync/core/domain/repository"
	metrics "github.com/tigerroll/famsync/pkg/sync/core/metrics"
	"github.com/tigerroll/famsync/pkg/sync/engine/compare"
	"github.com/tigerroll/famsync/pkg/sync/engine/executor"
	"github.com/tigerroll/famsync/pkg/sync/engine/pipeline"
	"github.com/tigerroll/famsync/pkg/sync/support/util/exception"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

// Processor handles inbound messages end to end.
type Processor struct {
	repo             repository.SyncRepository
	requestPipeline  *pipeline.RequestPipeline
	engine           *compare.Engine
	executor         *executor.Executor
	responsePipeline *pipeline.ResponsePipeline
	listeners        []port.SyncListener
	recorder         metrics.MetricRecorder
	cfg              *config.Config
}

// NewProcessor creates a message processor.
func NewProcessor(
	repo repository.SyncRepository,
	requestPipeline *pipeline.RequestPipeline,
	engine *compare.Engine,
	exec *executor.Executor,
	responsePipeline *pipeline.ResponsePipeline,
	listeners []port.SyncListener,
	recorder metrics.MetricRecorder,
	cfg *config.Config,
) *Processor {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &Processor{
		repo:             repo,
		requestPipeline:  requestPipeline,
		engine:           engine,
		executor:         exec,
		responsePipeline: responsePipeline,
		listeners:        listeners,
		recorder:         recorder,
		cfg:              cfg,
	}
}

// ProcessMessage handles one inbound message to completion. The returned
// result carries the ack/nack verdict: processed, stale, and noop updates are
// acked; structural failures are nacked for redelivery.
func (p *Processor) ProcessMessage(ctx context.Context, msg *port.InboundMessage) (result *port.ProcessResult, err error) {
	const op = "processor.Processor.ProcessMessage"
	start := time.Now()

	p.recorder.RecordMessageReceived(ctx)
	for _, l := range p.listeners {
		ctx = p.safeBeforeProcess(ctx, l, msg)
	}
	result = &port.ProcessResult{}
	defer func() {
		for _, l := range p.listeners {
			p.safeAfterProcess(ctx, l, msg, result, err)
		}
	}()

	req, reqErr := p.requestPipeline.GenerateRequestObjects(ctx, msg.Payload, msg.AfterUpdatedAt)
	if reqErr != nil {
		if req != nil && req.Job != nil {
			result.JobID = req.Job.ID
			p.failJob(ctx, req.Job, reqErr, start)
		}
		if req != nil && req.Family != nil {
			result.FamilyID = req.Family.ID
		}
		err = reqErr
		return result, err
	}
	result.JobID = req.Job.ID
	result.FamilyID = req.Family.ID
	p.recorder.RecordJobStart(ctx, req.Job)

	comparison, cmpErr := p.engine.Compare(ctx, msg.AfterUpdatedAt, req.Family, p.cfg.Famsync.Sync.ForceSync)
	if cmpErr != nil {
		p.failJob(ctx, req.Job, cmpErr, start)
		err = cmpErr
		return result, err
	}
	result.Comparison = comparison

	if comparison.NoopOrStale() {
		if err = p.finishWithoutExchange(ctx, req, comparison, start); err != nil {
			return result, err
		}
		result.Acked = true
		return result, nil
	}

	executed, execErr := p.executor.ApplyComparison(ctx, comparison, req.Family)
	if execErr != nil {
		p.failJob(ctx, req.Job, execErr, start)
		err = execErr
		return result, err
	}
	result.Comparison = executed

	req.Family.ComparisonPayload = executed
	if err = p.repo.UpdateFamily(ctx, req.Family); err != nil {
		p.failJob(ctx, req.Job, err, start)
		return result, err
	}

	resp, respErr := p.responsePipeline.GenerateResponseObjects(ctx, executed, req)
	if respErr != nil {
		p.failJob(ctx, req.Job, respErr, start)
		err = respErr
		return result, err
	}

	if err = p.settleAuditGraph(ctx, resp, executed); err != nil {
		return result, err
	}
	p.recorder.RecordJobEnd(ctx, req.Job, time.Since(start))

	result.Acked = true
	return result, nil
}

// finishWithoutExchange closes out the audit graph for stale and noop
// verdicts: no CRM exchange happens, the comparison is persisted, and every
// entity succeeds.
func (p *Processor) finishWithoutExchange(ctx context.Context, req *pipeline.RequestObjects, comparison *model.Comparison, start time.Time) error {
	message := "no CRM action needed"
	if comparison.Action == model.ActionStale {
		message = "stale update dropped"
		logger.Infof("processor: dropping stale update for family '%s'", req.Family.FamilyExternalID)
	}

	req.Family.ComparisonPayload = comparison
	if err := p.repo.UpdateFamily(ctx, req.Family); err != nil {
		return err
	}

	for _, tx := range req.Transactions() {
		if err := tx.Status.MarkAsSucceeded(message); err != nil {
			return err
		}
		if err := p.repo.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
	}
	if err := req.Transmission.Status.MarkAsSucceeded(message); err != nil {
		return err
	}
	if err := p.repo.UpdateTransmission(ctx, req.Transmission); err != nil {
		return err
	}
	if err := req.Job.Status.MarkAsSucceeded(message); err != nil {
		return err
	}
	if err := p.repo.UpdateJob(ctx, req.Job); err != nil {
		return err
	}
	p.recorder.RecordJobEnd(ctx, req.Job, time.Since(start))
	return nil
}

// settleAuditGraph finalizes every audit entity after the CRM exchange. Each
// transaction settles on its own entity's outcome; a failed entity does not
// fail its siblings or the job.
func (p *Processor) settleAuditGraph(ctx context.Context, resp *pipeline.ResponseObjects, executed *model.Comparison) error {
	accountOK := executor.ResponseSucceeded(executed.ResponseCode, executed.ResponseMessage)

	settleTx := func(tx *model.Transaction, ok bool, code, message string) error {
		if tx.Status.LatestState == model.StateInitial {
			if err := tx.Status.MarkAsAcked("CRM exchange recorded"); err != nil {
				return err
			}
		}
		var serr error
		if ok {
			serr = tx.Status.MarkAsSucceeded(message)
		} else {
			tx.AddError("crm", message)
			serr = tx.Status.MarkAsFailed(fmt.Sprintf("CRM call failed (code: %s)", code))
		}
		if serr != nil {
			return serr
		}
		return p.repo.UpdateTransaction(ctx, tx)
	}

	settleEntity := func(tx *model.Transaction) error {
		if tx.Key == "account" {
			return settleTx(tx, accountOK, executed.ResponseCode, executed.ResponseMessage)
		}
		for i := range executed.Contacts {
			c := &executed.Contacts[i]
			if tx.Key == "contact:"+c.ExternalID {
				return settleTx(tx, executor.ResponseSucceeded(c.ResponseCode, c.ResponseMessage), c.ResponseCode, c.ResponseMessage)
			}
		}
		return settleTx(tx, true, "", "no matching comparison entity")
	}

	for _, tx := range resp.RequestTransactions {
		if err := settleEntity(tx); err != nil {
			return err
		}
	}
	for _, tx := range resp.ResponseTransactions {
		if err := settleEntity(tx); err != nil {
			return err
		}
	}

	// The exchange itself completed, so both transmissions succeed even when
	// individual entities failed.
	if err := p.settleTransmission(ctx, resp.RequestTransmission); err != nil {
		return err
	}
	if err := p.settleTransmission(ctx, resp.ResponseTransmission); err != nil {
		return err
	}

	if resp.Job.Status.LatestState == model.StateInitial {
		if err := resp.Job.Status.MarkAsAcked("CRM exchange recorded"); err != nil {
			return err
		}
	}
	if err := resp.Job.Status.MarkAsSucceeded(fmt.Sprintf("processed with verdict '%s'", executed.Action)); err != nil {
		return err
	}
	return p.repo.UpdateJob(ctx, resp.Job)
}

func (p *Processor) settleTransmission(ctx context.Context, transmission *model.Transmission) error {
	if transmission.Status.LatestState == model.StateInitial {
		if err := transmission.Status.MarkAsAcked("CRM exchange recorded"); err != nil {
			return err
		}
	}
	if err := transmission.Status.MarkAsSucceeded("exchange completed"); err != nil {
		return err
	}
	return p.repo.UpdateTransmission(ctx, transmission)
}

// failJob records a structural failure against the job and moves it to the
// terminal failed state.
func (p *Processor) failJob(ctx context.Context, job *model.Job, cause error, start time.Time) {
	message := exception.ExtractErrorMessage(cause)
	job.AddError("processor", message)
	if job.Status.LatestState != model.StateFailed {
		if err := job.Status.MarkAsFailed(message); err != nil {
			logger.Errorf("processor: failed to mark Job (ID: %s) as failed: %v", job.ID, err)
		}
	}
	if err := p.repo.UpdateJob(ctx, job); err != nil {
		logger.Errorf("processor: failed to persist failed Job (ID: %s): %v", job.ID, err)
	}
	p.recorder.RecordJobEnd(ctx, job, time.Since(start))
}

// safeBeforeProcess shields the pipeline from a panicking listener.
func (p *Processor) safeBeforeProcess(ctx context.Context, l port.SyncListener, msg *port.InboundMessage) (out context.Context) {
	out = ctx
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("processor: listener BeforeProcess panicked: %v", r)
		}
	}()
	return l.BeforeProcess(ctx, msg)
}

func (p *Processor) safeAfterProcess(ctx context.Context, l port.SyncListener, msg *port.InboundMessage, result *port.ProcessResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("processor: listener AfterProcess panicked: %v", r)
		}
	}()
	l.AfterProcess(ctx, msg, result, err)
}
