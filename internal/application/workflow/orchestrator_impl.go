package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/approval-core/internal/application/dispatcher"
	"github.com/garyjia/approval-core/internal/application/port"
	"github.com/garyjia/approval-core/internal/application/service"
	"github.com/garyjia/approval-core/internal/domain/entity"
	"github.com/garyjia/approval-core/internal/domain/event"
	domainwf "github.com/garyjia/approval-core/internal/domain/workflow"
)

type orchestratorImpl struct {
	txManager   port.TransactionManager
	workItems   port.WorkItemRepository
	definitions port.DefinitionReader
	instances   port.WorkflowInstanceRepository
	steps       port.StepInstanceRepository
	tasks       port.TaskRepository
	taskLC      service.TaskLifecycle
	stepLC      service.StepLifecycle
	workflowLC  service.WorkflowLifecycle
	workItemLC  service.WorkItemLifecycle
	taskCreator port.TaskCreator
	evaluator   RuleEvaluator
	logger      Logger

	locks      *keyedMutex
	dispatcher dispatcher.Dispatcher
	metrics    Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

// StartWorkflow creates the instance pinned to the definition version, one step
// instance per step definition, and the tasks of the first step. All of it
// commits or none of it does.
func (o *orchestratorImpl) StartWorkflow(ctx context.Context, workItemID, definitionID, actor string) (instance *entity.WorkflowInstance, err error) {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.StartWorkflow", trace.WithAttributes(
		attribute.String("work_item.id", workItemID),
		attribute.String("workflow.definition_id", definitionID),
	))
	start := time.Now()
	defer func() { o.finish(span, "start_workflow", start, err) }()

	unlock := o.locks.Lock("work-item:" + workItemID)
	defer unlock()

	var events []*event.Event
	err = o.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		item, err := o.workItems.GetByID(txCtx, workItemID)
		if err != nil {
			return fmt.Errorf("get work item: %w", err)
		}
		if item == nil {
			return fmt.Errorf("%w: work item %s", domainwf.ErrNotFound, workItemID)
		}

		def, err := o.definitions.GetWorkflow(txCtx, definitionID)
		if err != nil {
			return fmt.Errorf("get workflow definition: %w", err)
		}
		if def == nil {
			return fmt.Errorf("%w: workflow definition %s", domainwf.ErrNotFound, definitionID)
		}

		stepDefs, err := o.definitions.ListSteps(txCtx, def.ID)
		if err != nil {
			return fmt.Errorf("list step definitions: %w", err)
		}
		if len(stepDefs) == 0 {
			return fmt.Errorf("%w: workflow definition %s has no steps", domainwf.ErrInvalidState, def.ID)
		}

		now := o.now()
		created := &entity.WorkflowInstance{
			ID:              uuid.NewString(),
			WorkflowID:      def.ID,
			WorkflowVersion: def.Version,
			WorkItemID:      item.ID,
			Status:          entity.WorkflowStatusNotStarted,
			CreatedAt:       now,
			CreatedBy:       actor,
			UpdatedAt:       now,
			UpdatedBy:       actor,
		}
		if err := o.instances.Create(txCtx, created); err != nil {
			return fmt.Errorf("create workflow instance: %w", err)
		}

		stepInstances := make([]*entity.StepInstance, 0, len(stepDefs))
		for _, sd := range stepDefs {
			step := &entity.StepInstance{
				ID:                 uuid.NewString(),
				WorkflowInstanceID: created.ID,
				StepID:             sd.ID,
				StepOrder:          sd.StepOrder,
				Status:             entity.StepStatusNotStarted,
				CreatedAt:          now,
				CreatedBy:          actor,
				UpdatedAt:          now,
				UpdatedBy:          actor,
			}
			if err := o.steps.Create(txCtx, step); err != nil {
				return fmt.Errorf("create step instance: %w", err)
			}
			stepInstances = append(stepInstances, step)
		}

		instance, err = o.workflowLC.Start(txCtx, created.ID, actor)
		if err != nil {
			return err
		}
		if _, err := o.workItemLC.StartReview(txCtx, item.ID, actor); err != nil {
			return err
		}

		first, err := o.stepLC.Start(txCtx, stepInstances[0].ID, actor)
		if err != nil {
			return err
		}
		tasks, err := o.taskCreator.CreateTasksForStep(txCtx, first.ID, actor)
		if err != nil {
			return err
		}

		events = append(events,
			event.NewEvent(event.TypeWorkflowStarted, instance.ID, actor, map[string]interface{}{
				"work_item_id":     item.ID,
				"workflow_id":      def.ID,
				"workflow_version": def.Version,
			}),
			stepEvent(event.TypeStepStarted, first, actor).WithPayload("task_count", len(tasks)),
		)
		return nil
	})
	if err != nil {
		o.logger.Error("Failed to start workflow", "error", err,
			"work_item_id", workItemID, "definition_id", definitionID)
		return nil, err
	}

	o.publish(ctx, events)
	o.logger.Info("Workflow started", "workflow_instance_id", instance.ID,
		"work_item_id", workItemID, "actor", actor)
	return instance, nil
}

// HandleApprovalDecision applies the decision and re-evaluates the step in one transaction.
// Decisions on the same workflow instance are serialized.
func (o *orchestratorImpl) HandleApprovalDecision(ctx context.Context, taskID, actor string, decision entity.DecisionKind, comment string) (outcome *DecisionOutcome, err error) {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.HandleApprovalDecision", trace.WithAttributes(
		attribute.String("task.id", taskID),
		attribute.String("decision", string(decision)),
	))
	start := time.Now()
	defer func() { o.finish(span, "handle_decision", start, err) }()

	if decision != entity.DecisionApproved && decision != entity.DecisionRejected {
		return nil, fmt.Errorf("%w: decision %q", domainwf.ErrInvalidArgument, decision)
	}

	workflowInstanceID, err := o.workflowOfTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("workflow.instance_id", workflowInstanceID))

	unlock := o.locks.Lock(workflowInstanceID)
	defer unlock()

	var events []*event.Event
	err = o.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		task, err := o.tasks.GetByID(txCtx, taskID)
		if err != nil {
			return fmt.Errorf("get task: %w", err)
		}
		if task == nil {
			return fmt.Errorf("%w: task %s", domainwf.ErrNotFound, taskID)
		}

		step, err := o.steps.GetByID(txCtx, task.StepInstanceID)
		if err != nil {
			return fmt.Errorf("get step instance: %w", err)
		}
		if step == nil {
			return fmt.Errorf("%w: step instance %s", domainwf.ErrNotFound, task.StepInstanceID)
		}
		if step.Status != entity.StepStatusInProgress {
			return fmt.Errorf("%w: step %s is %s", domainwf.ErrInvalidTransition, step.ID, step.Status)
		}

		if decision == entity.DecisionApproved {
			task, err = o.taskLC.Approve(txCtx, taskID, actor, comment)
		} else {
			task, err = o.taskLC.Reject(txCtx, taskID, actor, comment)
		}
		if err != nil {
			return err
		}
		events = append(events, event.NewEvent(event.TypeTaskDecided, workflowInstanceID, actor, map[string]interface{}{
			"task_id":          task.ID,
			"step_instance_id": step.ID,
			"decision":         string(decision),
		}))

		result, err := o.evaluator.Evaluate(txCtx, step.ID)
		if err != nil {
			return err
		}
		o.metrics.RecordRuleResult(string(result))

		outcome = &DecisionOutcome{Task: task, Result: result, Step: step}
		switch result {
		case RuleSatisfied:
			evts, err := o.advance(txCtx, step, actor, outcome)
			if err != nil {
				return err
			}
			events = append(events, evts...)
		case RuleRejected:
			evts, err := o.reject(txCtx, step, actor, outcome)
			if err != nil {
				return err
			}
			events = append(events, evts...)
		}
		return nil
	})
	if err != nil {
		o.logger.Error("Failed to handle approval decision", "error", err,
			"task_id", taskID, "decision", decision, "actor", actor)
		return nil, err
	}

	o.publish(ctx, events)
	o.logger.Info("Approval decision handled", "task_id", taskID, "decision", decision,
		"result", outcome.Result, "workflow_instance_id", workflowInstanceID)
	return outcome, nil
}

// advance completes the step and opens the next one, or completes the workflow after the last step
func (o *orchestratorImpl) advance(ctx context.Context, step *entity.StepInstance, actor string, outcome *DecisionOutcome) ([]*event.Event, error) {
	completed, err := o.stepLC.Complete(ctx, step.ID, actor)
	if err != nil {
		return nil, err
	}
	outcome.Step = completed
	events := []*event.Event{stepEvent(event.TypeStepCompleted, completed, actor)}

	steps, err := o.steps.ListByWorkflowInstanceID(ctx, step.WorkflowInstanceID)
	if err != nil {
		return nil, fmt.Errorf("list step instances: %w", err)
	}

	var next *entity.StepInstance
	for _, s := range steps {
		if s.Status == entity.StepStatusNotStarted {
			next = s
			break
		}
	}

	if next != nil {
		started, err := o.stepLC.Start(ctx, next.ID, actor)
		if err != nil {
			return nil, err
		}
		tasks, err := o.taskCreator.CreateTasksForStep(ctx, started.ID, actor)
		if err != nil {
			return nil, err
		}
		outcome.NextStep = started
		outcome.NextTasks = tasks
		return append(events, stepEvent(event.TypeStepStarted, started, actor).WithPayload("task_count", len(tasks))), nil
	}

	instance, err := o.workflowLC.Complete(ctx, step.WorkflowInstanceID, actor)
	if err != nil {
		return nil, err
	}
	item, err := o.workItemLC.Approve(ctx, instance.WorkItemID, actor)
	if err != nil {
		return nil, err
	}
	outcome.Workflow = instance
	outcome.WorkItem = item
	return append(events, event.NewEvent(event.TypeWorkflowCompleted, instance.ID, actor, map[string]interface{}{
		"work_item_id": item.ID,
	})), nil
}

// reject fails the step and the workflow, withdraws tasks of steps that will never run,
// and rejects the work item
func (o *orchestratorImpl) reject(ctx context.Context, step *entity.StepInstance, actor string, outcome *DecisionOutcome) ([]*event.Event, error) {
	failed, err := o.stepLC.Fail(ctx, step.ID, actor, ReasonStepRejected)
	if err != nil {
		return nil, err
	}
	outcome.Step = failed
	events := []*event.Event{stepEvent(event.TypeStepFailed, failed, actor).WithPayload("reason", ReasonStepRejected)}

	steps, err := o.steps.ListByWorkflowInstanceID(ctx, step.WorkflowInstanceID)
	if err != nil {
		return nil, fmt.Errorf("list step instances: %w", err)
	}
	for _, s := range steps {
		if s.Status != entity.StepStatusNotStarted {
			continue
		}
		if _, err := o.taskLC.CancelAllForStep(ctx, s.ID, actor); err != nil {
			return nil, err
		}
	}

	instance, err := o.workflowLC.Fail(ctx, step.WorkflowInstanceID, actor, ReasonWorkflowRejected)
	if err != nil {
		return nil, err
	}
	item, err := o.workItemLC.Reject(ctx, instance.WorkItemID, actor)
	if err != nil {
		return nil, err
	}
	outcome.Workflow = instance
	outcome.WorkItem = item
	return append(events, event.NewEvent(event.TypeWorkflowFailed, instance.ID, actor, map[string]interface{}{
		"work_item_id": item.ID,
		"reason":       ReasonWorkflowRejected,
	})), nil
}

// CancelWorkflow cancels the open tasks of running steps, then the workflow and its work item
func (o *orchestratorImpl) CancelWorkflow(ctx context.Context, instanceID, actor string) (instance *entity.WorkflowInstance, err error) {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.CancelWorkflow", trace.WithAttributes(
		attribute.String("workflow.instance_id", instanceID),
	))
	start := time.Now()
	defer func() { o.finish(span, "cancel_workflow", start, err) }()

	unlock := o.locks.Lock(instanceID)
	defer unlock()

	cancelledTasks := 0
	err = o.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := o.instances.GetByID(txCtx, instanceID)
		if err != nil {
			return fmt.Errorf("get workflow instance: %w", err)
		}
		if current == nil {
			return fmt.Errorf("%w: workflow instance %s", domainwf.ErrNotFound, instanceID)
		}

		steps, err := o.steps.ListByWorkflowInstanceID(txCtx, instanceID)
		if err != nil {
			return fmt.Errorf("list step instances: %w", err)
		}
		for _, s := range steps {
			if s.Status != entity.StepStatusInProgress {
				continue
			}
			cancelled, err := o.taskLC.CancelAllForStep(txCtx, s.ID, actor)
			if err != nil {
				return err
			}
			cancelledTasks += len(cancelled)
		}

		instance, err = o.workflowLC.Cancel(txCtx, instanceID, actor)
		if err != nil {
			return err
		}
		if _, err := o.workItemLC.Cancel(txCtx, current.WorkItemID, actor); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		o.logger.Error("Failed to cancel workflow", "error", err, "workflow_instance_id", instanceID)
		return nil, err
	}

	o.publish(ctx, []*event.Event{
		event.NewEvent(event.TypeWorkflowCancelled, instance.ID, actor, map[string]interface{}{
			"work_item_id":    instance.WorkItemID,
			"cancelled_tasks": cancelledTasks,
		}),
	})
	o.logger.Info("Workflow cancelled", "workflow_instance_id", instanceID,
		"cancelled_tasks", cancelledTasks, "actor", actor)
	return instance, nil
}

// workflowOfTask resolves the workflow instance a task belongs to
func (o *orchestratorImpl) workflowOfTask(ctx context.Context, taskID string) (string, error) {
	task, err := o.tasks.GetByID(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return "", fmt.Errorf("%w: task %s", domainwf.ErrNotFound, taskID)
	}

	step, err := o.steps.GetByID(ctx, task.StepInstanceID)
	if err != nil {
		return "", fmt.Errorf("get step instance: %w", err)
	}
	if step == nil {
		return "", fmt.Errorf("%w: step instance %s", domainwf.ErrNotFound, task.StepInstanceID)
	}
	return step.WorkflowInstanceID, nil
}

// publish hands committed events to the dispatcher. Handlers outlive the request.
func (o *orchestratorImpl) publish(ctx context.Context, events []*event.Event) {
	if o.dispatcher == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	for _, evt := range events {
		o.dispatcher.DispatchAsync(detached, evt)
	}
}

func (o *orchestratorImpl) finish(span trace.Span, operation string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	o.metrics.ObserveOperation(operation, outcomeLabel(err), time.Since(start))
}

func stepEvent(t event.Type, step *entity.StepInstance, actor string) *event.Event {
	return event.NewEvent(t, step.WorkflowInstanceID, actor, map[string]interface{}{
		"step_instance_id": step.ID,
		"step_id":          step.StepID,
		"step_order":       step.StepOrder,
	})
}

// outcomeLabel maps an error onto a low-cardinality metrics label
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domainwf.ErrNotFound):
		return "not_found"
	case errors.Is(err, domainwf.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, domainwf.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domainwf.ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "error"
	}
}
