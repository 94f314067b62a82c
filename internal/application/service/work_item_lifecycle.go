package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/approval-core/internal/application/port"
	"github.com/garyjia/approval-core/internal/domain/entity"
	domainwf "github.com/garyjia/approval-core/internal/domain/workflow"
)

// WorkItemEvent triggers a work item transition
type WorkItemEvent string

const (
	WorkItemEventSubmit      WorkItemEvent = "SUBMIT"
	WorkItemEventStartReview WorkItemEvent = "START_REVIEW"
	WorkItemEventApprove     WorkItemEvent = "APPROVE"
	WorkItemEventReject      WorkItemEvent = "REJECT"
	WorkItemEventRework      WorkItemEvent = "SEND_TO_REWORK"
	WorkItemEventArchive     WorkItemEvent = "ARCHIVE"
	WorkItemEventCancel      WorkItemEvent = "CANCEL"
)

type workItemCommand struct {
	item *entity.WorkItem
	at   time.Time
}

func buildWorkItemMachine() domainwf.Machine[entity.WorkItemStatus, WorkItemEvent, *workItemCommand] {
	b := domainwf.NewBuilder[entity.WorkItemStatus, WorkItemEvent, *workItemCommand](
		entity.WorkItemStatusDraft,
		entity.WorkItemStatusSubmitted,
		entity.WorkItemStatusInReview,
		entity.WorkItemStatusRework,
		entity.WorkItemStatusApproved,
		entity.WorkItemStatusRejected,
		entity.WorkItemStatusCancelled,
		entity.WorkItemStatusArchived,
	)

	// The next submission snapshots the following version
	bumpVersion := func(c *workItemCommand) {
		c.item.CurrentVersion++
	}

	b.Configure(entity.WorkItemStatusDraft).
		Permit(WorkItemEventSubmit, entity.WorkItemStatusSubmitted).
		Permit(WorkItemEventCancel, entity.WorkItemStatusCancelled)

	b.Configure(entity.WorkItemStatusSubmitted).
		Permit(WorkItemEventStartReview, entity.WorkItemStatusInReview).
		Permit(WorkItemEventCancel, entity.WorkItemStatusCancelled)

	b.Configure(entity.WorkItemStatusInReview).
		Permit(WorkItemEventApprove, entity.WorkItemStatusApproved).
		Permit(WorkItemEventReject, entity.WorkItemStatusRejected).
		Permit(WorkItemEventRework, entity.WorkItemStatusRework, bumpVersion).
		Permit(WorkItemEventCancel, entity.WorkItemStatusCancelled)

	b.Configure(entity.WorkItemStatusRework).
		Permit(WorkItemEventSubmit, entity.WorkItemStatusSubmitted).
		Permit(WorkItemEventCancel, entity.WorkItemStatusCancelled)

	b.Configure(entity.WorkItemStatusApproved).
		Permit(WorkItemEventArchive, entity.WorkItemStatusArchived).
		Permit(WorkItemEventCancel, entity.WorkItemStatusCancelled)

	b.Configure(entity.WorkItemStatusRejected).
		Permit(WorkItemEventArchive, entity.WorkItemStatusArchived).
		Permit(WorkItemEventCancel, entity.WorkItemStatusCancelled)

	return b.Build()
}

// WorkItemLifecycle owns every status change of a work item
type WorkItemLifecycle interface {
	// Submit snapshots the content at the current version counter
	Submit(ctx context.Context, workItemID, contentRef, actor string) (*entity.WorkItem, *entity.WorkItemVersion, error)
	StartReview(ctx context.Context, workItemID, actor string) (*entity.WorkItem, error)
	Approve(ctx context.Context, workItemID, actor string) (*entity.WorkItem, error)
	Reject(ctx context.Context, workItemID, actor string) (*entity.WorkItem, error)
	SendToRework(ctx context.Context, workItemID, actor string) (*entity.WorkItem, error)
	Archive(ctx context.Context, workItemID, actor string) (*entity.WorkItem, error)
	Cancel(ctx context.Context, workItemID, actor string) (*entity.WorkItem, error)
}

type workItemLifecycleImpl struct {
	itemRepo    port.WorkItemRepository
	versionRepo port.WorkItemVersionRepository
	historyRepo port.HistoryRepository
	txManager   port.TransactionManager
	machine     domainwf.Machine[entity.WorkItemStatus, WorkItemEvent, *workItemCommand]
	now         Clock
	logger      Logger
}

// NewWorkItemLifecycle creates a new WorkItemLifecycle
func NewWorkItemLifecycle(
	itemRepo port.WorkItemRepository,
	versionRepo port.WorkItemVersionRepository,
	historyRepo port.HistoryRepository,
	txManager port.TransactionManager,
	logger Logger,
) WorkItemLifecycle {
	return &workItemLifecycleImpl{
		itemRepo:    itemRepo,
		versionRepo: versionRepo,
		historyRepo: historyRepo,
		txManager:   txManager,
		machine:     buildWorkItemMachine(),
		now:         systemClock,
		logger:      logger,
	}
}

// Submit moves a draft or reworked item to submitted and records a version
func (s *workItemLifecycleImpl) Submit(ctx context.Context, workItemID, contentRef, actor string) (*entity.WorkItem, *entity.WorkItemVersion, error) {
	var (
		item    *entity.WorkItem
		version *entity.WorkItemVersion
	)
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		item, err = s.transition(txCtx, workItemID, WorkItemEventSubmit, actor)
		if err != nil {
			return err
		}

		version = &entity.WorkItemVersion{
			ID:          uuid.NewString(),
			WorkItemID:  item.ID,
			Version:     item.CurrentVersion,
			ContentRef:  contentRef,
			SubmittedBy: actor,
			SubmittedAt: item.UpdatedAt,
		}
		if err := s.versionRepo.Create(txCtx, version); err != nil {
			return fmt.Errorf("create work item version: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to submit work item", "error", err, "work_item_id", workItemID)
		return nil, nil, fmt.Errorf("submit work item: %w", err)
	}

	s.logger.Info("Work item submitted", "work_item_id", workItemID, "version", version.Version, "actor", actor)
	return item, version, nil
}

func (s *workItemLifecycleImpl) StartReview(ctx context.Context, workItemID, actor string) (*entity.WorkItem, error) {
	return s.fire(ctx, workItemID, WorkItemEventStartReview, actor)
}

func (s *workItemLifecycleImpl) Approve(ctx context.Context, workItemID, actor string) (*entity.WorkItem, error) {
	return s.fire(ctx, workItemID, WorkItemEventApprove, actor)
}

func (s *workItemLifecycleImpl) Reject(ctx context.Context, workItemID, actor string) (*entity.WorkItem, error) {
	return s.fire(ctx, workItemID, WorkItemEventReject, actor)
}

func (s *workItemLifecycleImpl) SendToRework(ctx context.Context, workItemID, actor string) (*entity.WorkItem, error) {
	return s.fire(ctx, workItemID, WorkItemEventRework, actor)
}

func (s *workItemLifecycleImpl) Archive(ctx context.Context, workItemID, actor string) (*entity.WorkItem, error) {
	return s.fire(ctx, workItemID, WorkItemEventArchive, actor)
}

func (s *workItemLifecycleImpl) Cancel(ctx context.Context, workItemID, actor string) (*entity.WorkItem, error) {
	return s.fire(ctx, workItemID, WorkItemEventCancel, actor)
}

func (s *workItemLifecycleImpl) fire(ctx context.Context, workItemID string, event WorkItemEvent, actor string) (*entity.WorkItem, error) {
	var item *entity.WorkItem
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		item, err = s.transition(txCtx, workItemID, event, actor)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to transition work item", "error", err, "work_item_id", workItemID, "event", event)
		return nil, err
	}

	s.logger.Info("Work item transitioned", "work_item_id", workItemID, "event", event, "status", item.Status)
	return item, nil
}

// transition must run inside a transaction
func (s *workItemLifecycleImpl) transition(ctx context.Context, workItemID string, event WorkItemEvent, actor string) (*entity.WorkItem, error) {
	item, err := s.itemRepo.GetByID(ctx, workItemID)
	if err != nil {
		return nil, fmt.Errorf("get work item: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: work item %s", domainwf.ErrNotFound, workItemID)
	}

	from := item.Status
	now := s.now()
	to, err := s.machine.Fire(from, event, &workItemCommand{item: item, at: now})
	if err != nil {
		return nil, fmt.Errorf("work item %s: %w", workItemID, err)
	}

	item.Status = to
	item.UpdatedAt = now
	item.UpdatedBy = actor
	if err := s.itemRepo.Update(ctx, item); err != nil {
		return nil, fmt.Errorf("update work item: %w", err)
	}

	if err := recordTransition(ctx, s.historyRepo, entity.EntityTypeWorkItem, item.ID,
		string(from), string(to), string(event), actor, "", now); err != nil {
		return nil, err
	}
	return item, nil
}
