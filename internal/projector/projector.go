// Package projector mirrors workflow instance state into the document
// service's free-form custom-fields bag for legacy readers. The mirror is an
// async, best-effort cache; the instance store stays the source of truth and
// a dropped update is repaired by the next one.
package projector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quorumdocs/docflow/internal/directory"
	"github.com/quorumdocs/docflow/model"
)

// customFieldKey is the key the legacy document readers expect.
const customFieldKey = "workflow"

// pushTimeout bounds each mirror write so a slow document service cannot
// stall the worker indefinitely.
const pushTimeout = 10 * time.Second

type update struct {
	documentID string
	fields     map[string]any
}

// DocumentProjector pushes instance state to the document service from a
// single worker goroutine fed by a bounded queue. Updates are dropped when
// the queue is full.
type DocumentProjector struct {
	docs    directory.DocumentService
	logger  *zap.Logger
	queue   chan update
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewDocumentProjector creates and starts a projector with the given queue
// size.
func NewDocumentProjector(docs directory.DocumentService, bufferSize int, logger *zap.Logger) *DocumentProjector {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &DocumentProjector{
		docs:   docs,
		logger: logger,
		queue:  make(chan update, bufferSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// ProjectInstance queues a mirror update for the instance's document.
func (p *DocumentProjector) ProjectInstance(inst model.WorkflowInstance) {
	status := "active"
	switch {
	case inst.CompletedAt != nil:
		status = "completed"
	case !inst.IsActive:
		status = "inactive"
	}
	p.enqueue(update{
		documentID: inst.DocumentID,
		fields: map[string]any{
			customFieldKey: map[string]any{
				"workflowInstanceId": inst.ID,
				"workflowId":         inst.WorkflowID,
				"currentStage":       inst.CurrentStageID,
				"status":             status,
				"updatedAt":          time.Now().UTC().Format(time.RFC3339),
			},
		},
	})
}

// ProjectReset queues a mirror clear for the document.
func (p *DocumentProjector) ProjectReset(documentID string) {
	p.enqueue(update{
		documentID: documentID,
		fields:     map[string]any{customFieldKey: nil},
	})
}

// Close stops the worker after draining queued updates.
func (p *DocumentProjector) Close() {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
	<-p.done
}

func (p *DocumentProjector) enqueue(u update) {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- u:
	default:
		p.logger.Warn("projector queue full, dropping update",
			zap.String("document_id", u.documentID))
	}
}

func (p *DocumentProjector) run() {
	defer close(p.done)
	for u := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		if err := p.docs.UpdateCustomFields(ctx, u.documentID, u.fields); err != nil {
			p.logger.Warn("projector update failed",
				zap.String("document_id", u.documentID), zap.Error(err))
		}
		cancel()
	}
}

// NoopProjector discards all updates. Used when the mirror is disabled.
type NoopProjector struct{}

func (NoopProjector) ProjectInstance(model.WorkflowInstance) {}
func (NoopProjector) ProjectReset(string)                    {}
