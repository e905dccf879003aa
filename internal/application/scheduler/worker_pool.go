package scheduler

import (
	"context"
	"sync"

	"3tcapital/ms_emision_electronica/internal/core/document"

	"github.com/sourcegraph/conc/panics"
)

// DocumentJob is one stale document handed to a worker.
type DocumentJob struct {
	Document *document.Document
	Index    int
}

// DocumentResult is what a worker learned about one document.
type DocumentResult struct {
	DocumentID string
	From       document.State
	To         document.State
	// StageErr is the stage error the workflow reported; the document may still be fine.
	StageErr error
	// Err is set when the document could not be processed at all.
	Err      error
	Conflict bool
	Index    int
}

// ProcessFunc advances one document.
type ProcessFunc func(ctx context.Context, doc *document.Document) DocumentResult

// DocumentWorkerPool processes the documents of one tenant with a fixed number of workers.
type DocumentWorkerPool struct {
	workerCount int
	jobChan     chan DocumentJob
	resultChan  chan DocumentResult
	process     ProcessFunc
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewDocumentWorkerPool creates a pool. It is single use: call ProcessDocuments once.
func NewDocumentWorkerPool(ctx context.Context, workerCount int, process ProcessFunc) *DocumentWorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	poolCtx, cancel := context.WithCancel(ctx)

	return &DocumentWorkerPool{
		workerCount: workerCount,
		jobChan:     make(chan DocumentJob, workerCount*2),
		resultChan:  make(chan DocumentResult, workerCount*2),
		process:     process,
		ctx:         poolCtx,
		cancel:      cancel,
	}
}

// Start starts the workers.
func (p *DocumentWorkerPool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Submit queues a job, giving up when the pool context ends.
func (p *DocumentWorkerPool) Submit(job DocumentJob) error {
	select {
	case p.jobChan <- job:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// Results returns the channel for receiving results. It is closed once every worker exited.
func (p *DocumentWorkerPool) Results() <-chan DocumentResult {
	return p.resultChan
}

func (p *DocumentWorkerPool) worker() {
	defer p.wg.Done()

	for job := range p.jobChan {
		result := p.handle(job)

		select {
		case p.resultChan <- result:
		case <-p.ctx.Done():
			return
		}
	}
}

// handle runs one job. A panic fails the job, not the worker.
func (p *DocumentWorkerPool) handle(job DocumentJob) (result DocumentResult) {
	var pc panics.Catcher
	pc.Try(func() {
		result = p.process(p.ctx, job.Document)
	})
	if r := pc.Recovered(); r != nil {
		result = DocumentResult{
			DocumentID: job.Document.ID,
			From:       job.Document.State,
			To:         job.Document.State,
			Err:        r.AsError(),
		}
	}
	result.Index = job.Index
	return result
}

// ProcessDocuments runs every document through the pool and returns the results in
// submission order. Documents not reached before ctx ends are left out.
func (p *DocumentWorkerPool) ProcessDocuments(docs []*document.Document) []DocumentResult {
	p.Start()

	go func() {
		defer close(p.jobChan)
		for i, doc := range docs {
			if err := p.Submit(DocumentJob{Document: doc, Index: i}); err != nil {
				return
			}
		}
	}()
	go func() {
		p.wg.Wait()
		close(p.resultChan)
	}()

	ordered := make([]*DocumentResult, len(docs))
	for result := range p.Results() {
		result := result
		ordered[result.Index] = &result
	}
	p.cancel()

	results := make([]DocumentResult, 0, len(docs))
	for _, r := range ordered {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results
}
