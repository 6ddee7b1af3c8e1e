package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tripmap-offline/internal/storage"
)

var (
	ErrQueueFull   = errors.New("download queue is full")
	ErrUnknownArea = errors.New("unknown area download")
)

type job struct {
	req    Request
	ctx    context.Context
	cancel context.CancelFunc
}

// Queue runs area downloads one at a time and keeps the last progress of each
// area until it is acknowledged
type Queue struct {
	downloader *Downloader
	jobs       chan *job
	log        *logrus.Entry

	mu       sync.Mutex
	progress map[string]Progress
	active   map[string]*job // queued or running

	// Context for cancellation of every job
	ctx        context.Context
	cancelFunc context.CancelFunc

	onProgress func(Progress)
	onComplete func(areaID string, area *storage.DownloadedArea, err error)

	startOnce sync.Once
	workerWg  sync.WaitGroup
}

// NewQueue creates a queue holding at most depth pending downloads
func NewQueue(d *Downloader, depth int, log *logrus.Entry) *Queue {
	if depth < 1 {
		depth = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		downloader: d,
		jobs:       make(chan *job, depth),
		log:        log.WithField("component", "download-queue"),
		progress:   make(map[string]Progress),
		active:     make(map[string]*job),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// SetCallbacks sets event callbacks. Call before Start.
func (q *Queue) SetCallbacks(onProgress func(Progress), onComplete func(string, *storage.DownloadedArea, error)) {
	q.onProgress = onProgress
	q.onComplete = onComplete
}

// Start launches the worker
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		q.workerWg.Add(1)
		go q.worker()
	})
}

// Enqueue schedules a download and returns its area id
func (q *Queue) Enqueue(req Request) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if _, err := q.downloader.Estimate(req.Bounds, req.Zoom); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.active[req.ID]; exists {
		return "", fmt.Errorf("area %s is already queued", req.ID)
	}

	ctx, cancel := context.WithCancel(q.ctx)
	j := &job{req: req, ctx: ctx, cancel: cancel}

	select {
	case q.jobs <- j:
	default:
		cancel()
		return "", ErrQueueFull
	}

	q.active[req.ID] = j
	q.progress[req.ID] = Progress{AreaID: req.ID, Status: StatusPreparing}
	q.log.WithField("area", req.ID).Infof("Queued area download: %s", req.Name)
	return req.ID, nil
}

// Progress returns the last known progress of an area
func (q *Queue) Progress(areaID string) (Progress, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.progress[areaID]
	return p, ok
}

// Acknowledge discards the progress of a finished download
func (q *Queue) Acknowledge(areaID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.progress[areaID]
	if !ok {
		return ErrUnknownArea
	}
	if !p.Status.Terminal() {
		return fmt.Errorf("area %s is still %s", areaID, p.Status)
	}
	delete(q.progress, areaID)
	return nil
}

// Cancel stops a queued or running download. The run ends as failed.
func (q *Queue) Cancel(areaID string) error {
	q.mu.Lock()
	j, ok := q.active[areaID]
	q.mu.Unlock()
	if !ok {
		return ErrUnknownArea
	}
	j.cancel()
	q.log.WithField("area", areaID).Info("Cancelled area download")
	return nil
}

// Close cancels all downloads and waits for the worker to stop
func (q *Queue) Close() {
	q.cancelFunc()
	q.workerWg.Wait()
}

// worker processes downloads in the background
func (q *Queue) worker() {
	defer q.workerWg.Done()
	q.log.Debug("Worker started")
	defer q.log.Debug("Worker stopped")

	for {
		select {
		case <-q.ctx.Done():
			q.drain()
			return
		case j := <-q.jobs:
			q.execute(j)
		}
	}
}

func (q *Queue) execute(j *job) {
	area, err := q.downloader.DownloadArea(j.ctx, j.req, func(p Progress) {
		q.mu.Lock()
		q.progress[p.AreaID] = p
		q.mu.Unlock()

		if q.onProgress != nil {
			q.onProgress(p)
		}
	})
	j.cancel()

	q.mu.Lock()
	delete(q.active, j.req.ID)
	q.mu.Unlock()

	if q.onComplete != nil {
		q.onComplete(j.req.ID, area, err)
	}
}

// drain marks jobs that never started as failed
func (q *Queue) drain() {
	for {
		select {
		case j := <-q.jobs:
			j.cancel()
			q.mu.Lock()
			delete(q.active, j.req.ID)
			q.progress[j.req.ID] = Progress{AreaID: j.req.ID, Status: StatusFailed, Error: q.ctx.Err().Error()}
			q.mu.Unlock()
		default:
			return
		}
	}
}
