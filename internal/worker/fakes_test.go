package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/repository"
	"github.com/machgiahao/prn222-grading-system-sub001/internal/worker/queue"
)

type fakeConsumer struct {
	msgs chan queue.RabbitMQMessage
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{msgs: make(chan queue.RabbitMQMessage, 8)}
}

func (c *fakeConsumer) Consume(context.Context) (<-chan queue.RabbitMQMessage, error) {
	return c.msgs, nil
}

func (c *fakeConsumer) GetQueueLength() (int, error) { return len(c.msgs), nil }
func (c *fakeConsumer) Close() error                 { return nil }

type published struct {
	exchange   string
	routingKey string
	body       []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.messages = append(p.messages, published{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) sent() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]published, len(p.messages))
	copy(out, p.messages)
	return out
}

type fakeObjectStore struct {
	objects map[string][]byte
	err     error
}

func (s *fakeObjectStore) Download(_ context.Context, _, objectPath string) (io.ReadCloser, int64, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	data, ok := s.objects[repository.NormalizeObjectPath(objectPath)]
	if !ok {
		return nil, 0, repository.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (s *fakeObjectStore) Exists(_ context.Context, _, objectPath string) (bool, error) {
	_, ok := s.objects[repository.NormalizeObjectPath(objectPath)]
	return ok, nil
}

func (s *fakeObjectStore) Ping(context.Context) error { return nil }

type fakeScanService struct {
	result *models.ScanResult
	err    error
	panics bool
	calls  int
	// started is closed when a blocking scan begins; nil means Scan does not block.
	started chan struct{}
}

func (s *fakeScanService) Scan(ctx context.Context, _ models.ScanRequest, r io.Reader) (*models.ScanResult, error) {
	s.calls++
	if s.panics {
		panic("boom")
	}
	if s.started != nil {
		close(s.started)
		<-ctx.Done()
		err := fmt.Errorf("scan interrupted: %w", ctx.Err())
		return models.NewErrorResult(err), err
	}
	if _, err := io.ReadAll(r); err != nil {
		return models.NewErrorResult(err), err
	}
	return s.result, s.err
}

type fakeLedger struct {
	mu       sync.Mutex
	runs     map[string]*models.ScanRun
	attempts map[string]int
	startErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		runs:     make(map[string]*models.ScanRun),
		attempts: make(map[string]int),
	}
}

func (l *fakeLedger) Start(_ context.Context, batchID, examID string) (*models.ScanRun, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.startErr != nil {
		return nil, l.startErr
	}
	l.attempts[batchID]++
	run := &models.ScanRun{
		ID:      batchID + "-" + string(rune('0'+l.attempts[batchID])),
		BatchID: batchID,
		ExamID:  examID,
		Attempt: l.attempts[batchID],
		Status:  models.ScanRunStatusProcessing.String(),
	}
	l.runs[run.ID] = run
	return run, nil
}

func (l *fakeLedger) Complete(_ context.Context, id string, students, violations int) error {
	return l.finish(id, models.ScanRunStatusCompleted, students, violations, nil)
}

func (l *fakeLedger) Fail(_ context.Context, id string, students, violations int, msg string) error {
	return l.finish(id, models.ScanRunStatusFailed, students, violations, &msg)
}

func (l *fakeLedger) finish(id string, status models.ScanRunStatus, students, violations int, msg *string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	run, ok := l.runs[id]
	if !ok {
		return repository.ErrScanRunNotFound
	}
	run.Status = status.String()
	run.StudentCount = students
	run.ViolationCount = violations
	run.ErrorMessage = msg
	return nil
}

func (l *fakeLedger) GetByID(_ context.Context, id string) (*models.ScanRun, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	run, ok := l.runs[id]
	if !ok {
		return nil, repository.ErrScanRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (l *fakeLedger) ListByBatch(_ context.Context, batchID string) ([]models.ScanRun, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.ScanRun
	for _, run := range l.runs {
		if run.BatchID == batchID {
			out = append(out, *run)
		}
	}
	return out, nil
}

func (l *fakeLedger) Ping(context.Context) error { return nil }

var errBrokerDown = errors.New("broker down")

// ackRecorder captures how a delivery was settled.
type ackRecorder struct {
	mu      sync.Mutex
	acked   bool
	nacked  bool
	requeue bool
	settled chan struct{}
}

func newAckRecorder() *ackRecorder {
	return &ackRecorder{settled: make(chan struct{}, 1)}
}

func (a *ackRecorder) message(body []byte) queue.RabbitMQMessage {
	return queue.RabbitMQMessage{
		Body: body,
		Ack: func(bool) error {
			a.mu.Lock()
			a.acked = true
			a.mu.Unlock()
			a.settled <- struct{}{}
			return nil
		},
		Nack: func(_ bool, requeue bool) error {
			a.mu.Lock()
			a.nacked = true
			a.requeue = requeue
			a.mu.Unlock()
			a.settled <- struct{}{}
			return nil
		},
	}
}
