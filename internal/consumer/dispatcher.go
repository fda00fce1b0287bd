package consumer

import (
	"context"
	"sync"

	"github.com/weiawesome/wes-io-chat/internal/retry"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Committer acknowledges a record so it is not redelivered.
type Committer interface {
	Commit(rec Record) error
}

// DeadLetterPublisher moves a record that exhausted its retries out of the
// main topic.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, rec Record, cause error, attempts int) error
}

// Dispatcher runs one worker per topic partition. Records of a partition are
// handled in offset order; different partitions proceed independently.
//
// A record that cannot be acknowledged rewinds its partition: later records
// already queued are discarded and the partition waits for the broker to
// redeliver from that offset.
type Dispatcher struct {
	handler   Handler
	policy    retry.Policy
	committer Committer
	dlq       DeadLetterPublisher
	queueSize int

	// ctx bounds retry backoff waits; work is never cancelled mid-attempt.
	ctx  context.Context
	work context.Context

	mu      sync.Mutex
	workers map[string]*partitionWorker
	rewinds []Record
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. dlq may be nil, in which case records
// that exhaust the policy are logged and acknowledged.
func NewDispatcher(ctx context.Context, handler Handler, policy retry.Policy, committer Committer, dlq DeadLetterPublisher, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		handler:   handler,
		policy:    policy,
		committer: committer,
		dlq:       dlq,
		queueSize: queueSize,
		ctx:       ctx,
		work:      context.WithoutCancel(ctx),
		workers:   make(map[string]*partitionWorker),
	}
}

// Dispatch queues rec on its partition worker. It returns false when the
// partition queue is full; the caller must pause the partition and seek back
// to rec.Offset. Records other than the expected offset of a rewound or
// paused partition are ignored.
func (d *Dispatcher) Dispatch(rec Record) bool {
	w := d.worker(rec)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.expect >= 0 {
		if rec.Offset != w.expect {
			return true
		}
		w.expect = -1
	}

	select {
	case w.queue <- queued{rec: rec, gen: w.gen}:
		return true
	default:
		w.paused = true
		w.expect = rec.Offset
		return false
	}
}

// Resumable returns the paused partitions whose queue has drained below half
// capacity and marks them running again.
func (d *Dispatcher) Resumable() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Record
	for _, w := range d.workers {
		w.mu.Lock()
		if w.paused && len(w.queue) < cap(w.queue)/2 {
			w.paused = false
			out = append(out, Record{Topic: w.topic, Partition: w.partition})
		}
		w.mu.Unlock()
	}
	return out
}

// Rewinds returns and clears the positions the caller must seek back to.
func (d *Dispatcher) Rewinds() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := d.rewinds
	d.rewinds = nil
	return out
}

// Revoke stops the workers of the given partitions after their in-flight
// record. Queued records are dropped and will be redelivered to the new
// owner.
func (d *Dispatcher) Revoke(partitions []Record) {
	d.mu.Lock()
	var stopped []*partitionWorker
	for _, p := range partitions {
		key := p.partitionKey()
		if w, ok := d.workers[key]; ok {
			close(w.stop)
			stopped = append(stopped, w)
			delete(d.workers, key)
		}
	}
	d.mu.Unlock()

	for _, w := range stopped {
		<-w.done
	}
}

// Close stops every worker and waits for in-flight records to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	for key, w := range d.workers {
		close(w.stop)
		delete(d.workers, key)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) worker(rec Record) *partitionWorker {
	key := rec.partitionKey()

	d.mu.Lock()
	defer d.mu.Unlock()

	if w, ok := d.workers[key]; ok {
		return w
	}

	w := &partitionWorker{
		d:         d,
		topic:     rec.Topic,
		partition: rec.Partition,
		queue:     make(chan queued, d.queueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		expect:    -1,
	}
	d.workers[key] = w

	d.wg.Add(1)
	go w.run()

	return w
}

func (d *Dispatcher) addRewind(rec Record) {
	d.mu.Lock()
	d.rewinds = append(d.rewinds, rec)
	d.mu.Unlock()
}

type queued struct {
	rec Record
	gen uint64
}

type partitionWorker struct {
	d         *Dispatcher
	topic     string
	partition int32
	queue     chan queued
	stop      chan struct{}
	done      chan struct{}

	mu     sync.Mutex
	gen    uint64
	expect int64
	paused bool
}

func (w *partitionWorker) run() {
	defer w.d.wg.Done()
	defer close(w.done)

	for {
		select {
		case <-w.stop:
			return
		case item := <-w.queue:
			select {
			case <-w.stop:
				return
			default:
			}

			w.mu.Lock()
			stale := item.gen != w.gen
			w.mu.Unlock()
			if stale {
				continue
			}

			if !w.d.handle(item.rec) {
				w.rewind(item.rec)
			}
		}
	}
}

// rewind invalidates everything queued after rec and asks the poll loop to
// seek back to it.
func (w *partitionWorker) rewind(rec Record) {
	w.mu.Lock()
	w.gen++
	w.expect = rec.Offset
	w.mu.Unlock()

	w.d.addRewind(rec)
}

// handle runs one record through the retry policy and acknowledges it
// according to the outcome. It returns false when the record was left
// unacknowledged.
func (d *Dispatcher) handle(rec Record) bool {
	l := log.L().With().
		Str(log.FieldTopic, rec.Topic).
		Int32(log.FieldPartition, rec.Partition).
		Int64(log.FieldOffset, rec.Offset).
		Logger()
	ctx := log.WithLogger(d.work, l)

	outcome := d.policy.Execute(d.ctx, func(context.Context) error {
		return d.handler(ctx, rec)
	})

	switch {
	case outcome.Aborted:
		l.Info().Int(log.FieldAttempts, outcome.Attempts).Msg("shutdown during backoff, record left for redelivery")
		return false

	case outcome.DeadLetter:
		if d.dlq == nil {
			l.Error().Err(outcome.Err).Int(log.FieldAttempts, outcome.Attempts).Msg("record dropped after retries")
			break
		}
		if err := d.dlq.Publish(ctx, rec, outcome.Err, outcome.Attempts); err != nil {
			l.Error().Err(err).Msg("dead-letter publish failed, record left for redelivery")
			return false
		}
		l.Warn().Err(outcome.Err).Int(log.FieldAttempts, outcome.Attempts).Msg("record dead-lettered")

	default:
		if outcome.Attempts > 1 {
			l.Info().Int(log.FieldAttempts, outcome.Attempts).Msg("record succeeded after retry")
		}
	}

	if err := d.committer.Commit(rec); err != nil {
		l.Error().Err(err).Msg("failed to commit offset")
	}
	return true
}
