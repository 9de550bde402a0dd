package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TypeReconcile asks the worker to check one student's total.
const TypeReconcile = "reconcile.student"

// Message is one unit of background work.
type Message struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// ReconcileJob names the student whose total should be checked and why.
type ReconcileJob struct {
	StudentID string    `json:"student_id"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// Queue is the abstraction over the backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// New picks the backend named by backend. Anything but "memory" uses Redis.
func New(backend string, client *redis.Client, key string) Queue {
	if backend == "memory" || client == nil {
		return NewInMemory(64)
	}
	return NewRedisQueue(client, key)
}

// InMemory is a channel-backed queue for development and tests.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// ErrFull is returned when the in-memory buffer has no room. The periodic
// sweep picks up whatever was dropped.
var ErrFull = errors.New("queue full")

// Publish enqueues a message without waiting for buffer space.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrFull
	}
}

// Consume returns a channel that yields messages until ctx ends.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue is a Redis list used with LPUSH/BRPOP.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "servicehours:reconcile"
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return q.client.LPush(ctx, q.key, raw).Err()
}

// Consume streams messages using BRPOP. Undecodable payloads are dropped.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					time.Sleep(time.Second)
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Scheduler enqueues reconcile jobs.
type Scheduler struct {
	q Queue
}

func NewScheduler(q Queue) *Scheduler {
	return &Scheduler{q: q}
}

// Schedule asks the worker to reconcile studentID.
func (s *Scheduler) Schedule(ctx context.Context, studentID, reason string) error {
	body, err := json.Marshal(ReconcileJob{StudentID: studentID, Reason: reason, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.q.Publish(ctx, Message{Type: TypeReconcile, Body: body})
}

// DecodeReconcile extracts the job from a reconcile message.
func DecodeReconcile(msg Message) (ReconcileJob, error) {
	if msg.Type != TypeReconcile {
		return ReconcileJob{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var job ReconcileJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return ReconcileJob{}, fmt.Errorf("decode reconcile job: %w", err)
	}
	if job.StudentID == "" {
		return ReconcileJob{}, errors.New("reconcile job without student")
	}
	return job, nil
}
