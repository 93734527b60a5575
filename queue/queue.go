// Package queue implements the pipeline queue fabric over Redis.
//
// Every pipeline edge has a per-tenant FIFO list tenant:{id}:queue:{stage};
// the multimodal path uses a single global list. Producers LPUSH to the
// head, consumers BRPOP from the tail. Payloads are msgpack-encoded tagged
// job envelopes validated on consume. Delivery is at-least-once; consumers
// are idempotent.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Pipeline stage names, one per queue edge.
const (
	StageParse     = "parse"
	StagePolicy    = "policy"
	StageEmbedding = "embedding"
)

// MultimodalKey is the global queue for image/audio/video jobs.
const MultimodalKey = "multimodal:jobs"

// ErrNoJob is returned by Dequeue when the blocking pop times out with no
// work available. Callers loop.
var ErrNoJob = errors.New("no job available")

// Key returns the queue key for a tenant and stage.
func Key(tenantID, stage string) string {
	return fmt.Sprintf("tenant:%s:queue:%s", tenantID, stage)
}

// Fabric is the queue fabric handle. A single Fabric is safe for concurrent
// use by multiple producers and consumers.
type Fabric struct {
	client *goredis.Client
}

// New creates a queue fabric from a Redis URL
// (redis://[:password@]host:port[/db]).
func New(url string) (*Fabric, error) {
	if url == "" {
		return nil, errors.New("queue fabric requires a redis URL")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("queue: invalid redis URL: %w", err)
	}
	return &Fabric{client: goredis.NewClient(opts)}, nil
}

// NewFromClient wraps an existing Redis client. The caller retains ownership
// of the client lifecycle.
func NewFromClient(client *goredis.Client) *Fabric {
	return &Fabric{client: client}
}

// Client exposes the underlying Redis client for collaborators that share
// the connection (rate limiter, provisioner ACL setup).
func (f *Fabric) Client() *goredis.Client {
	return f.client
}

// Enqueue msgpack-encodes job and pushes it to the head of key.
func (f *Fabric) Enqueue(ctx context.Context, key string, job any) error {
	body, err := msgpack.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: encode job: %w", err)
	}
	if err := f.client.LPush(ctx, key, body).Err(); err != nil {
		return fmt.Errorf("queue: push to %s: %w", key, err)
	}
	return nil
}

// Dequeue blocks on the tail of all keys for up to timeout and returns the
// first available payload with its source key. Returns ErrNoJob on timeout.
func (f *Fabric) Dequeue(ctx context.Context, keys []string, timeout time.Duration) (string, []byte, error) {
	if len(keys) == 0 {
		return "", nil, ErrNoJob
	}
	res, err := f.client.BRPop(ctx, timeout, keys...).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", nil, ErrNoJob
		}
		return "", nil, fmt.Errorf("queue: pop: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return "", nil, fmt.Errorf("queue: unexpected BRPOP reply length %d", len(res))
	}
	return res[0], []byte(res[1]), nil
}

// Len returns the depth of a queue.
func (f *Fabric) Len(ctx context.Context, key string) (int64, error) {
	n, err := f.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: len %s: %w", key, err)
	}
	return n, nil
}

// Close releases the fabric's Redis connection.
func (f *Fabric) Close() error {
	return f.client.Close()
}

// Job is the consumer-side contract: every queue payload validates its own
// kind and shape before the worker acts on it.
type Job interface {
	Validate() error
}

// Decode unmarshals a dequeued payload into job and validates it.
func Decode(payload []byte, job Job) error {
	if err := msgpack.Unmarshal(payload, job); err != nil {
		return fmt.Errorf("queue: decode job: %w", err)
	}
	return job.Validate()
}
