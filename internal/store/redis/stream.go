// Package redis provides the optional Redis Streams mirror of the signal
// queue, for deployments where downstream consumers prefer a broker over
// tailing files. Disabled by default; the file queue remains authoritative.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// MessageTransport publishes pipeline records to a named stream.
type MessageTransport interface {
	Publish(ctx context.Context, stream string, payload any) error
	Close() error
}

// Stream publishes to Redis Streams via XADD, one JSON document per entry
// under the "data" field.
type Stream struct {
	client *redis.Client
}

func NewStream(url string) (*Stream, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Stream{client: client}, nil
}

func (s *Stream) Publish(ctx context.Context, stream string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal stream payload: %w", err)
	}
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": string(data)},
	}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}

func (s *Stream) Close() error {
	return s.client.Close()
}

// InMemoryStream is the stand-in transport used when mirroring is disabled
// and in tests.
type InMemoryStream struct {
	mu      sync.Mutex
	entries map[string][]string
}

func NewInMemoryStream() *InMemoryStream {
	return &InMemoryStream{entries: make(map[string][]string)}
}

func (s *InMemoryStream) Publish(_ context.Context, stream string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal stream payload: %w", err)
	}
	s.mu.Lock()
	s.entries[stream] = append(s.entries[stream], string(data))
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStream) Close() error { return nil }

// Entries returns the published payloads for a stream. Test helper.
func (s *InMemoryStream) Entries(stream string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.entries[stream]...)
}
