package kafka

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// Handler must return nil only when processing succeeded and the offset
// may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// Consumer fans messages from one or more topics out to a shared worker
// pool. One reader per topic; offsets are committed manually after the
// handler succeeds.
type Consumer struct {
	readers []*kafka.Reader
	workers int
}

func NewConsumer(brokers []string, group string, topics []string, workers int) *Consumer {
	readers := make([]*kafka.Reader, 0, len(topics))
	for _, topic := range topics {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			GroupID:        group,
			Topic:          topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0, // manual commit
		}))
	}
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{readers: readers, workers: workers}
}

type job struct {
	r *kafka.Reader
	m kafka.Message
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	jobs := make(chan job, 1024)

	var g errgroup.Group
	for i := 0; i < c.workers; i++ {
		g.Go(func() error {
			for j := range jobs {
				if err := h(ctx, j.m); err != nil {
					log.Printf("handler error: %v", err)
					time.Sleep(200 * time.Millisecond) // light backoff, no commit
					continue
				}
				if err := j.r.CommitMessages(ctx, j.m); err != nil && ctx.Err() == nil {
					log.Printf("commit error: %v", err)
				}
			}
			return nil
		})
	}

	var rg errgroup.Group
	for _, r := range c.readers {
		r := r
		rg.Go(func() error {
			defer r.Close()
			for {
				m, err := r.ReadMessage(ctx)
				if err != nil {
					// quieten shutdown noise
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				select {
				case jobs <- job{r: r, m: m}:
				case <-ctx.Done():
					return nil
				}
			}
		})
	}

	err := rg.Wait()
	close(jobs)
	_ = g.Wait()
	return err
}
