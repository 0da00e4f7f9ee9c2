package kafkax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ReadyCheck dials the first reachable broker and, when topics are given,
// confirms each has at least one partition. A consumer group started before
// its topics exist would otherwise sit idle without complaint.
func ReadyCheck(brokers []string, topics ...string) func(context.Context) error {
	return func(ctx context.Context) error {
		if len(brokers) == 0 {
			return errors.New("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		var lastErr error
		for _, b := range brokers {
			conn, err := dialer.DialContext(ctx, "tcp", b)
			if err != nil {
				lastErr = err
				continue
			}
			defer conn.Close()
			if len(topics) == 0 {
				return nil
			}
			parts, err := conn.ReadPartitions(topics...)
			if err != nil {
				return fmt.Errorf("kafka read partitions: %w", err)
			}
			seen := map[string]bool{}
			for _, p := range parts {
				seen[p.Topic] = true
			}
			for _, t := range topics {
				if !seen[t] {
					return fmt.Errorf("kafka topic %q missing", t)
				}
			}
			return nil
		}
		return lastErr
	}
}
