// Package kafka implements the queue transport on Kafka with franz-go.
//
// The producer waits for all in-sync replicas. The consumer joins a consumer
// group and commits only offsets whose handler returned nil, so a crash or a
// failed save results in redelivery, never loss.
package kafka

import (
	"github.com/twmb/franz-go/pkg/kgo"

	"wms/pkg/platform/queue"
)

func toRecord(msg *queue.Message) *kgo.Record {
	rec := &kgo.Record{
		Topic: msg.Topic,
		Key:   msg.Key,
		Value: msg.Value,
	}
	for k, v := range msg.Headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return rec
}

func toMessage(rec *kgo.Record, attempt int) *queue.Message {
	msg := &queue.Message{
		Topic:   rec.Topic,
		Key:     rec.Key,
		Value:   rec.Value,
		Attempt: attempt,
	}
	for _, h := range rec.Headers {
		msg.SetHeader(h.Key, string(h.Value))
	}
	return msg
}

// attempts counts consecutive deliveries of the record at the head of each
// partition. Kafka itself keeps no delivery count.
type attempts struct {
	head map[int32]attempt
}

type attempt struct {
	offset int64
	count  int
}

func newAttempts() *attempts {
	return &attempts{head: make(map[int32]attempt)}
}

// next returns the delivery number for rec.
func (a *attempts) next(rec *kgo.Record) int {
	cur, ok := a.head[rec.Partition]
	if !ok || cur.offset != rec.Offset {
		cur = attempt{offset: rec.Offset}
	}
	cur.count++
	a.head[rec.Partition] = cur
	return cur.count
}

// done forgets the partition head once its record is acknowledged.
func (a *attempts) done(rec *kgo.Record) {
	if cur, ok := a.head[rec.Partition]; ok && cur.offset == rec.Offset {
		delete(a.head, rec.Partition)
	}
}
