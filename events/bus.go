package events

import (
	"context"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/etlflow/types"
	"github.com/warriorguo/etlflow/utils"
)

const (
	TopicTaskState = "etlflow.task_state"
)

var (
	_ types.EventPublisher = &Bus{}
)

// Bus fans task state transitions out to in-process subscribers. Events
// published while nobody subscribes are dropped. Publish waits for the
// subscribers to ack, which keeps the events of a task in order.
type Bus struct {
	pubsub *gochannel.GoChannel
}

func NewBus(debug bool) *Bus {
	logger := watermill.NewStdLogger(debug, false)
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				Persistent:                     false,
				BlockPublishUntilSubscriberAck: true,
			},
			logger,
		),
	}
}

func (b *Bus) PublishTaskEvent(event *types.TaskEvent) error {
	payload, err := utils.Serialize(event)
	if err != nil {
		return errors.Trace(err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("run_id", event.RunID)
	msg.Metadata.Set("task", event.Task)
	msg.Metadata.Set("status", event.Status.String())
	msg.Metadata.Set("attempt", strconv.Itoa(event.Attempt))

	return errors.Annotatef(b.pubsub.Publish(TopicTaskState, msg), "publish %s of %s", event.Status, event.Task)
}

// Subscribe returns the decoded events published from now on. The channel is
// closed when ctx is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *types.TaskEvent, error) {
	msgs, err := b.pubsub.Subscribe(ctx, TopicTaskState)
	if err != nil {
		return nil, errors.Annotatef(err, "subscribe %s", TopicTaskState)
	}

	out := make(chan *types.TaskEvent, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			event := &types.TaskEvent{}
			err := utils.Unserialize(msg.Payload, event)
			msg.Ack()
			if err != nil {
				log.Errorf("drop malformed task event %s: %v", msg.UUID, err)
				continue
			}

			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// LogEvents writes every event to the log until ctx is done.
func (b *Bus) LogEvents(ctx context.Context) error {
	events, err := b.Subscribe(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	go func() {
		for event := range events {
			entry := log.WithFields(log.Fields{
				"run_id":  event.RunID,
				"dag":     event.DAGName,
				"task":    event.Task,
				"attempt": event.Attempt,
			})
			if event.Error != "" {
				entry = entry.WithField("error", event.Error)
			}
			entry.Infof("task %s", event.Status)
		}
	}()
	return nil
}

func (b *Bus) Close() error {
	return errors.Trace(b.pubsub.Close())
}
