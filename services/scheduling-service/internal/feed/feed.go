package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/documed/documed/services/scheduling-service/internal/model"
)

// ErrInterrupted is the terminal error of a subscription whose upstream
// could not be re-established. Clients are expected to reconnect and
// re-fetch the agenda before resuming.
var ErrInterrupted = errors.New("feed interrupted")

// ChangeEvent announces that an appointment's lifecycle moved. It carries
// only identity and the new status; subscribers re-fetch the full record.
type ChangeEvent struct {
	AppointmentID string       `json:"appointment_id"`
	ProviderID    string       `json:"provider_id"`
	RequesterID   string       `json:"requester_id"`
	Status        model.Status `json:"status"`
	At            time.Time    `json:"at"`
}

// Filter scopes a subscription to one side of the schedule. Exactly one of
// the two IDs must be set.
type Filter struct {
	ProviderID  string
	RequesterID string
}

func (f Filter) Validate() error {
	if (f.ProviderID == "") == (f.RequesterID == "") {
		return errors.New("feed filter needs exactly one of provider or requester id")
	}
	return nil
}

func (f Filter) channel() string {
	if f.ProviderID != "" {
		return providerChannel(f.ProviderID)
	}
	return requesterChannel(f.RequesterID)
}

func providerChannel(id string) string  { return "scheduling.feed.provider." + id }
func requesterChannel(id string) string { return "scheduling.feed.requester." + id }

// Notifier fans a change out to both parties' channels. Publish failures are
// logged and swallowed: the feed is best-effort, the record store is the
// source of truth.
type Notifier struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewNotifier(rdb *redis.Client, logger *slog.Logger) *Notifier {
	return &Notifier{rdb: rdb, logger: logger}
}

func (n *Notifier) Notify(ctx context.Context, evt ChangeEvent) {
	if n == nil || n.rdb == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		n.logger.Error("feed event marshal failed", "err", err)
		return
	}
	for _, ch := range []string{providerChannel(evt.ProviderID), requesterChannel(evt.RequesterID)} {
		if err := n.rdb.Publish(ctx, ch, payload).Err(); err != nil {
			n.logger.Warn("feed publish failed", "channel", ch, "err", err)
		}
	}
}

// receiver is the slice of redis.PubSub a subscription consumes, so tests
// can drive the loop without a broker.
type receiver interface {
	ReceiveMessage(ctx context.Context) (*redis.Message, error)
	Close() error
}

type subscribeFn func(ctx context.Context, channel string) (receiver, error)

// Feed hands out live subscriptions over Redis pub/sub.
type Feed struct {
	logger     *slog.Logger
	subscribe  subscribeFn
	maxRetries int
	baseDelay  time.Duration
}

func New(rdb *redis.Client, logger *slog.Logger) *Feed {
	return &Feed{
		logger: logger,
		subscribe: func(ctx context.Context, channel string) (receiver, error) {
			if rdb == nil {
				return nil, errors.New("redis not configured")
			}
			ps := rdb.Subscribe(ctx, channel)
			// Subscribe does not dial eagerly; force the handshake so a dead
			// broker fails here instead of on first receive.
			if _, err := ps.Receive(ctx); err != nil {
				_ = ps.Close()
				return nil, err
			}
			return ps, nil
		},
		maxRetries: 5,
		baseDelay:  200 * time.Millisecond,
	}
}

type Subscription struct {
	C      <-chan ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Err reports why the stream ended. It is valid only after C is closed.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Subscribe opens a live stream of change events matching f. The stream
// survives transient broker drops via bounded retries; when they are
// exhausted, C closes and Err returns ErrInterrupted.
func (f *Feed) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan ChangeEvent, 16)
	sub := &Subscription{C: out, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer close(out)
		sub.err = f.run(ctx, filter.channel(), out)
	}()
	return sub, nil
}

func (f *Feed) run(ctx context.Context, channel string, out chan<- ChangeEvent) error {
	retries := 0
	for {
		rcv, err := f.subscribe(ctx, channel)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			retries++
			if retries > f.maxRetries {
				f.logger.Warn("feed subscription gave up", "channel", channel, "err", err)
				return fmt.Errorf("%w: %v", ErrInterrupted, err)
			}
			delay := f.baseDelay << (retries - 1)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		retries = 0

		err = f.pump(ctx, rcv, out)
		_ = rcv.Close()
		if ctx.Err() != nil {
			return nil
		}
		f.logger.Warn("feed stream dropped, resubscribing", "channel", channel, "err", err)
	}
}

func (f *Feed) pump(ctx context.Context, rcv receiver, out chan<- ChangeEvent) error {
	for {
		msg, err := rcv.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		var evt ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			f.logger.Warn("dropping malformed feed event", "err", err)
			continue
		}
		select {
		case out <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
