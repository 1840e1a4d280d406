package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	msgs   chan []byte
	subErr error
}

func (f *fakeBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	return nil
}

func (f *fakeBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return f.msgs, f.subErr
}

func (f *fakeBroker) Close() error { return nil }

func TestConsume_DeliversUntilClosed(t *testing.T) {
	b := &fakeBroker{msgs: make(chan []byte, 3)}
	b.msgs <- []byte("a")
	b.msgs <- []byte("bad")
	b.msgs <- []byte("c")
	close(b.msgs)

	var got []string
	var errs []error
	err := Consume(context.Background(), b, "ch", func(ctx context.Context, p []byte) error {
		if string(p) == "bad" {
			return errors.New("cannot decode")
		}
		got = append(got, string(p))
		return nil
	}, func(err error) { errs = append(errs, err) })

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, got)
	assert.Len(t, errs, 1)
}

func TestConsume_SubscribeError(t *testing.T) {
	b := &fakeBroker{subErr: errors.New("down")}
	err := Consume(context.Background(), b, "ch", nil, nil)
	assert.Error(t, err)
}

func TestConsume_StopsOnContext(t *testing.T) {
	b := &fakeBroker{msgs: make(chan []byte)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, Consume(ctx, b, "ch", func(context.Context, []byte) error { return nil }, nil))
}
