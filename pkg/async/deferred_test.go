package async

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferredSettlesOnce(t *testing.T) {
	d := NewDeferred()

	var values []any
	d.Then(func(v any) {
		values = append(values, v)
	}, nil)

	assert.True(t, d.Resolve("a"))
	assert.False(t, d.Resolve("b"))
	assert.False(t, d.Reject(errors.New("c")))

	assert.Equal(t, []any{"a"}, values)

	v, err, ok := d.Result()
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestDeferredThenAfterSettle(t *testing.T) {
	d := Rejected(errors.New("bad"))

	var got error
	d.Then(nil, func(err error) {
		got = err
	})
	assert.EqualError(t, got, "bad")

	d = Rejected(nil)
	_, err := d.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNilRejection)
}

func TestDeferredWait(t *testing.T) {
	d := NewDeferred()
	go func() {
		time.Sleep(10 * time.Millisecond)
		d.Resolve(42)
	}()

	v, err := d.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	select {
	case <-d.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestDeferredWaitCancelled(t *testing.T) {
	d := NewDeferred()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := d.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type thenable struct {
	value any
}

func (t thenable) Then(onValue func(any), onError func(error)) {
	go onValue(t.value)
}

func TestAwait(t *testing.T) {
	v, err := Await(context.Background(), thenable{value: "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	v, err = Await(context.Background(), Resolved("y"))
	require.NoError(t, err)
	assert.Equal(t, "y", v)
}

func TestGo(t *testing.T) {
	v, err := Go(func() (any, error) {
		return 1, nil
	}).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = Go(func() (any, error) {
		return nil, errors.New("failed")
	}).Wait(context.Background())
	assert.EqualError(t, err, "failed")
}
