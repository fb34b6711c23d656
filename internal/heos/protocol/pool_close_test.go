package protocol

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPool_SendAfterCloseWhileWaitingForLink(t *testing.T) {
	var dials atomic.Int32
	pool := NewPool(PoolOptions{
		CommandTimeout: time.Second,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			dials.Add(1)
			return nil, errors.New("dial after close")
		},
		Logger: log.New(io.Discard, "", 0),
	})

	// a Send that already holds its link when Close runs
	l, err := pool.getOrCreateLink("h")
	require.NoError(t, err)
	require.NoError(t, pool.Close())

	_, err = pool.sendOn(context.Background(), l, HeartBeat())
	require.ErrorIs(t, err, ErrClosed)
	require.Zero(t, dials.Load(), "a closed pool must not redial")

	// the lock was handed back
	require.NoError(t, l.acquire(context.Background()))
	l.release()
}
