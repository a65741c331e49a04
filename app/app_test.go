package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestRunner_ClosersRunInReverse(t *testing.T) {
	r := NewRunner(discard, time.Second)
	var order []string
	for _, name := range []string{"db", "bus", "server"} {
		r.OnShutdown(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.run(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"server", "bus", "db"}, order)
}

func TestRunner_ReportsErrors(t *testing.T) {
	r := NewRunner(discard, time.Second)
	closeErr := errors.New("flush failed")
	r.OnShutdown("mirror", Closer(func() error { return closeErr }))

	runErr := errors.New("listen: address in use")
	err := r.run(context.Background(), func(context.Context) error { return runErr })
	assert.ErrorIs(t, err, runErr)
	assert.ErrorIs(t, err, closeErr)
}
