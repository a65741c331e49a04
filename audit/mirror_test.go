package audit_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godamri/helix-activity/audit"
	"github.com/godamri/helix-activity/audit/store/memory"
)

type erroringSink struct {
	mu     sync.Mutex
	writes int
}

func (s *erroringSink) Write(context.Context, audit.Entry) error {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	return errors.New("broker unavailable")
}

func (s *erroringSink) Close() error { return nil }

func TestMirroredStore_SinkErrorDoesNotFailAppend(t *testing.T) {
	sink := &erroringSink{}
	store := audit.NewMirroredStore(memory.New(), sink, discard)

	e, err := store.Append(context.Background(), audit.EntryInput{Action: "admin.user.promote", Summary: "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, 1, sink.writes)

	page, err := store.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestMirroredStore_PrimaryFailureSkipsSink(t *testing.T) {
	sink := &erroringSink{}
	store := audit.NewMirroredStore(&failingStore{}, sink, discard)

	_, err := store.Append(context.Background(), audit.EntryInput{Action: "a.b", Summary: "x"})
	assert.True(t, audit.IsStorageError(err))
	assert.Zero(t, sink.writes)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func TestAsyncWriterSink_WritesJSONLinesAndFlushesOnClose(t *testing.T) {
	var out lockedBuffer
	sink := audit.NewAsyncWriterSink(&out, 16, true, discard)
	store := audit.NewMirroredStore(memory.New(), sink, discard)

	for _, action := range []string{"admin.user.promote", "order.status_change"} {
		_, err := store.Append(context.Background(), audit.EntryInput{Action: action, Summary: "x"})
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	var actions []string
	scanner := bufio.NewScanner(&out.buf)
	for scanner.Scan() {
		var e audit.Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		assert.NotZero(t, e.CreatedAt)
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"admin.user.promote", "order.status_change"}, actions)
}

func TestAsyncWriterSink_WriteAfterCloseIsDropped(t *testing.T) {
	var out lockedBuffer
	sink := audit.NewAsyncWriterSink(&out, 1, false, discard)
	require.NoError(t, sink.Close())

	assert.NoError(t, sink.Write(context.Background(), audit.Entry{Action: "a.b"}))
	assert.Zero(t, out.buf.Len())
}
