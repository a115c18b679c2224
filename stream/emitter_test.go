package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segmesh/core"
	"github.com/hupe1980/segmesh/internal/testutil"
)

func TestEmitter_OrderAndSeq(t *testing.T) {
	e := NewEmitter("run-1")

	require.NoError(t, e.Emit(core.NewEvent("", core.EventAgentStart, nil)))
	require.NoError(t, e.Emit(core.NewEvent("", core.EventRoundStart, core.RoundStartData{Round: 1})))
	require.NoError(t, e.Emit(core.NewEvent("", core.EventAgentComplete, nil)))

	events := testutil.Drain(e.Events(), time.Second)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, "run-1", ev.RunID)
	}
	assert.Equal(t, []core.EventType{core.EventAgentStart, core.EventRoundStart, core.EventAgentComplete}, testutil.Types(events))

	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("emitter did not finish")
	}
}

func TestEmitter_SingleTerminal(t *testing.T) {
	e := NewEmitter("run-1")

	require.NoError(t, e.Emit(core.NewEvent("run-1", core.EventError, core.ErrorData{Message: "boom"})))
	assert.ErrorIs(t, e.Emit(core.NewEvent("run-1", core.EventAgentComplete, nil)), ErrClosed)
	assert.ErrorIs(t, e.Emit(core.NewEvent("run-1", core.EventRoundStart, nil)), ErrClosed)
	assert.True(t, e.Closed())

	events := testutil.Drain(e.Events(), time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, core.EventError, events[0].Type)

	term, ok := e.Terminal()
	require.True(t, ok)
	assert.Equal(t, core.EventError, term.Type)
}

func TestEmitter_NeverBlocksWithoutConsumer(t *testing.T) {
	e := NewEmitter("run-1", func(o *Options) { o.Buffer = 0 })

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = e.Emit(core.NewEvent("run-1", core.EventReasoningChunk, core.ReasoningChunkData{Delta: "x"}))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow consumer")
	}

	e.Close()
	events := testutil.Drain(e.Events(), 2*time.Second)
	assert.Len(t, events, 1000)
	assert.Len(t, e.History(), 1000)
}

func TestEmitter_ConcurrentEmitKeepsSeqStrict(t *testing.T) {
	e := NewEmitter("run-1")

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = e.Emit(core.NewEvent("run-1", core.EventReasoningChunk, nil))
			}
		}()
	}
	wg.Wait()
	e.Close()

	events := testutil.Drain(e.Events(), 2*time.Second)
	require.Len(t, events, 400)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestEmitter_Discard(t *testing.T) {
	e := NewEmitter("run-1", func(o *Options) { o.Buffer = 0 })
	for i := 0; i < 10; i++ {
		require.NoError(t, e.Emit(core.NewEvent("run-1", core.EventReasoningChunk, nil)))
	}

	e.Discard()

	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("discard did not stop the pump")
	}
	assert.Len(t, e.History(), 10)
	assert.ErrorIs(t, e.Emit(core.NewEvent("run-1", core.EventAgentComplete, nil)), ErrClosed)
}

func TestEmitter_TerminalAbsent(t *testing.T) {
	e := NewEmitter("run-1")
	require.NoError(t, e.Emit(core.NewEvent("run-1", core.EventAgentStart, nil)))

	_, ok := e.Terminal()
	assert.False(t, ok)
	e.Close()
}
