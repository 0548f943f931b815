package progress

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devrev/replicawatch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_DeliversInOrder(t *testing.T) {
	ch := NewChannel(0)
	go func() {
		defer ch.Close()
		for i := 1; i <= 5; i++ {
			ch.Send(model.Progress{Written: i, Total: 5})
		}
	}()

	var got []int
	for ev := range ch.Events() {
		got = append(got, ev.Written)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
}

func TestChannel_DetachUnblocksProducer(t *testing.T) {
	ch := NewChannel(0)
	ch.Detach()
	ch.Detach()

	done := make(chan bool)
	go func() {
		done <- ch.Send(model.Progress{Written: 1})
	}()

	select {
	case sent := <-done:
		assert.False(t, sent)
	case <-time.After(time.Second):
		t.Fatal("Send blocked after Detach")
	}
	assert.True(t, ch.IsDetached())
}

func TestWriteEvent(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, WriteEvent(&sb, model.Progress{Message: "Inserted 10 / 20", Written: 10, Total: 20, Percent: 50}))

	out := sb.String()
	assert.True(t, strings.HasPrefix(out, "data: {"))
	assert.True(t, strings.HasSuffix(out, "}\n\n"))
	assert.Contains(t, out, `"message":"Inserted 10 / 20"`)
	assert.Contains(t, out, `"percent":50`)
}

func TestStream_WritesEventsUntilClose(t *testing.T) {
	ch := NewChannel(DefaultBuffer)
	ch.Send(model.Progress{Written: 10, Total: 20, Percent: 50})
	ch.Send(model.Progress{Written: 20, Total: 20, Percent: 100, Done: true})
	ch.Close()

	w := httptest.NewRecorder()
	require.NoError(t, Stream(context.Background(), w, ch))

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	var events []model.Progress
	scanner := bufio.NewScanner(strings.NewReader(w.Body.String()))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev model.Progress
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.True(t, events[1].Done)
	assert.False(t, ch.IsDetached())
}

func TestStream_DetachesWhenContextEnds(t *testing.T) {
	ch := NewChannel(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Stream(ctx, httptest.NewRecorder(), ch)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, ch.IsDetached())
}
