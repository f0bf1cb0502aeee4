package server_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/renga/internal/model"
	"github.com/ashita-ai/renga/internal/server"
	"github.com/ashita-ai/renga/internal/testutil"
)

func TestBroker_FanOut(t *testing.T) {
	b := server.NewBroker(4, testutil.TestLogger())
	notebookID := uuid.New()

	ch1 := b.Subscribe(notebookID)
	ch2 := b.Subscribe(notebookID)
	defer b.Unsubscribe(ch1)
	defer b.Unsubscribe(ch2)
	assert.Equal(t, 2, b.Subscribers())

	b.Publish(model.RunEvent{Type: model.RunEventRunStarted, NotebookID: notebookID})

	for _, ch := range []chan []byte{ch1, ch2} {
		select {
		case event := <-ch:
			assert.Contains(t, string(event), "event: run_started")
			assert.Contains(t, string(event), notebookID.String())
		default:
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestBroker_NotebookFilter(t *testing.T) {
	b := server.NewBroker(4, testutil.TestLogger())
	watched, other := uuid.New(), uuid.New()

	scoped := b.Subscribe(watched)
	all := b.Subscribe(uuid.Nil)
	defer b.Unsubscribe(scoped)
	defer b.Unsubscribe(all)

	b.Publish(model.RunEvent{Type: model.RunEventRunStarted, NotebookID: other})

	select {
	case <-scoped:
		t.Fatal("scoped subscriber should not see other notebooks")
	default:
	}
	select {
	case <-all:
	default:
		t.Fatal("nil-scoped subscriber sees every notebook")
	}
}

func TestBroker_DropsWhenSubscriberFull(t *testing.T) {
	b := server.NewBroker(1, testutil.TestLogger())
	notebookID := uuid.New()

	ch := b.Subscribe(notebookID)
	defer b.Unsubscribe(ch)

	// The buffer holds one event; the second is dropped, not blocked on.
	b.Publish(model.RunEvent{Type: model.RunEventCellStarted, NotebookID: notebookID})
	b.Publish(model.RunEvent{Type: model.RunEventCellCompleted, NotebookID: notebookID})

	event := <-ch
	require.Contains(t, string(event), "cell_started")
	select {
	case extra := <-ch:
		t.Fatalf("expected the second event to be dropped, got %s", extra)
	default:
	}
}

func TestBroker_UnsubscribeClosesChannel(t *testing.T) {
	b := server.NewBroker(1, testutil.TestLogger())
	ch := b.Subscribe(uuid.Nil)
	b.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, b.Subscribers())
}
