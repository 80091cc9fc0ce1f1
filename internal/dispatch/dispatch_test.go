package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridepool/carpool/internal/models"
)

type fakeConn struct {
	sent      []any
	fail      error
	closed    bool
	deadlines []time.Time
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error {
	f.deadlines = append(f.deadlines, t)
	return nil
}

func (f *fakeConn) WriteJSON(v any) error {
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestPublishReachesActorAndSubject(t *testing.T) {
	r := NewWSRegistry()
	driver, passenger := &fakeConn{}, &fakeConn{}
	r.add("driver", driver)
	r.add("passenger", passenger)

	err := r.Publish(context.Background(), []models.Event{
		{Type: models.EventRideBooked, Actor: "passenger", Subject: "driver"},
		{Type: models.EventRewardIssued, Actor: "carpool:system", Subject: "driver"},
	})
	require.NoError(t, err)
	assert.Len(t, driver.sent, 2)
	assert.Len(t, passenger.sent, 1)
}

func TestFailedSendDropsSession(t *testing.T) {
	r := NewWSRegistry()
	broken := &fakeConn{fail: errors.New("closed pipe")}
	r.add("driver", broken)

	err := r.Publish(context.Background(), []models.Event{{Actor: "driver"}})
	require.Error(t, err)
	assert.True(t, broken.closed)
	assert.Zero(t, r.Len())
	assert.ErrorIs(t, r.Notify("driver", models.Event{}), ErrNoSession)
}

func TestSendSetsWriteDeadline(t *testing.T) {
	r := NewWSRegistry()
	c := &fakeConn{}
	r.add("driver", c)

	start := time.Now()
	require.NoError(t, r.Notify("driver", models.Event{}))
	require.NoError(t, r.Notify("driver", models.Event{}))
	require.Len(t, c.deadlines, 2)
	for _, d := range c.deadlines {
		assert.False(t, d.Before(start.Add(WriteTimeout)))
		assert.True(t, d.Before(time.Now().Add(WriteTimeout+time.Second)))
	}
}

func TestStalledClientDoesNotBlockPublish(t *testing.T) {
	upgraded := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		c, err := (&websocket.Upgrader{WriteBufferSize: 1024}).Upgrade(w, req, nil)
		require.NoError(t, err)
		upgraded <- c
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()
	serverConn := <-upgraded

	// The client never reads, so writes eventually stall on a full socket.
	s := &WSSession{conn: &shortDeadline{Conn: serverConn}}
	big := models.Event{Type: models.EventRideCreated, Actor: models.Address(strings.Repeat("x", 64<<10))}
	done := make(chan error, 1)
	go func() {
		var err error
		for err == nil {
			err = s.Send(big)
		}
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("send blocked past its write deadline")
	}
}

// shortDeadline caps the write deadline so the stall surfaces quickly.
type shortDeadline struct{ *websocket.Conn }

func (c *shortDeadline) SetWriteDeadline(time.Time) error {
	return c.Conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
}

func TestNewSessionReplacesOld(t *testing.T) {
	r := NewWSRegistry()
	old, cur := &fakeConn{}, &fakeConn{}
	r.add("driver", old)
	r.add("driver", cur)
	assert.True(t, old.closed)
	require.NoError(t, r.Notify("driver", models.Event{}))
	assert.Len(t, cur.sent, 1)
}

func TestWSRegistryOverRealConnection(t *testing.T) {
	r := NewWSRegistry()
	ready := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		c, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.Add("driver", c)
		close(ready)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("session never registered")
	}
	require.NoError(t, r.Notify("driver", models.Event{Type: models.EventRewardIssued, Amount: 10}))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got models.Event
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, models.EventRewardIssued, got.Type)
	assert.Equal(t, uint64(10), got.Amount)
}

func TestWebhookPostsBatch(t *testing.T) {
	var body webhookBody
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(srv.URL, "secret")
	require.NoError(t, d.Publish(context.Background(), []models.Event{{ID: "e1", Type: models.EventRideCreated}}))
	assert.Equal(t, "Bearer secret", auth)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "e1", body.Events[0].ID)
}

func TestWebhookReportsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookDispatcher(srv.URL, "").Publish(context.Background(), []models.Event{{ID: "e1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
