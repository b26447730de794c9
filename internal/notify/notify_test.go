package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/logger"
	"dispatch/internal/metrics"
)

type captured struct {
	mu     sync.Mutex
	bodies []map[string]string
}

func (c *captured) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (c *captured) all() []map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]string(nil), c.bodies...)
}

func TestChatAndSheetPayloads(t *testing.T) {
	chat, sheet := &captured{}, &captured{}
	chatSrv := httptest.NewServer(chat.handler(http.StatusOK))
	defer chatSrv.Close()
	sheetSrv := httptest.NewServer(sheet.handler(http.StatusOK))
	defer sheetSrv.Close()

	f := NewFanout(logger.Nop(), nil, time.Second,
		&ChatWebhook{URL: chatSrv.URL, ChatID: "-100"},
		&SheetWebhook{URL: sheetSrv.URL},
	)
	f.Notify(context.Background(), Event{Kind: KindAcceptedNow, OrderID: "o1", RiderName: "Aung", Status: "accepted", Item: "rice", Fee: 1500})
	f.Notify(context.Background(), Event{Kind: KindClaimedTomorrow, OrderID: "o2", RiderName: "Aung", Status: "pending_confirmation"})
	f.Wait()

	chats := chat.all()
	require.Len(t, chats, 2)
	assert.Equal(t, "-100", chats[0]["chat_id"])
	assert.NotEmpty(t, chats[0]["text"])

	sheets := sheet.all()
	require.Len(t, sheets, 1, "sheet only records immediate accepts")
	assert.Equal(t, map[string]string{"action": "accept", "orderId": "o1", "riderName": "Aung", "status": "accepted"}, sheets[0])
}

func TestFanoutCountsFailures(t *testing.T) {
	srv := httptest.NewServer((&captured{}).handler(http.StatusInternalServerError))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m := metrics.NewDispatch(reg)
	f := NewFanout(logger.Nop(), m, time.Second, &ChatWebhook{URL: srv.URL})
	f.Notify(context.Background(), Event{Kind: KindScheduledStarted, OrderID: "o1"})
	f.Wait()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "dispatch_notify_failures_total" {
			found = mf.GetMetric()[0].GetCounter().GetValue() == 1
		}
	}
	assert.True(t, found, "failed chat delivery should be counted")
}

func TestFanoutIgnoresCallerCancel(t *testing.T) {
	chat := &captured{}
	srv := httptest.NewServer(chat.handler(http.StatusOK))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	f := NewFanout(nil, nil, time.Second, &ChatWebhook{URL: srv.URL})
	f.Notify(ctx, Event{Kind: KindAcceptedNow, OrderID: "o1"})
	cancel()
	f.Wait()
	assert.Len(t, chat.all(), 1)
}

type fakeFCM struct {
	mu   sync.Mutex
	msgs []*messaging.Message
	err  error
}

func (f *fakeFCM) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return "msg-1", f.err
}

func TestPushTopicMessage(t *testing.T) {
	fcm := &fakeFCM{}
	p := &Push{Client: fcm}
	err := p.Send(context.Background(), Event{Kind: KindStatusChanged, OrderID: "o9", Status: "arrived", Fee: 2000, At: time.Unix(100, 0)})
	require.NoError(t, err)
	require.Len(t, fcm.msgs, 1)
	assert.Equal(t, "order_o9", fcm.msgs[0].Topic)
	assert.Equal(t, "arrived", fcm.msgs[0].Data["status"])
	assert.Equal(t, "2000", fcm.msgs[0].Data["fee"])

	fcm.err = errors.New("unavailable")
	assert.Error(t, p.Send(context.Background(), Event{OrderID: "o9"}))
}
