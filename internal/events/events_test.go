package events

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
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/betting-exchange/internal/model"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleTrade(marketID string) model.Trade {
	return model.Trade{
		ID:        "t1",
		Purchaser: "alice",
		MarketID:  marketID,
		OrderID:   "o1",
		Side:      model.For,
		Stake:     50,
		Price:     decimal.RequireFromString("2.5"),
		CreatedAt: at,
	}
}

type failing struct{ err error }

func (f failing) Publish(context.Context, Event) error { return f.err }

func TestFanout(t *testing.T) {
	var a, b Recorder
	boom := errors.New("boom")
	f := Fanout{&a, failing{boom}, &b}

	err := f.Publish(context.Background(), MarketEvent("m1", "OPEN", at))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1, "later publishers still receive the event")

	assert.NoError(t, Fanout{Discard{}}.Publish(context.Background(), Event{}))
}

func TestRecorder_OfType(t *testing.T) {
	var r Recorder
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, TradeEvent(sampleTrade("m1"))))
	require.NoError(t, r.Publish(ctx, OrderEvent(model.Order{ID: "o1", MarketID: "m1", Status: model.OrderOpen}, at)))
	require.NoError(t, r.Publish(ctx, TradeEvent(sampleTrade("m1"))))

	assert.Len(t, r.OfType(TypeTrade), 2)
	orders := r.OfType(TypeOrder)
	require.Len(t, orders, 1)
	assert.Equal(t, "OPEN", orders[0].Status)
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}

	require.NoError(t, p.Publish(context.Background(), TradeEvent(sampleTrade("m7"))))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "m7", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "trade", string(msg.Headers[0].Value))

	var ev Event
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, TypeTrade, ev.Type)
	require.NotNil(t, ev.Trade)
	assert.Equal(t, uint64(50), ev.Trade.Stake)
	assert.True(t, ev.Trade.Price.Equal(decimal.RequireFromString("2.5")))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestWSHub_Broadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewWSHub()
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	all := dial(t, srv, "")
	defer all.Close()
	m2 := dial(t, srv, "?market=m2")
	defer m2.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, TradeEvent(sampleTrade("m1"))))
	require.NoError(t, hub.Publish(ctx, MarketEvent("m2", "LOCKED", at)))

	var first, second Event
	all.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, all.ReadJSON(&first))
	require.NoError(t, all.ReadJSON(&second))
	assert.Equal(t, TypeTrade, first.Type)
	assert.Equal(t, TypeMarket, second.Type)

	var filtered Event
	m2.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, m2.ReadJSON(&filtered))
	assert.Equal(t, "m2", filtered.MarketID, "market filter skips other markets")
	assert.Equal(t, "LOCKED", filtered.Status)
}

func TestWSHub_PublishNeverBlocks(t *testing.T) {
	hub := NewWSHub()
	for i := 0; i < cap(hub.broadcast)+10; i++ {
		require.NoError(t, hub.Publish(context.Background(), MarketEvent("m1", "OPEN", at)))
	}
	assert.Len(t, hub.broadcast, cap(hub.broadcast))
}
