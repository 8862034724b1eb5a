package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/uf-controller/internal/config"
	"github.com/thatsimonsguy/uf-controller/internal/events"
	"github.com/thatsimonsguy/uf-controller/internal/model"
)

type message struct {
	topic    string
	retained bool
	payload  string
}

type recorder struct {
	msgs []message
	err  error
}

func (r *recorder) publish(topic string, retained bool, payload []byte) error {
	r.msgs = append(r.msgs, message{topic, retained, string(payload)})
	return r.err
}

func TestHandle_ProcessEvent(t *testing.T) {
	rec := &recorder{}
	p := newPublisher("uf", rec.publish)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.Handle(events.Event{Kind: events.ProcessStarted, Process: model.Service, DurationMS: 1000, At: at})

	require.Len(t, rec.msgs, 1)
	assert.Equal(t, "uf/event/process_started", rec.msgs[0].topic)
	assert.False(t, rec.msgs[0].retained)

	var got events.Event
	require.NoError(t, json.Unmarshal([]byte(rec.msgs[0].payload), &got))
	assert.Equal(t, model.Service, got.Process)
	assert.Equal(t, int64(1000), got.DurationMS)
	assert.True(t, at.Equal(got.At))
}

func TestHandle_ChannelState(t *testing.T) {
	rec := &recorder{}
	p := newPublisher("plant/uf", rec.publish)

	p.Handle(events.Event{Kind: events.ChannelChanged, Channel: 6, On: true})
	p.Handle(events.Event{Kind: events.ChannelChanged, Channel: 6, On: false})

	require.Len(t, rec.msgs, 4)
	assert.Equal(t, "plant/uf/event/channel_changed", rec.msgs[0].topic)
	assert.Equal(t, message{"plant/uf/channel/6/state", true, "on"}, rec.msgs[1])
	assert.Equal(t, message{"plant/uf/channel/6/state", true, "off"}, rec.msgs[3])
}

func TestHandle_PublishErrorDoesNotStopStateUpdate(t *testing.T) {
	rec := &recorder{err: errors.New("broker gone")}
	p := newPublisher("uf", rec.publish)

	assert.NotPanics(t, func() {
		p.Handle(events.Event{Kind: events.ChannelChanged, Channel: 1, On: true})
	})
	assert.Len(t, rec.msgs, 2)
}

func TestBuildClientOptions(t *testing.T) {
	opts := buildClientOptions(config.MQTT{
		Broker:      "tcp://broker.local:1883",
		ClientID:    "uf-controller",
		Username:    "plant",
		Password:    "secret",
		TopicPrefix: "uf",
		QoS:         1,
	})

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker.local:1883", opts.Servers[0].Host)
	assert.Equal(t, "uf-controller", opts.ClientID)
	assert.Equal(t, "plant", opts.Username)
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "uf/status", opts.WillTopic)
	assert.Equal(t, []byte("offline"), opts.WillPayload)
	assert.True(t, opts.WillRetained)
}

func TestClose(t *testing.T) {
	var nilPub *Publisher
	assert.NotPanics(t, nilPub.Close)

	closed := false
	p := newPublisher("uf", (&recorder{}).publish)
	p.close = func() { closed = true }
	p.Close()
	assert.True(t, closed)
}
