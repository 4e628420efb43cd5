package producer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"framewise/internal/platform/config"
)

func TestParseAcks(t *testing.T) {
	tests := []struct {
		raw  string
		want kgo.Acks
	}{
		{"", kgo.AllISRAcks()},
		{"all", kgo.AllISRAcks()},
		{"-1", kgo.AllISRAcks()},
		{"1", kgo.LeaderAck()},
		{" Leader ", kgo.LeaderAck()},
		{"0", kgo.NoAck()},
	}
	for _, tt := range tests {
		got, err := parseAcks(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	_, err := parseAcks("2")
	assert.Error(t, err)
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitBrokers(" a:9092, ,b:9092 "))
}

func TestRecordSortsHeaders(t *testing.T) {
	msg := &Message{
		Topic: "audit",
		Key:   []byte("k"),
		Headers: map[string]string{
			"event_type":     "billing_event_processed",
			"aggregate_id":   "evt_1",
			"aggregate_type": "audit_event",
		},
	}

	rec := msg.Record()
	require.Len(t, rec.Headers, 3)
	assert.Equal(t, "aggregate_id", rec.Headers[0].Key)
	assert.Equal(t, "aggregate_type", rec.Headers[1].Key)
	assert.Equal(t, "event_type", rec.Headers[2].Key)
	assert.Equal(t, "audit", rec.Topic)
}

func TestNewRejectsInvalidAcks(t *testing.T) {
	_, err := New(config.KafkaConfig{Brokers: "localhost:9092", Acks: "many"}, nil)
	assert.Error(t, err)
}
