package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/cuongbtq/stem-splitter/internal/worker/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	routingKey  string
	body        []byte
	contentType string
	err         error
}

func (f *fakeClient) PublishWithRetry(_ context.Context, routingKey string, body []byte, contentType string) error {
	f.routingKey = routingKey
	f.body = body
	f.contentType = contentType
	return f.err
}

func TestRabbitPublisher_Publish(t *testing.T) {
	client := &fakeClient{}
	p := NewRabbitPublisher(client, "stems.events", slog.New(slog.NewTextHandler(io.Discard, nil)))

	key := "C major"
	err := p.Publish(context.Background(), Event{
		Event:  EventJobDone,
		JobID:  "job-1",
		Status: domain.StatusDone,
		Summary: &domain.Summary{
			JobID:    "job-1",
			SongName: "song",
			Key:      &key,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "stems.events", client.routingKey)
	assert.Equal(t, "application/json", client.contentType)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(client.body, &decoded))
	assert.Equal(t, "job.done", decoded["event"])
	assert.Equal(t, "job-1", decoded["job_id"])
	assert.Equal(t, "done", decoded["status"])
	assert.NotEmpty(t, decoded["timestamp"])

	summary := decoded["summary"].(map[string]interface{})
	assert.Equal(t, "song", summary["song_name"])
	assert.Equal(t, "C major", summary["key"])
}

func TestRabbitPublisher_PublishError(t *testing.T) {
	client := &fakeClient{err: errors.New("channel closed")}
	p := NewRabbitPublisher(client, "stems.events", slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := p.Publish(context.Background(), Event{Event: EventJobError, JobID: "job-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish job.error event")
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), Event{Event: EventJobQueued}))
}
