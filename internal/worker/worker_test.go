package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/rfm/internal/bus"
	"github.com/opensource-finance/rfm/internal/domain"
	"github.com/opensource-finance/rfm/internal/job"
)

type fakeRunner struct {
	got []domain.RunRequest
	err error
}

func (f *fakeRunner) Execute(_ context.Context, req domain.RunRequest) (*job.Result, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return nil, f.err
	}
	return &job.Result{
		Report: &domain.Report{
			RunID: "run-42",
			Stats: domain.RunStats{Customers: 7},
		},
		Cached: true,
	}, nil
}

func startWorker(t *testing.T, runner Runner) (*Worker, *bus.ChannelBus) {
	t.Helper()
	b := bus.NewChannelBus(domain.EventBusConfig{RequestTimeout: 2})
	t.Cleanup(func() { _ = b.Close() })

	w := New(b, runner)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })
	return w, b
}

func request(t *testing.T, b *bus.ChannelBus, payload []byte) domain.RunEvent {
	t.Helper()
	raw, err := b.Request(context.Background(), domain.TopicRunRequested, payload)
	require.NoError(t, err)

	var event domain.RunEvent
	require.NoError(t, json.Unmarshal(raw, &event))
	return event
}

func TestWorkerExecutesRequest(t *testing.T) {
	runner := &fakeRunner{}
	w, b := startWorker(t, runner)

	payload, _ := json.Marshal(domain.RunRequest{Inputs: []string{"jan.xlsx"}, Sheets: []string{"Jan"}})
	event := request(t, b, payload)

	assert.Equal(t, domain.RunStatusCompleted, event.Status)
	assert.Equal(t, "run-42", event.RunID)
	assert.True(t, event.Cached)
	assert.Equal(t, 7, event.Stats.Customers)

	require.Len(t, runner.got, 1)
	assert.Equal(t, []string{"jan.xlsx"}, runner.got[0].Inputs)

	stats := w.GetStats()
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, []string{domain.TopicRunRequested}, stats.Topics)
}

func TestWorkerReportsFailure(t *testing.T) {
	runner := &fakeRunner{err: domain.ErrEmptyPopulation}
	w, b := startWorker(t, runner)

	event := request(t, b, []byte(`{"inputs":["empty.csv"]}`))

	assert.Equal(t, domain.RunStatusFailed, event.Status)
	assert.Contains(t, event.Error, "empty population")
	assert.Equal(t, int64(1), w.GetStats().Failed)
}

func TestWorkerRejectsBadPayload(t *testing.T) {
	runner := &fakeRunner{}
	_, b := startWorker(t, runner)

	event := request(t, b, []byte("not json"))

	assert.Equal(t, domain.RunStatusFailed, event.Status)
	assert.Contains(t, event.Error, "invalid input")
	assert.Empty(t, runner.got)
}

func TestWorkerNeedsBus(t *testing.T) {
	assert.Error(t, New(nil, &fakeRunner{}).Start())
}

func TestWorkerStop(t *testing.T) {
	w, _ := startWorker(t, &fakeRunner{})
	require.NoError(t, w.Stop())
	assert.Zero(t, w.GetStats().SubscriptionCount)
}
