package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanlab/specimen-stack/common/failure"
	"github.com/oceanlab/specimen-stack/common/logging"
	"github.com/oceanlab/specimen-stack/common/messaging"
	"github.com/oceanlab/specimen-stack/common/models"
	"github.com/oceanlab/specimen-stack/common/recordstore"
)

type published struct {
	queue string
	data  []byte
	opts  messaging.PublishOptions
}

type fakePublisher struct {
	mu        sync.Mutex
	msgs      []published
	err       error
	connected bool
}

func (p *fakePublisher) Publish(_ context.Context, queue string, data []byte, opts ...messaging.PublishOption) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{queue: queue, data: data, opts: messaging.ApplyPublishOptions(opts...)})
	return nil
}

func (p *fakePublisher) IsConnected() bool { return p.connected }

type fakeRecords struct {
	records map[string]*models.SpecimenRecord
	pingErr error
}

func (f *fakeRecords) Get(_ context.Context, id string) (*models.SpecimenRecord, error) {
	r, ok := f.records[id]
	if !ok {
		return nil, recordstore.ErrNotFound
	}
	return r, nil
}

func (f *fakeRecords) List(_ context.Context, limit int) ([]*models.SpecimenRecord, error) {
	out := make([]*models.SpecimenRecord, 0, len(f.records))
	for _, r := range f.records {
		if len(out) == limit {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRecords) Ping(context.Context) error { return f.pingErr }

func newTestService(pub *fakePublisher, records *fakeRecords) *IngestService {
	if records == nil {
		records = &fakeRecords{records: map[string]*models.SpecimenRecord{}}
	}
	s := NewIngestService(pub, records, "morphometrics-in", time.Second, logging.Discard())
	s.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func ptr(v float64) *float64 { return &v }

func TestSubmit_PublishesEnvelope(t *testing.T) {
	pub := &fakePublisher{connected: true}
	s := newTestService(pub, nil)

	id, err := s.Submit(context.Background(), Submission{
		SpecimenID: "spec-1",
		Payload:    "iVBORw0KGgo=",
		Latitude:   ptr(15.3),
		Longitude:  ptr(73.9),
	})
	require.NoError(t, err)
	assert.Equal(t, "spec-1", id)

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, "morphometrics-in", msg.queue)
	assert.NotEmpty(t, msg.opts.MessageID)
	assert.Equal(t, "spec-1", msg.opts.Headers[messaging.HeaderSpecimenID])

	env, err := models.DecodeEnvelope(msg.data)
	require.NoError(t, err)
	assert.Equal(t, "spec-1", env.SpecimenID)
	assert.Equal(t, "iVBORw0KGgo=", env.Payload)
	assert.Equal(t, 15.3, *env.Latitude)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), env.SubmittedAt)
}

func TestSubmit_AssignsIDWhenOmitted(t *testing.T) {
	pub := &fakePublisher{connected: true}
	s := newTestService(pub, nil)

	id, err := s.Submit(context.Background(), Submission{Payload: "abc"})
	require.NoError(t, err)

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())

	env, err := models.DecodeEnvelope(pub.msgs[0].data)
	require.NoError(t, err)
	assert.Equal(t, id, env.SpecimenID)
}

func TestSubmit_DoesNotDecodePayload(t *testing.T) {
	pub := &fakePublisher{connected: true}
	s := newTestService(pub, nil)

	_, err := s.Submit(context.Background(), Submission{SpecimenID: "spec-2", Payload: "not-base64!!"})
	require.NoError(t, err)
	assert.Len(t, pub.msgs, 1)
}

func TestSubmit_Invalid(t *testing.T) {
	tests := []struct {
		name string
		sub  Submission
	}{
		{name: "empty payload", sub: Submission{SpecimenID: "a", Payload: "  "}},
		{name: "bad id", sub: Submission{SpecimenID: "has space", Payload: "abc"}},
		{name: "latitude only", sub: Submission{SpecimenID: "a", Payload: "abc", Latitude: ptr(10)}},
		{name: "latitude out of range", sub: Submission{SpecimenID: "a", Payload: "abc", Latitude: ptr(91), Longitude: ptr(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{connected: true}
			s := newTestService(pub, nil)

			_, err := s.Submit(context.Background(), tt.sub)
			assert.ErrorIs(t, err, ErrInvalidSubmission)
			assert.Empty(t, pub.msgs)
		})
	}
}

func TestSubmit_PublishFailure(t *testing.T) {
	pub := &fakePublisher{connected: false, err: failure.Transient(messaging.ErrNotConnected)}
	s := newTestService(pub, nil)

	_, err := s.Submit(context.Background(), Submission{SpecimenID: "spec-1", Payload: "abc"})
	assert.ErrorIs(t, err, ErrChannelUnavailable)
	assert.ErrorIs(t, err, messaging.ErrNotConnected)
}

func TestGetRecord(t *testing.T) {
	label := "Auxis thazard"
	records := &fakeRecords{records: map[string]*models.SpecimenRecord{
		"spec-1": {SpecimenID: "spec-1", PredictedLabel: &label},
	}}
	s := newTestService(&fakePublisher{connected: true}, records)

	rec, err := s.GetRecord(context.Background(), "spec-1")
	require.NoError(t, err)
	assert.Equal(t, label, *rec.PredictedLabel)

	_, err = s.GetRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, recordstore.ErrNotFound)

	_, err = s.GetRecord(context.Background(), "bad id")
	assert.ErrorIs(t, err, ErrInvalidSubmission)
}

func TestReady(t *testing.T) {
	records := &fakeRecords{records: map[string]*models.SpecimenRecord{}}

	s := newTestService(&fakePublisher{connected: true}, records)
	assert.NoError(t, s.Ready(context.Background()))

	s = newTestService(&fakePublisher{connected: false}, records)
	assert.ErrorIs(t, s.Ready(context.Background()), messaging.ErrNotConnected)

	records.pingErr = errors.New("db down")
	s = newTestService(&fakePublisher{connected: true}, records)
	assert.Error(t, s.Ready(context.Background()))
}
