package processor

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawmark/trapper/pkg/kafka"
	"github.com/pawmark/trapper/pkg/models"
)

type stubResolver struct {
	res  *models.Resolution
	err  error
	reqs []*models.ResolveRequest
}

func (s *stubResolver) Resolve(_ context.Context, req *models.ResolveRequest) (*models.Resolution, error) {
	s.reqs = append(s.reqs, req)
	return s.res, s.err
}

type stubEmitter struct {
	resolved []string
	created  []string
	reviews  []string
}

func (s *stubEmitter) EmitIdentityResolved(_ context.Context, sourceSystem string, _ *models.Resolution) error {
	s.resolved = append(s.resolved, sourceSystem)
	return nil
}

func (s *stubEmitter) EmitEntityCreated(_ context.Context, _, entityID, _ string) error {
	s.created = append(s.created, entityID)
	return nil
}

func (s *stubEmitter) EmitReviewOpened(_ context.Context, item *models.ReviewItem) error {
	s.reviews = append(s.reviews, item.ID)
	return nil
}

type stubGraphSync struct {
	projected []string
}

func (s *stubGraphSync) EntityCreated(_ context.Context, entityID string) {
	s.projected = append(s.projected, entityID)
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func intakeMessage(t *testing.T, body string) *kafka.IncomingMessage {
	t.Helper()
	msg := &kafka.IncomingMessage{
		Key:   "rec-1",
		Value: []byte(body),
		Topic: "intake.staged",
	}
	require.NoError(t, msg.ParseIntakeMessage())
	return msg
}

func TestProcessMessage_ResolvesAndEmits(t *testing.T) {
	entityID := "ent-1"
	resolver := &stubResolver{res: &models.Resolution{
		EntityID:   &entityID,
		Outcome:    models.OutcomeNewEntity,
		Confidence: 1.0,
		DecisionID: "dec-1",
	}}
	emitter := &stubEmitter{}
	p := NewProcessor(testLogger(), resolver, emitter, nil)

	msg := intakeMessage(t, `{"source_system":"webform","first_name":"Jane","last_name":"Doe","email":"j.doe@example.com"}`)
	err := p.ProcessMessage(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, resolver.reqs, 1)
	assert.Equal(t, "webform", resolver.reqs[0].SourceSystem)
	require.NotNil(t, resolver.reqs[0].StagedRecordRef)
	assert.Equal(t, "rec-1", *resolver.reqs[0].StagedRecordRef)

	assert.Equal(t, []string{"webform"}, emitter.resolved)
	assert.Equal(t, []string{"ent-1"}, emitter.created)
}

func TestProcessMessage_MatchDoesNotEmitCreated(t *testing.T) {
	entityID := "ent-1"
	resolver := &stubResolver{res: &models.Resolution{
		EntityID:   &entityID,
		Outcome:    models.OutcomeAutoMatch,
		Confidence: 0.98,
		DecisionID: "dec-2",
	}}
	emitter := &stubEmitter{}
	p := NewProcessor(testLogger(), resolver, emitter, nil)

	err := p.ProcessMessage(context.Background(), intakeMessage(t, `{"source_system":"clinichq","email":"j.doe@example.com"}`))
	require.NoError(t, err)
	assert.Len(t, emitter.resolved, 1)
	assert.Empty(t, emitter.created)
}

func TestProcessMessage_ReviewOutcomeEmitsReviewOpened(t *testing.T) {
	entityID := "ent-5"
	resolver := &stubResolver{res: &models.Resolution{
		EntityID:   &entityID,
		Outcome:    models.OutcomeNeedsReview,
		Confidence: 0.65,
		DecisionID: "dec-5",
		ReviewItem: &models.ReviewItem{ID: "rev-5", DecisionID: "dec-5", Status: models.ReviewStatusOpen},
	}}
	emitter := &stubEmitter{}
	p := NewProcessor(testLogger(), resolver, emitter, nil)

	err := p.ProcessMessage(context.Background(), intakeMessage(t, `{"source_system":"airtable","first_name":"Jane","last_name":"Doe"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"rev-5"}, emitter.reviews)
	assert.Empty(t, emitter.created)
}

func TestProcessMessage_NewEntityProjectsIntoGraph(t *testing.T) {
	entityID := "ent-6"
	resolver := &stubResolver{res: &models.Resolution{
		EntityID:   &entityID,
		Outcome:    models.OutcomeNewEntity,
		Confidence: 1.0,
		DecisionID: "dec-6",
	}}
	graph := &stubGraphSync{}
	p := NewProcessor(testLogger(), resolver, &stubEmitter{}, graph)

	err := p.ProcessMessage(context.Background(), intakeMessage(t, `{"source_system":"webform","first_name":"Jane","last_name":"Doe"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"ent-6"}, graph.projected)
}

func TestProcessMessage_InvalidRecordIsDropped(t *testing.T) {
	resolver := &stubResolver{err: httperror.NewHTTPError(http.StatusBadRequest, "invalid resolve request")}
	p := NewProcessor(testLogger(), resolver, &stubEmitter{}, nil)

	err := p.ProcessMessage(context.Background(), intakeMessage(t, `{"first_name":"Jane"}`))
	assert.NoError(t, err, "invalid records must commit, not redeliver")
}

func TestProcessMessage_TransientFailureRedelivers(t *testing.T) {
	resolver := &stubResolver{err: errors.New("connection refused")}
	p := NewProcessor(testLogger(), resolver, &stubEmitter{}, nil)

	err := p.ProcessMessage(context.Background(), intakeMessage(t, `{"source_system":"webform","first_name":"Jane"}`))
	assert.Error(t, err)
}

func TestProcessMessage_UnparseableBodyIsDropped(t *testing.T) {
	resolver := &stubResolver{}
	p := NewProcessor(testLogger(), resolver, &stubEmitter{}, nil)

	msg := &kafka.IncomingMessage{Key: "rec-9", Value: []byte("not json"), Topic: "intake.staged"}
	err := p.ProcessMessage(context.Background(), msg)
	assert.NoError(t, err)
	assert.Empty(t, resolver.reqs)
}

func TestProcessMessage_NilEmitter(t *testing.T) {
	entityID := "ent-1"
	resolver := &stubResolver{res: &models.Resolution{
		EntityID:   &entityID,
		Outcome:    models.OutcomeNewEntity,
		DecisionID: "dec-3",
	}}
	p := NewProcessor(testLogger(), resolver, nil, nil)

	err := p.ProcessMessage(context.Background(), intakeMessage(t, `{"source_system":"webform","first_name":"Jane","last_name":"Doe"}`))
	assert.NoError(t, err)
}
