package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/substitute-api/internal/models"
	appErrors "github.com/noah-isme/substitute-api/pkg/errors"
)

var baseTime = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func newTestEngine(ranker candidateRanker, store teachingRequestStore) *MatchingService {
	engine := NewMatchingService(ranker, store, MatchingConfig{TimeoutWindow: 2 * time.Hour, BatchSize: 10, CandidateLimit: 3}, nil, zap.NewNop())
	return engine.WithClock(func() time.Time { return baseTime })
}

func mathCriteria() CreateRequestCriteria {
	return CreateRequestCriteria{SchoolID: "school-1", Subject: "Math", ScheduleDate: "2024-05-02", ScheduleTime: "09:00", GradeLevel: 5}
}

func mathRanker() *staticRanker {
	return &staticRanker{teachers: []models.Teacher{
		teacherFixture("t-mid", 4.5, 8, "Math"),
		teacherFixture("t-low", 4.0, 6, "Math", "Physics"),
		teacherFixture("t-top", 4.8, 12, "math"),
		teacherFixture("t-young", 5.0, 3, "Math"),
		teacherFixture("t-art", 4.9, 12, "Art"),
	}}
}

func TestMatchingCreateAssignsTopCandidate(t *testing.T) {
	store := newMemoryRequestStore()
	engine := newTestEngine(mathRanker(), store)

	req, err := engine.Create(context.Background(), mathCriteria())
	require.NoError(t, err)
	assert.Equal(t, "t-top", req.TeacherID)
	assert.Equal(t, models.FallbackQueue{"t-mid", "t-low"}, req.FallbackTeachers)
	assert.Equal(t, models.RequestStatusPending, req.Status)
	assert.Equal(t, baseTime.Add(2*time.Hour), req.TimeoutAt)
	assert.False(t, req.FallbackTeachers.Contains(req.TeacherID))

	stored := store.get(req.ID)
	assert.Equal(t, req.TeacherID, stored.TeacherID)
	assert.Equal(t, 1, stored.Version)
}

func TestMatchingCreateSingleCandidate(t *testing.T) {
	store := newMemoryRequestStore()
	ranker := &staticRanker{teachers: []models.Teacher{teacherFixture("only", 3.2, 10, "Chemistry")}}
	engine := newTestEngine(ranker, store)

	criteria := mathCriteria()
	criteria.Subject = "  Chemistry "
	req, err := engine.Create(context.Background(), criteria)
	require.NoError(t, err)
	assert.Equal(t, "only", req.TeacherID)
	assert.True(t, req.FallbackTeachers.Empty())
	assert.Equal(t, "Chemistry", req.Subject)
}

func TestMatchingCreateRespectsMinimumRating(t *testing.T) {
	store := newMemoryRequestStore()
	engine := newTestEngine(mathRanker(), store)

	criteria := mathCriteria()
	minRating := 4.6
	criteria.MinimumRating = &minRating
	req, err := engine.Create(context.Background(), criteria)
	require.NoError(t, err)
	assert.Equal(t, "t-top", req.TeacherID)
	assert.True(t, req.FallbackTeachers.Empty())
}

func TestMatchingCreateNoCandidatesPersistsNothing(t *testing.T) {
	store := newMemoryRequestStore()
	engine := newTestEngine(mathRanker(), store)

	criteria := mathCriteria()
	criteria.Subject = "Latin"
	req, err := engine.Create(context.Background(), criteria)
	assert.Nil(t, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrNoCandidates)
	assert.Equal(t, 404, appErrors.FromError(err).Status)
	assert.Equal(t, 0, store.count())
}

func TestMatchingCreateValidation(t *testing.T) {
	store := newMemoryRequestStore()
	ranker := mathRanker()
	engine := newTestEngine(ranker, store)

	cases := map[string]func(*CreateRequestCriteria){
		"blank subject":  func(c *CreateRequestCriteria) { c.Subject = "   " },
		"bad date":       func(c *CreateRequestCriteria) { c.ScheduleDate = "02/05/2024" },
		"bad time":       func(c *CreateRequestCriteria) { c.ScheduleTime = "9am" },
		"grade zero":     func(c *CreateRequestCriteria) { c.GradeLevel = 0 },
		"rating too big": func(c *CreateRequestCriteria) { r := 5.5; c.MinimumRating = &r },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			criteria := mathCriteria()
			mutate(&criteria)
			_, err := engine.Create(context.Background(), criteria)
			assert.ErrorIs(t, err, appErrors.ErrValidation)
		})
	}
	assert.Equal(t, 0, ranker.calls)
	assert.Equal(t, 0, store.count())
}

func TestMatchingCreateAcceptsPastSlot(t *testing.T) {
	engine := newTestEngine(mathRanker(), newMemoryRequestStore())
	criteria := mathCriteria()
	criteria.ScheduleDate = "2001-01-01"
	_, err := engine.Create(context.Background(), criteria)
	assert.NoError(t, err)
}

func TestMatchingCreatePersistenceFailure(t *testing.T) {
	store := newMemoryRequestStore()
	store.createErr = errors.New("connection reset")
	engine := newTestEngine(mathRanker(), store)

	_, err := engine.Create(context.Background(), mathCriteria())
	assert.ErrorIs(t, err, appErrors.ErrPersistence)

	ranker := &staticRanker{err: errors.New("timeout")}
	_, err = newTestEngine(ranker, newMemoryRequestStore()).Create(context.Background(), mathCriteria())
	assert.ErrorIs(t, err, appErrors.ErrPersistence)
}

func TestMatchingSweepEscalatesLapsedRequest(t *testing.T) {
	store := newMemoryRequestStore()
	engine := newTestEngine(mathRanker(), store)
	req, err := engine.Create(context.Background(), mathCriteria())
	require.NoError(t, err)

	now := req.TimeoutAt
	result, err := engine.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Escalated)
	require.Len(t, result.Transitions, 1)
	assert.Equal(t, "t-top", result.Transitions[0].PreviousTeacher)

	stored := store.get(req.ID)
	assert.Equal(t, "t-mid", stored.TeacherID)
	assert.Equal(t, models.FallbackQueue{"t-low"}, stored.FallbackTeachers)
	assert.Equal(t, req.TimeoutAt.Add(2*time.Hour), stored.TimeoutAt)
	assert.Equal(t, models.RequestStatusPending, stored.Status)
	assert.Equal(t, stored.TeacherID, result.Transitions[0].Request.TeacherID)
}

func TestMatchingSweepFailsWhenFallbackEmpty(t *testing.T) {
	store := newMemoryRequestStore()
	store.put(models.TeachingRequest{
		ID: "r1", SchoolID: "school-1", TeacherID: "t1", Status: models.RequestStatusPending,
		TimeoutAt: baseTime, FallbackTeachers: models.FallbackQueue{}, Version: 3,
	})
	engine := newTestEngine(mathRanker(), store)

	result, err := engine.Sweep(context.Background(), baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	stored := store.get("r1")
	assert.Equal(t, models.RequestStatusFailed, stored.Status)
	assert.Equal(t, "t1", stored.TeacherID)
	assert.Equal(t, 4, stored.Version)
}

func TestMatchingSweepLeavesUnlapsedAndTerminalRequests(t *testing.T) {
	store := newMemoryRequestStore()
	store.put(models.TeachingRequest{ID: "future", TeacherID: "t1", Status: models.RequestStatusPending, TimeoutAt: baseTime.Add(time.Second), FallbackTeachers: models.FallbackQueue{"t2"}, Version: 1})
	store.put(models.TeachingRequest{ID: "accepted", TeacherID: "t1", Status: models.RequestStatusAccepted, TimeoutAt: baseTime.Add(-time.Hour), FallbackTeachers: models.FallbackQueue{"t2"}, Version: 2})
	store.put(models.TeachingRequest{ID: "cancelled", TeacherID: "t1", Status: models.RequestStatusCancelled, TimeoutAt: baseTime.Add(-time.Hour), Version: 2})
	engine := newTestEngine(mathRanker(), store)

	result, err := engine.Sweep(context.Background(), baseTime)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, "t1", store.get("future").TeacherID)
	assert.Equal(t, models.RequestStatusAccepted, store.get("accepted").Status)
	assert.Equal(t, models.FallbackQueue{"t2"}, store.get("accepted").FallbackTeachers)
	assert.Equal(t, 0, store.writes)
}

func TestMatchingSweepRespectsBatchSize(t *testing.T) {
	store := newMemoryRequestStore()
	for i := 0; i < 15; i++ {
		store.put(models.TeachingRequest{
			ID: string(rune('a'+i)) + "-req", TeacherID: "t1", Status: models.RequestStatusPending,
			TimeoutAt: baseTime.Add(-time.Duration(i) * time.Minute), Version: 1,
		})
	}
	engine := newTestEngine(mathRanker(), store)

	result, err := engine.Sweep(context.Background(), baseTime)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Processed)

	result, err = engine.Sweep(context.Background(), baseTime)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Processed)
}

func TestMatchingSweepTwiceIsIdempotent(t *testing.T) {
	store := newMemoryRequestStore()
	engine := newTestEngine(mathRanker(), store)
	req, err := engine.Create(context.Background(), mathCriteria())
	require.NoError(t, err)

	now := req.TimeoutAt
	first, err := engine.Sweep(context.Background(), now)
	require.NoError(t, err)
	second, err := engine.Sweep(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Processed)
	assert.Equal(t, 0, second.Processed)
	stored := store.get(req.ID)
	assert.Equal(t, "t-mid", stored.TeacherID)
	assert.Equal(t, models.FallbackQueue{"t-low"}, stored.FallbackTeachers)
}

func TestMatchingConcurrentSweepsEscalateOnce(t *testing.T) {
	store := newMemoryRequestStore()
	engine := newTestEngine(mathRanker(), store)
	req, err := engine.Create(context.Background(), mathCriteria())
	require.NoError(t, err)

	now := req.TimeoutAt
	const runs = 8
	results := make([]*SweepResult, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := engine.Sweep(context.Background(), now)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	processed := 0
	for _, res := range results {
		processed += res.Processed
	}
	assert.Equal(t, 1, processed)
	stored := store.get(req.ID)
	assert.Equal(t, "t-mid", stored.TeacherID)
	assert.Equal(t, models.FallbackQueue{"t-low"}, stored.FallbackTeachers)
	assert.Equal(t, 2, stored.Version)
}

// staleOnceStore simulates a concurrent writer bumping the row between read and write.
type staleOnceStore struct {
	*memoryRequestStore
	bumped bool
}

func (s *staleOnceStore) ListDue(ctx context.Context, now time.Time, limit int) ([]models.TeachingRequest, error) {
	due, err := s.memoryRequestStore.ListDue(ctx, now, limit)
	if err == nil && !s.bumped && len(due) > 0 {
		s.bumped = true
		row := s.get(due[0].ID)
		row.Status = models.RequestStatusAccepted
		row.Version++
		s.put(row)
	}
	return due, err
}

func TestMatchingSweepDropsStaleRows(t *testing.T) {
	store := &staleOnceStore{memoryRequestStore: newMemoryRequestStore()}
	store.put(models.TeachingRequest{ID: "r1", TeacherID: "t1", Status: models.RequestStatusPending, TimeoutAt: baseTime, FallbackTeachers: models.FallbackQueue{"t2"}, Version: 1})
	engine := newTestEngine(mathRanker(), store)

	result, err := engine.Sweep(context.Background(), baseTime)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 1, result.Stale)

	stored := store.get("r1")
	assert.Equal(t, models.RequestStatusAccepted, stored.Status)
	assert.Equal(t, "t1", stored.TeacherID)
}

func TestMatchingSweepContinuesAfterRowFailure(t *testing.T) {
	store := newMemoryRequestStore()
	store.put(models.TeachingRequest{ID: "r1", TeacherID: "t1", Status: models.RequestStatusPending, TimeoutAt: baseTime.Add(-2 * time.Minute), FallbackTeachers: models.FallbackQueue{"t2"}, Version: 1})
	store.put(models.TeachingRequest{ID: "r2", TeacherID: "t1", Status: models.RequestStatusPending, TimeoutAt: baseTime.Add(-time.Minute), FallbackTeachers: models.FallbackQueue{"t3"}, Version: 1})
	store.writeErr["r1"] = errors.New("disk full")
	engine := newTestEngine(mathRanker(), store)

	result, err := engine.Sweep(context.Background(), baseTime)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrPersistence)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, "t3", store.get("r2").TeacherID)
	assert.Equal(t, "t1", store.get("r1").TeacherID)
}

func TestMatchingSweepListFailure(t *testing.T) {
	store := newMemoryRequestStore()
	store.listErr = errors.New("db down")
	engine := newTestEngine(mathRanker(), store)

	result, err := engine.Sweep(context.Background(), baseTime)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, appErrors.ErrPersistence)
}

func TestMatchingSweepSkipsCurrentAssigneeInFallback(t *testing.T) {
	store := newMemoryRequestStore()
	store.put(models.TeachingRequest{ID: "r1", TeacherID: "t1", Status: models.RequestStatusPending, TimeoutAt: baseTime, FallbackTeachers: models.FallbackQueue{"t1", "t2"}, Version: 1})
	engine := newTestEngine(mathRanker(), store)

	_, err := engine.Sweep(context.Background(), baseTime)
	require.NoError(t, err)
	stored := store.get("r1")
	assert.Equal(t, "t2", stored.TeacherID)
	assert.True(t, stored.FallbackTeachers.Empty())
}

func TestMatchingEndToEndEscalationToFailure(t *testing.T) {
	store := newMemoryRequestStore()
	ranker := &staticRanker{teachers: []models.Teacher{
		teacherFixture("c48", 4.8, 6, "Math"),
		teacherFixture("c45", 4.5, 5, "Math"),
		teacherFixture("c40", 4.0, 9, "Math"),
	}}
	engine := newTestEngine(ranker, store)

	req, err := engine.Create(context.Background(), mathCriteria())
	require.NoError(t, err)
	assert.Equal(t, "c48", req.TeacherID)
	assert.Equal(t, models.FallbackQueue{"c45", "c40"}, req.FallbackTeachers)

	for i := 0; i < 2; i++ {
		current := store.get(req.ID)
		_, err := engine.Sweep(context.Background(), current.TimeoutAt)
		require.NoError(t, err)
	}
	stored := store.get(req.ID)
	assert.Equal(t, "c40", stored.TeacherID)
	assert.True(t, stored.FallbackTeachers.Empty())
	assert.Equal(t, models.RequestStatusPending, stored.Status)

	_, err = engine.Sweep(context.Background(), stored.TimeoutAt)
	require.NoError(t, err)
	stored = store.get(req.ID)
	assert.Equal(t, models.RequestStatusFailed, stored.Status)
	assert.Equal(t, "c40", stored.TeacherID)

	result, err := engine.Sweep(context.Background(), stored.TimeoutAt.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
}

func TestMatchingAcceptedBeforeTimeoutIsUntouched(t *testing.T) {
	store := newMemoryRequestStore()
	engine := newTestEngine(mathRanker(), store)
	req, err := engine.Create(context.Background(), mathCriteria())
	require.NoError(t, err)

	row := store.get(req.ID)
	row.Status = models.RequestStatusAccepted
	row.Version++
	store.put(row)

	for i := 1; i <= 3; i++ {
		result, err := engine.Sweep(context.Background(), req.TimeoutAt.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, result.Processed)
	}
	stored := store.get(req.ID)
	assert.Equal(t, models.RequestStatusAccepted, stored.Status)
	assert.Equal(t, "t-top", stored.TeacherID)
}
