package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/substitute-api/internal/models"
	"github.com/noah-isme/substitute-api/internal/repository"
)

// memoryRequestStore is a compare-and-swap store mirroring the SQL guards.
type memoryRequestStore struct {
	mu        sync.Mutex
	rows      map[string]models.TeachingRequest
	seq       int
	createErr error
	listErr   error
	writeErr  map[string]error
	writes    int
}

func newMemoryRequestStore() *memoryRequestStore {
	return &memoryRequestStore{rows: make(map[string]models.TeachingRequest), writeErr: make(map[string]error)}
}

func (m *memoryRequestStore) Create(ctx context.Context, req *models.TeachingRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if req.ID == "" {
		m.seq++
		req.ID = fmt.Sprintf("req-%03d", m.seq)
	}
	cp := *req
	cp.FallbackTeachers = append(models.FallbackQueue{}, req.FallbackTeachers...)
	m.rows[req.ID] = cp
	return nil
}

func (m *memoryRequestStore) put(req models.TeachingRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[req.ID] = req
}

func (m *memoryRequestStore) get(id string) models.TeachingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

func (m *memoryRequestStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memoryRequestStore) GetByID(ctx context.Context, id string) (*models.TeachingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &row, nil
}

func (m *memoryRequestStore) ListDue(ctx context.Context, now time.Time, limit int) ([]models.TeachingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var due []models.TeachingRequest
	for _, row := range m.rows {
		if row.Status == models.RequestStatusPending && !row.TimeoutAt.After(now) {
			due = append(due, row)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].TimeoutAt.Equal(due[j].TimeoutAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].TimeoutAt.Before(due[j].TimeoutAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memoryRequestStore) Escalate(ctx context.Context, params repository.EscalateParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr[params.ID]; err != nil {
		return err
	}
	row, ok := m.rows[params.ID]
	if !ok || row.Status != models.RequestStatusPending || row.Version != params.ExpectedVersion {
		return repository.ErrVersionConflict
	}
	row.TeacherID = params.TeacherID
	row.FallbackTeachers = append(models.FallbackQueue{}, params.Fallback...)
	row.TimeoutAt = params.TimeoutAt
	row.UpdatedAt = params.UpdatedAt
	row.Version++
	m.rows[params.ID] = row
	m.writes++
	return nil
}

func (m *memoryRequestStore) MarkFailed(ctx context.Context, id string, expectedVersion int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr[id]; err != nil {
		return err
	}
	row, ok := m.rows[id]
	if !ok || row.Status != models.RequestStatusPending || row.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	row.Status = models.RequestStatusFailed
	row.UpdatedAt = at
	row.Version++
	m.rows[id] = row
	m.writes++
	return nil
}

func (m *memoryRequestStore) Transition(ctx context.Context, params repository.TransitionParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[params.ID]
	if !ok || row.Version != params.ExpectedVersion {
		return repository.ErrVersionConflict
	}
	from := params.From
	if len(from) == 0 {
		from = []models.RequestStatus{models.RequestStatusPending}
	}
	allowed := false
	for _, status := range from {
		if row.Status == status {
			allowed = true
		}
	}
	if !allowed || (params.TeacherID != "" && row.TeacherID != params.TeacherID) {
		return repository.ErrVersionConflict
	}
	row.Status = params.To
	row.UpdatedAt = params.At
	if params.To == models.RequestStatusCancelled {
		row.CancellationReason = params.Reason
		row.CancelledBy = params.CancelledBy
		at := params.At
		row.CancelledAt = &at
	}
	row.Version++
	m.rows[params.ID] = row
	m.writes++
	return nil
}

func (m *memoryRequestStore) SetMeetingLink(ctx context.Context, id, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Status != models.RequestStatusAccepted {
		return repository.ErrVersionConflict
	}
	row.MeetingLink = &link
	m.rows[id] = row
	return nil
}

func (m *memoryRequestStore) List(ctx context.Context, filter models.TeachingRequestFilter) ([]models.TeachingRequest, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []models.TeachingRequest
	for _, row := range m.rows {
		if filter.SchoolID != "" && row.SchoolID != filter.SchoolID {
			continue
		}
		if filter.TeacherID != "" && row.TeacherID != filter.TeacherID {
			continue
		}
		items = append(items, row)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, len(items), nil
}

// staticRanker ranks an in-memory teacher list the way the SQL query does.
type staticRanker struct {
	teachers []models.Teacher
	err      error
	calls    int
}

func (r *staticRanker) Rank(ctx context.Context, subject string, minGrade int, minRating *float64, limit int) ([]models.Candidate, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	var out []models.Candidate
	for _, t := range r.teachers {
		if !t.Active || t.MaxGrade < minGrade {
			continue
		}
		if minRating != nil && t.AvgRating < *minRating {
			continue
		}
		match := false
		for _, s := range t.Subjects {
			if strings.EqualFold(s, subject) {
				match = true
			}
		}
		if match {
			out = append(out, models.Candidate{TeacherID: t.ID, Rating: t.AvgRating})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rating == out[j].Rating {
			return out[i].TeacherID < out[j].TeacherID
		}
		return out[i].Rating > out[j].Rating
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func teacherFixture(id string, rating float64, maxGrade int, subjects ...string) models.Teacher {
	return models.Teacher{ID: id, AvgRating: rating, MaxGrade: maxGrade, Subjects: subjects, Active: true}
}
