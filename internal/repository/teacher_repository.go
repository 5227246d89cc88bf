package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/substitute-api/internal/models"
)

const teacherColumns = "id, email, full_name, subjects, max_grade, avg_rating, review_count, bio, active, created_at, updated_at"

// subjectMatch matches a subject case-insensitively against the subjects array.
const subjectMatch = "EXISTS (SELECT 1 FROM unnest(subjects) AS s WHERE LOWER(s) = LOWER($%d))"

// TeacherRepository manages persistence for teacher profiles.
type TeacherRepository struct {
	db *sqlx.DB
}

// NewTeacherRepository constructs a TeacherRepository.
func NewTeacherRepository(db *sqlx.DB) *TeacherRepository {
	return &TeacherRepository{db: db}
}

// Rank returns active teachers able to cover subject at minGrade, best rated first,
// ties broken by id so the order is deterministic.
func (r *TeacherRepository) Rank(ctx context.Context, subject string, minGrade int, minRating *float64, limit int) ([]models.Candidate, error) {
	args := []interface{}{subject, minGrade}
	conditions := []string{"active = TRUE", fmt.Sprintf(subjectMatch, 1), "max_grade >= $2"}
	if minRating != nil {
		args = append(args, *minRating)
		conditions = append(conditions, fmt.Sprintf("avg_rating >= $%d", len(args)))
	}
	args = append(args, limit)
	query := fmt.Sprintf("SELECT id, avg_rating FROM teachers WHERE %s ORDER BY avg_rating DESC, id ASC LIMIT $%d",
		strings.Join(conditions, " AND "), len(args))

	var candidates []models.Candidate
	if err := r.db.SelectContext(ctx, &candidates, query, args...); err != nil {
		return nil, fmt.Errorf("rank teachers: %w", err)
	}
	return candidates, nil
}

// List returns teachers matching filters along with total count.
func (r *TeacherRepository) List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error) {
	base := "FROM teachers WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Active != nil {
		args = append(args, *filter.Active)
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)))
	}
	if filter.Subject != "" {
		args = append(args, filter.Subject)
		conditions = append(conditions, fmt.Sprintf(subjectMatch, len(args)))
	}
	if filter.Grade > 0 {
		args = append(args, filter.Grade)
		conditions = append(conditions, fmt.Sprintf("max_grade >= $%d", len(args)))
	}
	if filter.MinRating != nil {
		args = append(args, *filter.MinRating)
		conditions = append(conditions, fmt.Sprintf("avg_rating >= $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(full_name) LIKE $%d OR LOWER(COALESCE(bio, '')) LIKE $%d)", len(args), len(args)))
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY avg_rating DESC, id ASC LIMIT %d OFFSET %d", teacherColumns, base, size, offset)
	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list teachers: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count teachers: %w", err)
	}

	return teachers, total, nil
}

// FindByID fetches a teacher by ID.
func (r *TeacherRepository) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	query := fmt.Sprintf("SELECT %s FROM teachers WHERE id = $1", teacherColumns)
	var teacher models.Teacher
	if err := r.db.GetContext(ctx, &teacher, query, id); err != nil {
		return nil, err
	}
	return &teacher, nil
}

// UpdateProfile updates the self-managed fields of a teacher profile.
func (r *TeacherRepository) UpdateProfile(ctx context.Context, teacher *models.Teacher) error {
	teacher.UpdatedAt = time.Now().UTC()
	const query = `UPDATE teachers SET full_name = :full_name, subjects = :subjects, max_grade = :max_grade, bio = :bio,
	active = :active, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, teacher)
	if err != nil {
		return fmt.Errorf("update teacher: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("update teacher %s: %w", teacher.ID, errNotFound)
	}
	return nil
}
