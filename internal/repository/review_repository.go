package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/substitute-api/internal/models"
)

// ReviewRepository persists reviews and keeps teacher rating aggregates current.
type ReviewRepository struct {
	db *sqlx.DB
}

// NewReviewRepository constructs the repository.
func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create inserts the review and recomputes the teacher's average rating and
// review count in one transaction. A second review for a request yields ErrDuplicate.
func (r *ReviewRepository) Create(ctx context.Context, review *models.Review) (err error) {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin review tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insert = `INSERT INTO reviews (id, request_id, school_id, teacher_id, rating, comment, created_at)
	VALUES (:id, :request_id, :school_id, :teacher_id, :rating, :comment, :created_at)`
	if _, err = tx.NamedExecContext(ctx, insert, review); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create review: %w", err)
	}

	const aggregate = `UPDATE teachers SET
	avg_rating = (SELECT COALESCE(ROUND(AVG(rating)::numeric, 2), 0) FROM reviews WHERE teacher_id = $1),
	review_count = (SELECT COUNT(*) FROM reviews WHERE teacher_id = $1),
	updated_at = $2
	WHERE id = $1`
	if _, err = tx.ExecContext(ctx, aggregate, review.TeacherID, review.CreatedAt); err != nil {
		return fmt.Errorf("recompute teacher rating: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit review tx: %w", err)
	}
	return nil
}

// ListByTeacher returns a teacher's reviews, newest first.
func (r *ReviewRepository) ListByTeacher(ctx context.Context, teacherID string, page, size int) ([]models.Review, int, error) {
	page, size = models.NormalizePage(page, size)
	query := fmt.Sprintf(`SELECT id, request_id, school_id, teacher_id, rating, comment, created_at
	FROM reviews WHERE teacher_id = $1 ORDER BY created_at DESC LIMIT %d OFFSET %d`, size, (page-1)*size)
	var reviews []models.Review
	if err := r.db.SelectContext(ctx, &reviews, query, teacherID); err != nil {
		return nil, 0, fmt.Errorf("list reviews: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM reviews WHERE teacher_id = $1", teacherID); err != nil {
		return nil, 0, fmt.Errorf("count reviews: %w", err)
	}
	return reviews, total, nil
}
