package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/carpool/backend/internal/domain"
)

// RatingRepo defines the persistence operations for Ratings.
type RatingRepo interface {
	// Create inserts a rating. Returns domain.ErrConflict when the rater has
	// already rated the ratee for that session.
	Create(ctx context.Context, r domain.Rating) (domain.Rating, error)

	// Summary aggregates all ratings received by userID.
	Summary(ctx context.Context, userID uuid.UUID) (domain.RatingSummary, error)
}

type pgRatingRepo struct {
	db db
}

// NewRatingRepo constructs a RatingRepo backed by the provided db connection.
func NewRatingRepo(db db) RatingRepo {
	return &pgRatingRepo{db: db}
}

func (r *pgRatingRepo) Create(ctx context.Context, rt domain.Rating) (domain.Rating, error) {
	const q = `
		INSERT INTO ratings (trip_session_id, rater_id, ratee_id, rating, comment)
		VALUES (@trip_session_id, @rater_id, @ratee_id, @rating, @comment)
		RETURNING id, trip_session_id, rater_id, ratee_id, rating, comment, created_at`

	args := pgx.NamedArgs{
		"trip_session_id": rt.TripSessionID,
		"rater_id":        rt.RaterID,
		"ratee_id":        rt.RateeID,
		"rating":          rt.Rating,
		"comment":         rt.Comment,
	}

	var (
		out          domain.Rating
		rater, ratee pgtype.UUID
	)
	err := r.db.QueryRow(ctx, q, args).Scan(&out.ID, &out.TripSessionID, &rater, &ratee, &out.Rating, &out.Comment, &out.CreatedAt)
	if err != nil {
		return domain.Rating{}, wrap("repo.RatingRepo.Create", err)
	}
	out.RaterID = uuidFrom(rater)
	out.RateeID = uuidFrom(ratee)
	return out, nil
}

func (r *pgRatingRepo) Summary(ctx context.Context, userID uuid.UUID) (domain.RatingSummary, error) {
	const q = `
		SELECT COALESCE(AVG(rating), 0)::float8, count(*)
		FROM ratings
		WHERE ratee_id = @ratee_id`

	summary := domain.RatingSummary{UserID: userID}
	var count int64
	if err := r.db.QueryRow(ctx, q, pgx.NamedArgs{"ratee_id": userID}).Scan(&summary.Average, &count); err != nil {
		return domain.RatingSummary{}, wrap("repo.RatingRepo.Summary", err)
	}
	summary.Count = int(count)
	return summary, nil
}
