package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pkordes/carpool/backend/internal/domain"
	"github.com/pkordes/carpool/backend/internal/repo"
)

const maxCommentLength = 500

// RatingRequest is one participant rating another after a trip.
type RatingRequest struct {
	RateeID uuid.UUID `json:"ratee_id"`
	Rating  int       `json:"rating"`
	Comment string    `json:"comment,omitempty"`
}

// RatingService implements the settlement step of a completed trip.
type RatingService struct {
	sessions repo.SessionRepo
	members  repo.MembershipRepo
	ratings  repo.RatingRepo
}

// NewRatingService constructs a RatingService backed by the provided repos.
func NewRatingService(sessions repo.SessionRepo, members repo.MembershipRepo, ratings repo.RatingRepo) *RatingService {
	return &RatingService{sessions: sessions, members: members, ratings: ratings}
}

// Submit stores a rating. Both users must have taken part in the completed
// session: the driver, or a passenger whose membership was finalized.
// Rating the same person twice for one session is a conflict.
func (s *RatingService) Submit(ctx context.Context, sessionID int64, raterID uuid.UUID, req RatingRequest) (domain.Rating, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return domain.Rating{}, fmt.Errorf("%w: rating must be between 1 and 5", domain.ErrValidation)
	}
	comment := strings.TrimSpace(req.Comment)
	if len(comment) > maxCommentLength {
		return domain.Rating{}, fmt.Errorf("%w: comment exceeds %d characters", domain.ErrValidation, maxCommentLength)
	}
	if req.RateeID == raterID {
		return domain.Rating{}, fmt.Errorf("%w: users cannot rate themselves", domain.ErrValidation)
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return domain.Rating{}, fmt.Errorf("service.RatingService.Submit: %w", err)
	}
	if session.Status != domain.SessionCompleted {
		return domain.Rating{}, fmt.Errorf("%w: ratings open once the trip is completed", domain.ErrInvalidTransition)
	}

	members, err := s.members.ListBySession(ctx, sessionID)
	if err != nil {
		return domain.Rating{}, fmt.Errorf("service.RatingService.Submit: %w", err)
	}
	participants := map[uuid.UUID]bool{session.DriverID: true}
	for _, m := range members {
		if m.Status == domain.MembershipCompleted {
			participants[m.PassengerID] = true
		}
	}
	if !participants[raterID] {
		return domain.Rating{}, fmt.Errorf("%w: rater did not take part in session %d", domain.ErrForbidden, sessionID)
	}
	if !participants[req.RateeID] {
		return domain.Rating{}, fmt.Errorf("%w: ratee did not take part in session %d", domain.ErrValidation, sessionID)
	}

	rating, err := s.ratings.Create(ctx, domain.Rating{
		TripSessionID: sessionID,
		RaterID:       raterID,
		RateeID:       req.RateeID,
		Rating:        req.Rating,
		Comment:       comment,
	})
	if err != nil {
		return domain.Rating{}, fmt.Errorf("service.RatingService.Submit: %w", err)
	}
	return rating, nil
}

// Summary aggregates the ratings a user has received.
func (s *RatingService) Summary(ctx context.Context, userID uuid.UUID) (domain.RatingSummary, error) {
	sum, err := s.ratings.Summary(ctx, userID)
	if err != nil {
		return domain.RatingSummary{}, fmt.Errorf("service.RatingService.Summary: %w", err)
	}
	return sum, nil
}
