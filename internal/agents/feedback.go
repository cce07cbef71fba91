package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fleetstack/fleetguard/internal/models"
	"github.com/fleetstack/fleetguard/internal/store"
	"github.com/fleetstack/fleetguard/internal/utils"
)

// feedbackKeywords are the comment terms worth surfacing to the service
// team, good and bad alike.
var feedbackKeywords = []string{"defect", "faulty", "quality", "excellent", "great", "poor", "noise"}

// FeedbackAgent derives insights from customer feedback and persists the
// submission.
type FeedbackAgent struct {
	logger *slog.Logger
	store  store.Store
}

// NewFeedbackAgent constructs the agent. The store is optional.
func NewFeedbackAgent(logger *slog.Logger, st store.Store) *FeedbackAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedbackAgent{logger: logger, store: st}
}

func (f *FeedbackAgent) Process(ctx context.Context, feedback models.Feedback) (*models.FeedbackInsights, error) {
	if feedback.VehicleID == "" {
		return nil, fmt.Errorf("feedback missing vehicle id: %w", utils.ErrInvalidInput)
	}
	if feedback.Rating < 1 || feedback.Rating > 5 {
		return nil, fmt.Errorf("feedback rating %d outside 1..5: %w", feedback.Rating, utils.ErrInvalidInput)
	}
	if feedback.ID == "" {
		feedback.ID = uuid.NewString()
	}
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = time.Now().UTC()
	}

	sentiment := ratingSentiment(feedback.Rating)
	keywords := scanKeywords(feedback.Comments)
	issues := componentIssues(feedback.ComponentRatings)

	insights := &models.FeedbackInsights{
		Sentiment:       sentiment,
		Keywords:        keywords,
		ComponentIssues: issues,
		FollowUpNeeded:  sentiment == models.SentimentNegative || len(issues) > 0,
	}

	if f.store != nil {
		if err := f.store.SaveFeedback(ctx, feedback); err != nil {
			f.logger.Warn("feedback not persisted",
				slog.String("vehicle_id", feedback.VehicleID), slog.Any("error", err))
		}
	}

	f.logger.Info("feedback processed",
		slog.String("vehicle_id", feedback.VehicleID),
		slog.Int("rating", feedback.Rating),
		slog.String("sentiment", string(sentiment)),
		slog.Bool("follow_up", insights.FollowUpNeeded))

	return insights, nil
}

// Summary aggregates stored submissions for one vehicle, or the whole
// fleet when vehicleID is empty.
func (f *FeedbackAgent) Summary(ctx context.Context, vehicleID string) (*models.FeedbackSummary, error) {
	if f.store == nil {
		return nil, fmt.Errorf("feedback store not configured")
	}
	history, err := f.store.FeedbackHistory(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("load feedback: %w", err)
	}

	summary := &models.FeedbackSummary{
		VehicleID:   vehicleID,
		BySentiment: map[string]int{},
	}
	if len(history) == 0 {
		return summary, nil
	}

	var ratingTotal int
	keywordCounts := make(map[string]int)
	issueCounts := make(map[string]int)
	for _, feedback := range history {
		summary.TotalSubmissions++
		ratingTotal += feedback.Rating
		if feedback.CreatedAt.After(summary.LastSubmission) {
			summary.LastSubmission = feedback.CreatedAt
		}

		sentiment := ratingSentiment(feedback.Rating)
		summary.BySentiment[string(sentiment)]++

		for _, keyword := range scanKeywords(feedback.Comments) {
			keywordCounts[keyword]++
		}
		issues := componentIssues(feedback.ComponentRatings)
		for _, issue := range issues {
			issueCounts[issue]++
		}
		if sentiment == models.SentimentNegative || len(issues) > 0 {
			summary.FollowUpsNeeded++
		}
	}

	summary.AverageRating = float64(ratingTotal) / float64(len(history))
	summary.TopKeywords = topCounts(keywordCounts, 3)
	summary.ComponentIssues = topCounts(issueCounts, 3)
	return summary, nil
}

func ratingSentiment(rating int) models.Sentiment {
	switch {
	case rating >= 4:
		return models.SentimentPositive
	case rating <= 2:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}

func scanKeywords(comments string) []string {
	lower := strings.ToLower(comments)
	keywords := make([]string, 0, 2)
	for _, keyword := range feedbackKeywords {
		if strings.Contains(lower, keyword) {
			keywords = append(keywords, keyword)
		}
	}
	return keywords
}

func componentIssues(ratings map[string]int) []string {
	issues := make([]string, 0, len(ratings))
	for component, rating := range ratings {
		if rating < 3 {
			issues = append(issues, component)
		}
	}
	sort.Strings(issues)
	return issues
}

// topCounts ranks counted terms, most frequent first, ties alphabetical.
func topCounts(counts map[string]int, limit int) []models.KeywordCount {
	ranked := make([]models.KeywordCount, 0, len(counts))
	for keyword, count := range counts {
		ranked = append(ranked, models.KeywordCount{Keyword: keyword, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Keyword < ranked[j].Keyword
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
