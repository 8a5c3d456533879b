// Package metrics computes per-conversation and cross-conversation outreach
// statistics. Everything here is pure: no storage, no external calls.
package metrics

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pitchlens/pitchlens/internal/core/domain"
)

const (
	// maxResponseGap is the longest self->counterpart gap counted as a
	// response. Anything longer is treated as a new touchpoint.
	maxResponseGap = 30 * 24 * time.Hour

	// maxPressureScore caps the follow-up pressure metric.
	maxPressureScore = 10

	// DefaultHotProspectLimit bounds the hot-prospect ranking.
	DefaultHotProspectLimit = 5
)

// ComputeBasicMetrics derives engagement numbers from a conversation's
// messages. The input may be in any order; computation runs over a
// time-sorted copy. selfIdentity is matched case-insensitively, trimmed.
func ComputeBasicMetrics(messages []domain.Message, selfIdentity string) domain.BasicMetrics {
	self := strings.ToLower(strings.TrimSpace(selfIdentity))

	sorted := make([]domain.Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SentAt.Before(sorted[j].SentAt)
	})

	var sent, received int

	for _, m := range sorted {
		if isSelf(m.Sender, self) {
			sent++
		} else {
			received++
		}
	}

	engagementRate := 0.0
	if total := sent + received; total > 0 {
		engagementRate = round2(float64(received) / float64(total) * 100)
	}

	return domain.BasicMetrics{
		EngagementRate:         engagementRate,
		AvgResponseTimeMinutes: avgResponseTime(sorted, self),
		FollowUpPressureScore:  pressureScore(sorted, self),
		TotalMessagesSent:      sent,
		TotalMessagesReceived:  received,
		ConsecutiveFollowUps:   trailingFollowUps(sorted, self),
	}
}

// avgResponseTime returns the mean gap in minutes between a self-sent
// message and the next counterpart message, counting only gaps strictly
// inside (0, 30 days). Nil when no such gap exists.
func avgResponseTime(sorted []domain.Message, self string) *float64 {
	var gaps []float64

	for i := 1; i < len(sorted); i++ {
		prevIsSelf := isSelf(sorted[i-1].Sender, self)
		currIsSelf := isSelf(sorted[i].Sender, self)

		if prevIsSelf && !currIsSelf {
			gap := sorted[i].SentAt.Sub(sorted[i-1].SentAt)
			if gap > 0 && gap < maxResponseGap {
				gaps = append(gaps, gap.Minutes())
			}
		}
	}

	if len(gaps) == 0 {
		return nil
	}

	sum := 0.0
	for _, g := range gaps {
		sum += g
	}

	avg := math.Round(sum / float64(len(gaps)))

	return &avg
}

// pressureScore adds (streak-1) for each self-sent message that extends a
// streak of 2+, capped at maxPressureScore. A streak of n contributes
// 1+2+...+(n-1).
func pressureScore(sorted []domain.Message, self string) int {
	score := 0
	streak := 0

	for _, m := range sorted {
		if isSelf(m.Sender, self) {
			streak++
			if streak >= 2 {
				score += streak - 1
			}
		} else {
			streak = 0
		}
	}

	if score > maxPressureScore {
		return maxPressureScore
	}

	return score
}

// trailingFollowUps counts self-sent messages at the end of the
// conversation; 0 if the counterpart spoke last.
func trailingFollowUps(sorted []domain.Message, self string) int {
	count := 0

	for i := len(sorted) - 1; i >= 0; i-- {
		if !isSelf(sorted[i].Sender, self) {
			break
		}

		count++
	}

	return count
}

// ConversationStats is the per-conversation input to the global rollup.
type ConversationStats struct {
	ID                     string
	EngagementRate         *float64
	AvgResponseTimeMinutes *float64
	ConsecutiveFollowUps   int
	TotalMessagesReceived  int
	OutreachScoreOverall   *int
	ProspectStatus         domain.ProspectStatus
	LastMessageAt          time.Time
}

// ComputeGlobalAnalytics rolls all cold-outreach conversations up into one
// summary. Empty input yields a well-defined zero result.
func ComputeGlobalAnalytics(conversations []ConversationStats) domain.GlobalStats {
	total := len(conversations)
	if total == 0 {
		return domain.GlobalStats{}
	}

	var (
		engagementSum   float64
		engagementCount int
		responded       int
		gapSum          float64
		gapCount        int
		followUps       int
		scoreSum        float64
		scoreCount      int
		positive        int
	)

	for _, c := range conversations {
		if c.EngagementRate != nil {
			engagementSum += *c.EngagementRate
			engagementCount++
		}

		if c.TotalMessagesReceived > 0 {
			responded++
		}

		if c.AvgResponseTimeMinutes != nil {
			gapSum += *c.AvgResponseTimeMinutes
			gapCount++
		}

		followUps += c.ConsecutiveFollowUps

		if c.OutreachScoreOverall != nil {
			scoreSum += float64(*c.OutreachScoreOverall)
			scoreCount++
		}

		if c.ProspectStatus == domain.ProspectInterested || c.ProspectStatus == domain.ProspectMeetingScheduled {
			positive++
		}
	}

	stats := domain.GlobalStats{
		ResponseRate:       round2(float64(responded) / float64(total) * 100),
		TotalFollowUps:     followUps,
		TotalConversations: total,
		MarketPullScore:    round2(float64(positive) / float64(total) * 100),
	}

	if engagementCount > 0 {
		stats.AvgEngagementRate = round2(engagementSum / float64(engagementCount))
	}

	if gapCount > 0 {
		avg := math.Round(gapSum / float64(gapCount))
		stats.AvgResponseTimeMinutes = &avg
	}

	if scoreCount > 0 {
		avg := math.Round(scoreSum/float64(scoreCount)*10) / 10
		stats.AvgOutreachScore = &avg
	}

	return stats
}

// hotProspectStatuses are the statuses eligible for the hot-prospect ranking.
var hotProspectStatuses = map[domain.ProspectStatus]bool{
	domain.ProspectInterested:       true,
	domain.ProspectEngaged:          true,
	domain.ProspectMeetingScheduled: true,
}

// HotProspects ranks conversations by engagement rate descending, breaking
// ties by most recent last message, and returns up to limit ids.
func HotProspects(conversations []ConversationStats, limit int) []string {
	if limit <= 0 {
		limit = DefaultHotProspectLimit
	}

	eligible := make([]ConversationStats, 0, len(conversations))

	for _, c := range conversations {
		if hotProspectStatuses[c.ProspectStatus] {
			eligible = append(eligible, c)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		ei, ej := engagementOrZero(eligible[i]), engagementOrZero(eligible[j])
		if ei != ej {
			return ei > ej
		}

		return eligible[i].LastMessageAt.After(eligible[j].LastMessageAt)
	})

	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	ids := make([]string, len(eligible))
	for i, c := range eligible {
		ids[i] = c.ID
	}

	return ids
}

func engagementOrZero(c ConversationStats) float64 {
	if c.EngagementRate == nil {
		return 0
	}

	return *c.EngagementRate
}

func isSelf(sender, normalizedSelf string) bool {
	return strings.ToLower(strings.TrimSpace(sender)) == normalizedSelf
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
