package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UpsertEngagement adds delta to the (user, campaign) counter, creating the row
// on first sight. The increment happens inside SQLite's ON CONFLICT clause so
// concurrent writers never lose updates.
func (s *Store) UpsertEngagement(ctx context.Context, userID, campaignID string, delta int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_engagement (user_id, campaign_id, engagement_count, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, campaign_id) DO UPDATE SET
			engagement_count = engagement_count + excluded.engagement_count,
			last_updated = excluded.last_updated`,
		userID, campaignID, delta, now,
	)
	if err != nil {
		return fmt.Errorf("upserting engagement %s/%s: %w", userID, campaignID, err)
	}
	return nil
}

// Engagement returns the counter for one (user, campaign) pair, or ErrNotFound.
func (s *Store) Engagement(ctx context.Context, userID, campaignID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT engagement_count FROM user_engagement WHERE user_id = ? AND campaign_id = ?`,
		userID, campaignID,
	).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return n, err
}

// CampaignEngagement sums engagement across all users for exactly the given
// campaign IDs, highest total first. Campaigns with no rows are omitted.
func (s *Store) CampaignEngagement(ctx context.Context, campaignIDs []string) ([]CampaignEngagement, error) {
	if len(campaignIDs) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(campaignIDs))
	for i, id := range campaignIDs {
		args[i] = id
	}
	query := `SELECT campaign_id, SUM(engagement_count) AS total
		FROM user_engagement
		WHERE campaign_id IN (?` + strings.Repeat(",?", len(campaignIDs)-1) + `)
		GROUP BY campaign_id
		ORDER BY total DESC, campaign_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying campaign engagement: %w", err)
	}
	defer rows.Close()

	var out []CampaignEngagement
	for rows.Next() {
		var c CampaignEngagement
		if err := rows.Scan(&c.CampaignID, &c.Total); err != nil {
			return nil, fmt.Errorf("scanning campaign engagement: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
