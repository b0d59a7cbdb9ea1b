// Package graph keeps the User, Campaign and Intent graph in Neo4j.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// DefaultCampaignLimit bounds CampaignsForUsers when the caller passes 0.
const DefaultCampaignLimit = 20

// CampaignEngagement is a campaign with the engagement summed over a set of users.
type CampaignEngagement struct {
	CampaignID string
	Engagement int64
}

// Store is the graph contract used by the pipeline and retrieval layers.
type Store interface {
	EnsureConstraints(ctx context.Context) error
	// UpsertEngagement merges the user, campaign and intent nodes and adds
	// delta to the user's ENGAGED_WITH count for the campaign.
	UpsertEngagement(ctx context.Context, userID, campaignID, intent string, delta int64) error
	// CampaignsForUsers sums ENGAGED_WITH counts per campaign over userIDs,
	// highest first.
	CampaignsForUsers(ctx context.Context, userIDs []string, limit int) ([]CampaignEngagement, error)
	Close(ctx context.Context) error
}

const (
	cypherConstraintUser     = `CREATE CONSTRAINT user_id IF NOT EXISTS FOR (u:User) REQUIRE u.user_id IS UNIQUE`
	cypherConstraintCampaign = `CREATE CONSTRAINT campaign_id IF NOT EXISTS FOR (c:Campaign) REQUIRE c.campaign_id IS UNIQUE`
	cypherConstraintIntent   = `CREATE CONSTRAINT intent_name IF NOT EXISTS FOR (i:Intent) REQUIRE i.name IS UNIQUE`

	cypherUpsertEngagement = `
MERGE (u:User {user_id: $user_id})
MERGE (c:Campaign {campaign_id: $campaign_id})
MERGE (i:Intent {name: $intent})
MERGE (u)-[r:ENGAGED_WITH]->(c)
SET r.count = coalesce(r.count, 0) + $delta
MERGE (u)-[:HAS_INTENT]->(i)
MERGE (c)-[:TARGETS]->(i)`

	cypherCampaignsForUsers = `
MATCH (u:User)-[r:ENGAGED_WITH]->(c:Campaign)
WHERE u.user_id IN $user_ids
RETURN c.campaign_id AS campaign_id, sum(r.count) AS total_engagement
ORDER BY total_engagement DESC, campaign_id ASC
LIMIT $limit`
)

// runner executes Cypher in managed transactions.
type runner interface {
	write(ctx context.Context, query string, params map[string]any) error
	read(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
	close(ctx context.Context) error
}

// Neo4jStore implements Store.
type Neo4jStore struct {
	run runner
}

// Compile-time check that Neo4jStore implements Store.
var _ Store = (*Neo4jStore)(nil)

// Connect opens a driver and verifies connectivity.
func Connect(ctx context.Context, uri, user, password, database string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}
	return &Neo4jStore{run: &driverRunner{driver: driver, database: database}}, nil
}

// EnsureConstraints creates uniqueness constraints for the three node keys.
func (s *Neo4jStore) EnsureConstraints(ctx context.Context) error {
	for _, q := range []string{cypherConstraintUser, cypherConstraintCampaign, cypherConstraintIntent} {
		if err := s.run.write(ctx, q, nil); err != nil {
			return fmt.Errorf("creating constraint: %w", err)
		}
	}
	return nil
}

// UpsertEngagement runs the merge and increment in a single write transaction.
func (s *Neo4jStore) UpsertEngagement(ctx context.Context, userID, campaignID, intent string, delta int64) error {
	err := s.run.write(ctx, cypherUpsertEngagement, map[string]any{
		"user_id":     userID,
		"campaign_id": campaignID,
		"intent":      intent,
		"delta":       delta,
	})
	if err != nil {
		return fmt.Errorf("upserting engagement for %s: %w", userID, err)
	}
	return nil
}

// CampaignsForUsers returns nil without a query when userIDs is empty.
func (s *Neo4jStore) CampaignsForUsers(ctx context.Context, userIDs []string, limit int) ([]CampaignEngagement, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultCampaignLimit
	}

	rows, err := s.run.read(ctx, cypherCampaignsForUsers, map[string]any{
		"user_ids": userIDs,
		"limit":    int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("querying campaigns: %w", err)
	}

	out := make([]CampaignEngagement, 0, len(rows))
	for _, row := range rows {
		id, ok := row["campaign_id"].(string)
		if !ok {
			return nil, fmt.Errorf("campaign_id has type %T", row["campaign_id"])
		}
		total, err := asInt64(row["total_engagement"])
		if err != nil {
			return nil, fmt.Errorf("total_engagement for %s: %w", id, err)
		}
		out = append(out, CampaignEngagement{CampaignID: id, Engagement: total})
	}
	return out, nil
}

// Close closes the driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.run.close(ctx)
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (r *driverRunner) write(ctx context.Context, query string, params map[string]any) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

func (r *driverRunner) read(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, len(records))
		for i, rec := range records {
			rows[i] = rec.AsMap()
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]map[string]any), nil
}

func (r *driverRunner) close(ctx context.Context) error {
	return r.driver.Close(ctx)
}
