package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/pawmark/trapper/pkg/models"
	"github.com/pawmark/trapper/pkg/tracing"
)

// Projector mirrors canonical entities, households, and merges into the graph
type Projector struct {
	client *Client
	logger ectologger.Logger
}

// NewProjector creates a new graph projector
func NewProjector(client *Client, logger ectologger.Logger) *Projector {
	return &Projector{
		client: client,
		logger: logger,
	}
}

// ProjectEntity creates or updates the node for a canonical entity. The node
// label is the entity kind (:Person, :Place, :Animal).
func (p *Projector) ProjectEntity(ctx context.Context, entity *models.CanonicalEntity) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.ProjectEntity")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id": entity.ID,
		"kind":      string(entity.Kind),
	})

	props := map[string]any{
		"id":              entity.ID,
		"kind":            string(entity.Kind),
		"display_name":    entity.DisplayName,
		"name_normalized": entity.NameNormalized,
		"created_at":      entity.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":      entity.UpdatedAt.UTC().Format(time.RFC3339),
	}

	cypher := fmt.Sprintf(`
		MERGE (e:%s {id: $id})
		SET e = $props
		RETURN e
	`, kindLabel(entity.Kind))

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"id":    entity.ID,
			"props": props,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		log.WithError(err).Error("Failed to project entity into graph")
		return fmt.Errorf("failed to project entity into graph: %w", err)
	}

	log.Debug("Projected entity into graph")
	return nil
}

// ProjectHouseholdMember links a person node to its household node
func (p *Projector) ProjectHouseholdMember(ctx context.Context, household *models.Household, entityID, role string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.ProjectHouseholdMember")
	defer span.End()

	cypher := `
		MERGE (h:Household {id: $household_id})
		SET h.address_normalized = $address
		MERGE (e:Person {id: $entity_id})
		MERGE (e)-[r:MEMBER_OF]->(h)
		SET r.role = $role
		RETURN r
	`

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"household_id": household.ID,
			"address":      household.AddressNormalized,
			"entity_id":    entityID,
			"role":         role,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to project household membership")
		return fmt.Errorf("failed to project household membership: %w", err)
	}
	return nil
}

// ProjectMerge records a merge as an edge from the tombstoned entity to its
// survivor so graph traversals can follow merge chains.
func (p *Projector) ProjectMerge(ctx context.Context, survivorID, mergedID string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.ProjectMerge")
	defer span.End()

	cypher := `
		MATCH (loser:Person {id: $merged_id})
		MATCH (survivor:Person {id: $survivor_id})
		MERGE (loser)-[r:MERGED_INTO]->(survivor)
		SET loser.merged_into = $survivor_id,
		    r.merged_at = datetime()
		RETURN r
	`

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"survivor_id": survivorID,
			"merged_id":   mergedID,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to project merge into graph")
		return fmt.Errorf("failed to project merge into graph: %w", err)
	}
	return nil
}

// HouseholdMembers returns the ids of all persons linked to the household
func (p *Projector) HouseholdMembers(ctx context.Context, householdID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.HouseholdMembers")
	defer span.End()

	cypher := `
		MATCH (e:Person)-[:MEMBER_OF]->(h:Household {id: $household_id})
		RETURN e.id AS id
		ORDER BY id
	`

	out, err := p.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"household_id": householdID})
		if err != nil {
			return nil, err
		}

		var ids []string
		for result.Next(ctx) {
			if id, ok := result.Record().Get("id"); ok {
				if s, ok := id.(string); ok {
					ids = append(ids, s)
				}
			}
		}
		return ids, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read household members: %w", err)
	}

	ids, _ := out.([]string)
	return ids, nil
}

func kindLabel(kind models.EntityKind) string {
	switch kind {
	case models.EntityKindPerson:
		return "Person"
	case models.EntityKindPlace:
		return "Place"
	case models.EntityKindAnimal:
		return "Animal"
	}
	return "Entity"
}
