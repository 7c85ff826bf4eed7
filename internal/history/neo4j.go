package history

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// graphShape is the node label and edge type used for each record kind.
type graphShape struct {
	label string
	edge  string
}

var shapes = map[Kind]graphShape{
	KindSearch:  {label: "Search", edge: "SEARCHED"},
	KindMessage: {label: "Message", edge: "SENT"},
	KindView:    {label: "Item", edge: "VIEWED"},
}

func appendCypher(k Kind) string {
	s := shapes[k]
	return `MERGE (u:User {id: $user_id})
CREATE (n:` + s.label + ` {type: $type, params: $params, timestamp: $timestamp})
CREATE (u)-[:` + s.edge + `]->(n)`
}

func recentCypher(k Kind) string {
	s := shapes[k]
	return `MATCH (u:User {id: $user_id})-[:` + s.edge + `]->(n:` + s.label + `)
RETURN n.type AS type, n.params AS params, n.timestamp AS timestamp
ORDER BY n.timestamp DESC
LIMIT $limit`
}

// runFunc executes one cypher statement and returns its rows.
type runFunc func(ctx context.Context, cypher string, params map[string]any, write bool) ([]map[string]any, error)

// Neo4jStore keeps history as (User)-[SEARCHED|SENT|VIEWED]->(node) graphs.
type Neo4jStore struct {
	run   runFunc
	close func(ctx context.Context) error
}

// NewNeo4jStore connects and verifies connectivity before returning.
func NewNeo4jStore(ctx context.Context, uri, username, password, database string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, errors.Wrap(err, "neo4j: create driver")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, errors.Wrap(err, "neo4j: verify connectivity")
	}
	log.Info().Str("component", "history").Str("uri", uri).Msg("connected to neo4j")

	run := func(ctx context.Context, cypher string, params map[string]any, write bool) ([]map[string]any, error) {
		opts := []neo4j.ExecuteQueryConfigurationOption{}
		if database != "" {
			opts = append(opts, neo4j.ExecuteQueryWithDatabase(database))
		}
		if !write {
			opts = append(opts, neo4j.ExecuteQueryWithReadersRouting())
		}
		res, err := neo4j.ExecuteQuery(ctx, driver, cypher, params, neo4j.EagerResultTransformer, opts...)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(res.Records))
		for _, r := range res.Records {
			rows = append(rows, r.AsMap())
		}
		return rows, nil
	}
	return &Neo4jStore{run: run, close: driver.Close}, nil
}

func (s *Neo4jStore) Append(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	params, err := encodeParams(rec.Parameters)
	if err != nil {
		return err
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = s.run(ctx, appendCypher(rec.Kind), map[string]any{
		"user_id":   rec.UserID,
		"type":      rec.Type,
		"params":    params,
		"timestamp": ts.UTC(),
	}, true)
	return errors.Wrap(err, "neo4j: append")
}

func (s *Neo4jStore) Recent(ctx context.Context, userID string, kind Kind, limit int) ([]Record, error) {
	if !kind.Valid() {
		return nil, errors.Errorf("history: unknown kind %q", kind)
	}
	rows, err := s.run(ctx, recentCypher(kind), map[string]any{
		"user_id": userID,
		"limit":   int64(clampLimit(limit)),
	}, false)
	if err != nil {
		return nil, errors.Wrap(err, "neo4j: recent")
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		typ, _ := row["type"].(string)
		params, _ := row["params"].(string)
		out = append(out, Record{
			UserID:     userID,
			Kind:       kind,
			Type:       typ,
			Parameters: decodeParams(params),
			Timestamp:  asTime(row["timestamp"]),
		})
	}
	return out, nil
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case int64:
		return time.UnixMilli(t)
	}
	return time.Time{}
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}
