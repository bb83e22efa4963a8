// Package journal publishes routing decisions to a capped Redis stream.
//
// Records are contract-first: every record is validated against the decision
// schema before publish, so consumers can rely on the stream's shape. The
// stream is capped, making the journal a bounded recent-history window
// rather than an unbounded log.
package journal

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/decision.schema.json
var schemaFS embed.FS

const (
	// DefaultStream is the Redis stream carrying decision records.
	DefaultStream = "c12:journal:decisions"

	// DefaultMaxLen caps the stream. Trimming is approximate, letting
	// Redis trim on macro-node boundaries.
	DefaultMaxLen = 4096

	// SchemaVersion is the contract version stamped on every record.
	SchemaVersion = "1.0"
)

// Record is one journal entry describing a routing decision.
type Record struct {
	Version          string    `json:"version"`
	DecisionID       string    `json:"decision_id"`
	Timestamp        time.Time `json:"timestamp"`
	ModelID          string    `json:"model_id"`
	CarbonTier       string    `json:"carbon_tier"`
	CarbonValue      float64   `json:"carbon_value_gco2_kwh"`
	CarbonSource     string    `json:"carbon_source"`
	IsCode           bool      `json:"is_code"`
	Complexity       string    `json:"complexity"`
	Rationale        []string  `json:"rationale"`
	TokenCount       int       `json:"token_count"`
	CarbonSavedG     float64   `json:"carbon_saved_g"`
	ProcessingTimeMs float64   `json:"processing_time_ms"`
}

// Journal validates and publishes decision records.
type Journal struct {
	redis  *redis.Client
	stream string
	maxLen int64
	schema *jsonschema.Schema
}

// New compiles the embedded decision schema and returns a journal writing to
// the given stream. stream and maxLen can be zero for the defaults.
func New(client *redis.Client, stream string, maxLen int64) (*Journal, error) {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile decision schema: %w", err)
	}
	return &Journal{redis: client, stream: stream, maxLen: maxLen, schema: schema}, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile("schemas/decision.schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded schema: %w", err)
	}

	var schemaDoc interface{}
	if err := json.Unmarshal(data, &schemaDoc); err != nil {
		return nil, fmt.Errorf("failed to parse schema JSON: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("decision.schema.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	return compiler.Compile("decision.schema.json")
}

// Append validates a record and publishes it. The returned id is the Redis
// stream message id. Records failing validation are rejected before touching
// the stream.
func (j *Journal) Append(ctx context.Context, rec Record) (string, error) {
	if rec.Version == "" {
		rec.Version = SchemaVersion
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	// Validate the wire form, not the struct: what consumers see is what
	// the contract guards.
	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", fmt.Errorf("failed to normalize record: %w", err)
	}
	if err := j.schema.Validate(doc); err != nil {
		return "", fmt.Errorf("decision record validation failed: %w", err)
	}

	id, err := j.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: j.stream,
		MaxLen: j.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data":        string(payload),
			"decision_id": rec.DecisionID,
			"model":       rec.ModelID,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish decision record: %w", err)
	}

	log.Printf("DEBUG: Journaled decision %s as %s", rec.DecisionID, id)
	return id, nil
}

// Tail returns up to n records, newest first. Messages that fail to decode
// are skipped with a warning; one corrupt entry must not hide the rest.
func (j *Journal) Tail(ctx context.Context, n int64) ([]Record, error) {
	msgs, err := j.redis.XRevRangeN(ctx, j.stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read decision journal: %w", err)
	}

	records := make([]Record, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			log.Printf("WARN: Journal message %s has no data field", msg.ID)
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			log.Printf("WARN: Failed to decode journal message %s: %v", msg.ID, err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Stream returns the stream key the journal writes to.
func (j *Journal) Stream() string {
	return j.stream
}
