package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/JaimeStill/triage/internal/intake"
	"github.com/JaimeStill/triage/internal/sessions"
)

// requiredFields lists the keys a structured payload must carry for each
// intent. Order determines anomaly order.
var requiredFields = map[string][]string{
	"invoice": {"invoice_number", "amount", "currency", "due_date"},
	"order":   {"order_id", "customer", "items"},
	"rfq":     {"rfq_id", "items", "deadline"},
}

// JSONAgent validates structured payloads: it inventories the keys present
// and flags intent-required keys that are missing as anomalies instead of
// failing the extraction.
type JSONAgent struct{}

func NewJSONAgent() *JSONAgent {
	return &JSONAgent{}
}

func (a *JSONAgent) Name() string { return "json_agent" }

func (a *JSONAgent) Extract(ctx context.Context, req Request) (sessions.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return sessions.ExtractionResult{}, err
	}

	payload, err := decodePayload(req.Input)
	if err != nil {
		return sessions.ExtractionResult{
			Agent:     a.Name(),
			Anomalies: []string{fmt.Sprintf("invalid:%v", err)},
			Status:    sessions.ExtractionFailed,
		}, nil
	}

	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	var anomalies []string
	for _, field := range requiredFields[req.Intent] {
		if _, ok := payload[field]; !ok {
			anomalies = append(anomalies, "missing:"+field)
		}
	}

	status := sessions.ExtractionCompleted
	if len(anomalies) > 0 {
		status = sessions.ExtractionWithAnomalies
	}

	return sessions.ExtractionResult{
		Agent: a.Name(),
		Fields: map[string]any{
			"keys_found":   keys,
			"total_fields": len(payload),
			"data":         payload,
		},
		Anomalies: anomalies,
		Status:    status,
	}, nil
}

// decodePayload parses the input as a JSON object. For email inputs carrying
// an embedded JSON block, the block is decoded instead of the whole body.
func decodePayload(in *intake.Input) (map[string]any, error) {
	raw := in.Raw
	if in.Format == intake.FormatEmail {
		if block := intake.ExtractJSONBlock(in.Text()); block != "" {
			raw = []byte(block)
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}

	return payload, nil
}
