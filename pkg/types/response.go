package types

import (
	"github.com/goccy/go-json"
)

// ProviderResponse is the normalized result of forwarding a request to
// an upstream provider: the raw JSON payload plus the HTTP status.
type ProviderResponse struct {
	StatusCode int
	Body       json.RawMessage
}

// RoutingMetadata describes how a request was dispatched. It is merged
// into the response envelope under "metadata".
type RoutingMetadata struct {
	RoutingDecision string `json:"routing_decision"`
}

// Envelope augments a provider response with gateway routing fields.
// Provider-native fields always win: augmentation only fills keys the
// provider did not set.
type Envelope struct {
	Provider       string
	ResponseTimeMS float64
	Cache          bool
	Retries        int
	Metadata       RoutingMetadata
}

// Apply merges the envelope fields into the provider payload. A payload
// that is not a JSON object is wrapped under "data" first. An existing
// "metadata" object is extended rather than replaced.
func (e Envelope) Apply(body json.RawMessage) (json.RawMessage, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		payload = map[string]json.RawMessage{}
		if len(body) > 0 {
			payload["data"] = body
		}
	}

	setIfAbsent := func(key string, value any) error {
		if _, exists := payload[key]; exists {
			return nil
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		payload[key] = raw
		return nil
	}

	if err := setIfAbsent("provider", e.Provider); err != nil {
		return nil, err
	}
	if err := setIfAbsent("response_time", e.ResponseTimeMS); err != nil {
		return nil, err
	}
	if err := setIfAbsent("cache", e.Cache); err != nil {
		return nil, err
	}
	if e.Retries > 0 {
		if err := setIfAbsent("retries", e.Retries); err != nil {
			return nil, err
		}
	}

	meta := map[string]json.RawMessage{}
	if raw, ok := payload["metadata"]; ok {
		// Keep provider metadata; a non-object value is left untouched.
		if err := json.Unmarshal(raw, &meta); err != nil {
			return marshalPayload(payload)
		}
	}
	if _, exists := meta["routing_decision"]; !exists {
		raw, err := json.Marshal(e.Metadata.RoutingDecision)
		if err != nil {
			return nil, err
		}
		meta["routing_decision"] = raw
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	payload["metadata"] = raw

	return marshalPayload(payload)
}

func marshalPayload(payload map[string]json.RawMessage) (json.RawMessage, error) {
	out, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return out, nil
}
