package cache

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/aimuxlabs/aimux/pkg/types"
)

// Strategy selects how cache keys are derived from a request.
type Strategy string

const (
	// StrategyHashing hashes a canonical serialization of the request.
	StrategyHashing Strategy = "hashing"

	// StrategySemantic hashes only the core content fields, collapsing
	// requests that differ in volatile metadata to the same key.
	StrategySemantic Strategy = "semantic"

	// StrategyParameter encodes the salient parameters directly,
	// trading collision-freedom for debuggability.
	StrategyParameter Strategy = "parameter"
)

// KeyGenerator derives stable cache keys from requests. Generation is
// deterministic and side-effect free.
type KeyGenerator struct {
	strategy Strategy
}

// NewKeyGenerator creates a key generator. Unknown strategies fall
// back to hashing.
func NewKeyGenerator(strategy Strategy) *KeyGenerator {
	switch strategy {
	case StrategyHashing, StrategySemantic, StrategyParameter:
	default:
		strategy = StrategyHashing
	}
	return &KeyGenerator{strategy: strategy}
}

// Strategy returns the configured strategy.
func (g *KeyGenerator) Strategy() Strategy {
	return g.strategy
}

// Generate derives the cache key for a request.
func (g *KeyGenerator) Generate(model string, req *types.CompletionRequest) string {
	switch g.strategy {
	case StrategySemantic:
		return semanticKey(model, req)
	case StrategyParameter:
		return parameterKey(model, req)
	default:
		return hashingKey(model, req)
	}
}

// hashingKey hashes model plus a canonical serialization of every
// request field that affects the completion.
func hashingKey(model string, req *types.CompletionRequest) string {
	var sb strings.Builder

	sb.WriteString("model:")
	sb.WriteString(model)

	if msgs, err := json.Marshal(req.Messages); err == nil {
		sb.WriteString("|messages:")
		sb.Write(msgs)
	}
	if req.Temperature != nil {
		fmt.Fprintf(&sb, "|temp:%.4f", *req.Temperature)
	}
	if req.MaxTokens > 0 {
		fmt.Fprintf(&sb, "|max_tokens:%d", req.MaxTokens)
	}
	if req.TopP != nil {
		fmt.Fprintf(&sb, "|top_p:%.4f", *req.TopP)
	}
	if req.N > 0 {
		fmt.Fprintf(&sb, "|n:%d", req.N)
	}
	if len(req.Stop) > 0 {
		sb.WriteString("|stop:")
		sb.WriteString(strings.Join(req.Stop, ","))
	}
	if len(req.Tools) > 0 {
		if tools, err := json.Marshal(req.Tools); err == nil {
			sb.WriteString("|tools:")
			sb.Write(tools)
		}
	}
	// Extra is a map; sort keys for a stable serialization.
	if len(req.Extra) > 0 {
		keys := make([]string, 0, len(req.Extra))
		for k := range req.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString("|")
			sb.WriteString(k)
			sb.WriteString(":")
			sb.Write(req.Extra[k])
		}
	}

	return hashHex(sb.String())
}

// semanticKey keys on the core prompt content only. Volatile fields
// such as user identifiers or request tags do not affect the key.
func semanticKey(model string, req *types.CompletionRequest) string {
	content := extractCoreContent(req)
	if content == "" {
		// Cannot extract core content; fall back to hashing the raw
		// serialized payload rather than failing.
		raw, err := json.Marshal(req)
		if err != nil {
			return hashingKey(model, req)
		}
		return hashHex(model + "|" + string(raw))
	}

	normalized := normalizeContent(content)
	if len(normalized) > 200 {
		normalized = normalized[:200]
	}
	return hashHex(model + "|" + normalized)
}

// parameterKey encodes the salient parameters without hashing.
func parameterKey(model string, req *types.CompletionRequest) string {
	params := struct {
		Messages  []types.ChatMessage `json:"messages,omitempty"`
		MaxTokens int                 `json:"max_tokens,omitempty"`
		Temp      *float64            `json:"temperature,omitempty"`
	}{
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
		Temp:      req.Temperature,
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return hashingKey(model, req)
	}
	return model + "|" + string(raw)
}

// extractCoreContent concatenates message contents and the sampling
// parameters that change the completion.
func extractCoreContent(req *types.CompletionRequest) string {
	var sb strings.Builder
	for _, msg := range req.Messages {
		if text := msg.ContentText(); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	}
	if sb.Len() == 0 {
		return ""
	}
	if req.MaxTokens > 0 {
		fmt.Fprintf(&sb, "max:%d", req.MaxTokens)
	}
	if req.Temperature != nil {
		fmt.Fprintf(&sb, "temp:%.4f", *req.Temperature)
	}
	return sb.String()
}

// normalizeContent lowercases and collapses whitespace runs.
func normalizeContent(content string) string {
	var sb strings.Builder
	sb.Grow(len(content))
	inSpace := false
	for _, r := range content {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if !inSpace {
				sb.WriteByte(' ')
				inSpace = true
			}
		case r >= 'A' && r <= 'Z':
			sb.WriteRune(r + ('a' - 'A'))
			inSpace = false
		default:
			sb.WriteRune(r)
			inSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}

func hashHex(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%016x", h.Sum64())
}
