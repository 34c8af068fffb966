package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"ai-oracle/server/event"
	"ai-oracle/server/sim"
)

const resolveSystem = `
You are a forecasting classifier. Given a question about a future or past event, you list the
distinct outcomes that could answer it and rate each one.

Rules:
- If the event has already been decided, set happened=true and put what happened in explanation.
- Otherwise set happened=false and list 2 to 8 mutually exclusive outcomes.
- baseStrength (0-100) is how likely the outcome looks on current evidence.
- volatility (0-100) is how uncertain that judgement is; upsets need high volatility.
- shortName is at most 12 characters; emoji is a single emoji.
- detail is one sentence of rationale.
- Respond with JSON only.
`

var outcomeSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"happened":    map[string]any{"type": "boolean"},
		"explanation": map[string]any{"type": "string"},
		"outcomes": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"name":         map[string]any{"type": "string"},
					"shortName":    map[string]any{"type": "string"},
					"detail":       map[string]any{"type": "string"},
					"emoji":        map[string]any{"type": "string"},
					"baseStrength": map[string]any{"type": "number", "minimum": 0, "maximum": 100},
					"volatility":   map[string]any{"type": "number", "minimum": 0, "maximum": 100},
				},
				"required": []string{"name", "shortName", "detail", "emoji", "baseStrength", "volatility"},
			},
		},
	},
	"required": []string{"happened", "explanation", "outcomes"},
}

// Resolve asks the model for the outcome set of question.
func (c *Client) Resolve(ctx context.Context, question string) (event.Resolution, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return event.Resolution{}, fmt.Errorf("%w: question is empty", sim.ErrInvalidInput)
	}
	user := fmt.Sprintf("Question:\n%s\n\nReturn {\"happened\":bool,\"explanation\":string,\"outcomes\":[...]}.", question)

	text, err := c.Complete(ctx, resolveSystem, user, Options{SchemaName: "event_outcomes", Schema: outcomeSchema})
	if err != nil {
		return event.Resolution{}, fmt.Errorf("resolve %q: %w", question, err)
	}
	res, err := parseResolution(text)
	if err != nil {
		c.log.Warn("unparseable resolution", map[string]any{"raw": truncate(text, 400), "error": err})
		return event.Resolution{}, fmt.Errorf("resolve %q: %w", question, err)
	}
	res.Question = question
	if err := event.Validate(&res); err != nil {
		return event.Resolution{}, err
	}
	c.log.Debug("resolved", map[string]any{"question": question, "outcomes": len(res.Outcomes), "happened": res.Happened})
	return res, nil
}

// parseResolution accepts the structured reply, or the first JSON object
// embedded in prose when a model ignores the response format.
func parseResolution(text string) (event.Resolution, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return event.Resolution{}, errors.New("empty response")
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		cleaned := extractJSONObject(raw)
		if cleaned == "" {
			return event.Resolution{}, err
		}
		if err2 := json.Unmarshal([]byte(cleaned), &parsed); err2 != nil {
			return event.Resolution{}, err
		}
	}

	res := event.Resolution{
		Happened:    asBool(parsed["happened"]),
		Explanation: asString(parsed["explanation"]),
	}
	items, _ := parsed["outcomes"].([]any)
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		o, ok := coerceOutcome(m)
		if !ok {
			continue
		}
		res.Outcomes = append(res.Outcomes, o)
	}
	if !res.Happened && len(res.Outcomes) == 0 {
		return event.Resolution{}, errors.New("no usable outcomes in response")
	}
	return res, nil
}

func coerceOutcome(m map[string]any) (sim.Outcome, bool) {
	name := asString(m["name"])
	if name == "" {
		return sim.Outcome{}, false
	}
	strength, ok := asNumber(m["baseStrength"])
	if !ok {
		return sim.Outcome{}, false
	}
	vol, ok := asNumber(m["volatility"])
	if !ok {
		vol = 50
	}
	short := asString(m["shortName"])
	if short == "" {
		short = name
	}
	return sim.Outcome{
		Name:         name,
		ShortName:    short,
		Detail:       asString(m["detail"]),
		Emoji:        asString(m["emoji"]),
		BaseStrength: clamp(strength, 0, 100),
		Volatility:   clamp(vol, 0, 100),
	}, true
}

func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		return ""
	}
	return strings.TrimSpace(s[start : end+1])
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y":
			return true
		}
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(t, "%")), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
