package common

// Point is one embedded entity in the vector collection.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"-"`
	Payload map[string]any `json:"payload"`
}

// ScoredPoint is a search hit. Score is cosine similarity, higher is closer.
type ScoredPoint struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// PayloadType returns the "type" field of a point payload.
func (p ScoredPoint) PayloadType() string {
	t, _ := p.Payload["type"].(string)
	return t
}

// PayloadString returns p.Payload[key] when it is a string.
func (p ScoredPoint) PayloadString(key string) string {
	v, _ := p.Payload[key].(string)
	return v
}
