package domain

// Record is an entity in its outward-facing shape: the flat JSON object a
// resolver returns. Entities here are projections over backing stores, so
// the shape is dynamic by nature.
type Record map[string]any
