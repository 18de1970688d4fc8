package bert

import "strings"

// MapName converts a checkpoint tensor name to the model's parameter name.
//
//   - module.bert.x -> bert.x (data-parallel wrapper prefix)
//   - embeddings.x -> bert.embeddings.x (bare encoder checkpoints)
//   - *.LayerNorm.gamma -> *.LayerNorm.weight
//   - *.LayerNorm.beta -> *.LayerNorm.bias
//
// Names that need no mapping are returned unchanged.
func MapName(name string) string {
	name = strings.TrimPrefix(name, "module.")
	if strings.HasPrefix(name, "embeddings.") || strings.HasPrefix(name, "pooler.") {
		name = "bert." + name
	}
	if base, ok := strings.CutSuffix(name, ".gamma"); ok {
		return base + ".weight"
	}
	if base, ok := strings.CutSuffix(name, ".beta"); ok {
		return base + ".bias"
	}
	return name
}
