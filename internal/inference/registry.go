package inference

// DefaultModel is used when a request leaves model_id unset.
const DefaultModel = "florence-2-base"

// availableModels is the closed set of generation models a job may name.
var availableModels = map[string]bool{
	"florence-2-base":       true,
	"florence-2-large":      true,
	"smolvlm-256m-instruct": true,
	"smolvlm-500m-instruct": true,
	"moondream2":            true,
}

// ValidModel reports whether modelID names a known generation model.
func ValidModel(modelID string) bool {
	return availableModels[modelID]
}

// Models returns the known model ids.
func Models() []string {
	out := make([]string, 0, len(availableModels))
	for id := range availableModels {
		out = append(out, id)
	}
	return out
}
