// Package whisper owns the single loaded speech recognition model:
// the descriptor registry, the compute device probe, and the manager
// that serializes all access to the active model instance.
package whisper

// MemoryClass is a coarse resource-cost class for a model descriptor
type MemoryClass string

const (
	MemorySmall  MemoryClass = "small"  // < 1 GB
	MemoryMedium MemoryClass = "medium" // 1-3 GB
	MemoryLarge  MemoryClass = "large"  // > 3 GB
)

// Descriptor identifies one selectable recognition model. Immutable.
type Descriptor struct {
	ID          string      // model identifier, e.g. "base", "large-v3"
	Memory      MemoryClass // approximate footprint class
	EnglishOnly bool        // ".en" variants only transcribe English
}

// registry lists every model the service can load, in display order.
var registry = []Descriptor{
	{ID: "tiny", Memory: MemorySmall},
	{ID: "tiny.en", Memory: MemorySmall, EnglishOnly: true},
	{ID: "base", Memory: MemorySmall},
	{ID: "base.en", Memory: MemorySmall, EnglishOnly: true},
	{ID: "small", Memory: MemoryMedium},
	{ID: "small.en", Memory: MemoryMedium, EnglishOnly: true},
	{ID: "medium", Memory: MemoryMedium},
	{ID: "medium.en", Memory: MemoryMedium, EnglishOnly: true},
	{ID: "large-v1", Memory: MemoryLarge},
	{ID: "large-v2", Memory: MemoryLarge},
	{ID: "large-v3", Memory: MemoryLarge},
	{ID: "large-v3-turbo", Memory: MemoryLarge},
	{ID: "distil-large-v2", Memory: MemoryMedium},
	{ID: "distil-large-v3", Memory: MemoryMedium},
}

// ModelIDs returns the identifiers of all registered models
func ModelIDs() []string {
	ids := make([]string, 0, len(registry))
	for _, d := range registry {
		ids = append(ids, d.ID)
	}
	return ids
}

// Lookup returns the descriptor for the given model identifier
func Lookup(id string) (Descriptor, error) {
	for _, d := range registry {
		if d.ID == id {
			return d, nil
		}
	}
	return Descriptor{}, NewError(KindNotFound, "unknown model %q", id)
}
