package pricing

import (
	"strings"

	"mediagen/internal/domain"
)

// Table maps models to their credit cost. Unknown models fall back to the
// per-kind default so a newly onboarded model is never free by accident.
type Table struct {
	image        map[string]int
	video        map[string]int
	defaultImage int
	defaultVideo int
}

// Default returns the built-in price list.
func Default() *Table {
	return &Table{
		image: map[string]int{
			"flux-schnell": 5,
			"flux-pro":     15,
			"sdxl":         10,
		},
		video: map[string]int{
			"veo-2":      80,
			"veo-3":      120,
			"sora-turbo": 100,
		},
		defaultImage: 10,
		defaultVideo: 50,
	}
}

// Cost returns the credit cost for one generation.
func (t *Table) Cost(mediaType domain.MediaType, model string) int {
	model = strings.ToLower(strings.TrimSpace(model))
	if mediaType == domain.MediaTypeVideo {
		if cost, ok := t.video[model]; ok {
			return cost
		}
		return t.defaultVideo
	}
	if cost, ok := t.image[model]; ok {
		return cost
	}
	return t.defaultImage
}
