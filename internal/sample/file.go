package sample

import (
	"fmt"
	"os"
	"slices"

	"github.com/pelletier/go-toml/v2"
)

// File is the on-disk layout of a sample set:
//
//	[[samples]]
//	id = "news_001"
//	text = "..."
//	category = "news"
type File struct {
	Samples []Sample `toml:"samples"`
}

var builtin = []Sample{
	{
		ID:       "news_001",
		Text:     "The central bank kept interest rates unchanged on Tuesday, citing steady growth and easing inflation.",
		Category: "news",
	},
	{
		ID:       "literature_001",
		Text:     "It was the best of times, it was the worst of times, it was the age of wisdom, it was the age of foolishness.",
		Category: "literature",
	},
	{
		ID:       "conversation_001",
		Text:     "Hey, are you free this weekend? We're thinking about a picnic by the lake if the weather holds.",
		Category: "conversation",
	},
	{
		ID:       "technical_001",
		Text:     "Configure the load balancer to forward TCP traffic on port 443 and enable health checks every ten seconds.",
		Category: "technical",
	},
	{
		ID:       "narrative_001",
		Text:     "The old lighthouse keeper climbed the spiral stairs one last time, lantern in hand, as the storm rolled in.",
		Category: "narrative",
	},
}

// Builtin returns the default sample set, one text per category.
func Builtin() []Sample {
	return slices.Clone(builtin)
}

// LoadFile reads a sample set from a TOML file.
func LoadFile(path string) ([]Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sample file %s: %w", path, err)
	}

	var file File

	err = toml.Unmarshal(data, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sample file %s: %w", path, err)
	}

	if len(file.Samples) == 0 {
		return nil, fmt.Errorf("%w: sample file %s has no samples", ErrEmptyText, path)
	}

	return file.Samples, nil
}
