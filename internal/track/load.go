package track

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// document is the layout written by the track-authoring tool.
type document struct {
	StartIndex     int    `koanf:"start_index"`
	PreFinishIndex *int   `koanf:"pre_finish_index"`
	Checkpoints    []Vec3 `koanf:"checkpoints"`
}

// LoadFile reads a YAML track document. Calling it again is how a track is
// re-derived after it was edited.
func LoadFile(path string) (*Track, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading track %s: %w", path, err)
	}

	var doc document
	if err := k.UnmarshalWithConf("", &doc, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decoding track %s: %w", path, err)
	}

	opts := []Option{WithStartIndex(doc.StartIndex)}
	if doc.PreFinishIndex != nil {
		opts = append(opts, WithPreFinishIndex(*doc.PreFinishIndex))
	}
	t, err := New(doc.Checkpoints, opts...)
	if err != nil {
		return nil, fmt.Errorf("building track %s: %w", path, err)
	}
	return t, nil
}
