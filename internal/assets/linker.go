// Package assets exposes model directories from persistent storage inside the
// engine's model tree via symlinks.
package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Categories are the engine model subdirectories that may be provided by the
// volume.
var Categories = []string{"checkpoints", "loras", "vae", "embeddings"}

type Linker struct {
	VolumeRoot string
	EngineDir  string
	Logger     zerolog.Logger
}

// Link creates <engine>/models/<cat> -> <volume>/models/<cat> for every
// category present on the volume and not yet present in the engine tree.
// A missing volume is a valid "no extra assets" configuration.
func (l Linker) Link() ([]string, error) {
	if _, err := os.Stat(l.VolumeRoot); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.Logger.Debug().Str("volume", l.VolumeRoot).Msg("volume absent, skipping asset links")
			return nil, nil
		}
		return nil, fmt.Errorf("stat volume %s: %w", l.VolumeRoot, err)
	}

	var linked []string
	for _, category := range Categories {
		src := filepath.Join(l.VolumeRoot, "models", category)
		dst := filepath.Join(l.EngineDir, "models", category)

		if !exists(src) || existsNoFollow(dst) {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return linked, fmt.Errorf("create models dir: %w", err)
		}
		if err := os.Symlink(src, dst); err != nil {
			return linked, fmt.Errorf("link %s: %w", category, err)
		}
		l.Logger.Info().Str("category", category).Str("src", src).Msg("linked asset directory")
		linked = append(linked, category)
	}
	return linked, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// existsNoFollow treats a dangling symlink as present so it is never clobbered.
func existsNoFollow(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
