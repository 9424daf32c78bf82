// Package artifact loads the image files named by a job record and encodes
// them for transport.
package artifact

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/charforge/internal/domain"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"
)

const defaultKind = "output"

type Extractor struct {
	// Root is the engine directory; kinds ("output", "temp") live under it.
	Root   string
	Logger zerolog.Logger
}

func NewExtractor(root string, logger zerolog.Logger) Extractor {
	return Extractor{Root: root, Logger: logger.With().Str("component", "extractor").Logger()}
}

// Extract returns one artifact per image reference whose file can be read,
// in the order the engine reported them. Missing files are skipped.
func (e Extractor) Extract(record domain.JobRecord) []domain.ImageArtifact {
	var out []domain.ImageArtifact
	for _, entry := range record.Outputs {
		for _, ref := range entry.Images {
			path, ok := e.PathFor(ref)
			if !ok {
				e.Logger.Warn().Str("node_id", entry.NodeID).Str("filename", ref.Filename).Msg("image reference escapes engine root, skipping")
				continue
			}
			data, ok := ReadIfPresent(path)
			if !ok {
				e.Logger.Debug().Str("node_id", entry.NodeID).Str("path", path).Msg("image file missing, skipping")
				continue
			}
			out = append(out, encode(ref.Filename, data))
		}
	}
	return out
}

// engineKinds are the directories the engine writes images into.
var engineKinds = map[string]bool{"output": true, "temp": true, "input": true}

// PathFor joins root, kind (default "output"), the optional subfolder and the
// filename. ok is false for empty filenames, unknown kinds or paths leaving
// the kind dir.
func (e Extractor) PathFor(ref domain.ImageRef) (string, bool) {
	if strings.TrimSpace(ref.Filename) == "" {
		return "", false
	}
	kind := ref.Type
	if kind == "" {
		kind = defaultKind
	}
	if !engineKinds[kind] {
		return "", false
	}
	base := filepath.Join(e.Root, kind)
	path := filepath.Join(base, ref.Subfolder, ref.Filename)

	rel, err := filepath.Rel(base, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return path, true
}

// ReadIfPresent reads path, reporting false instead of an error when the file
// is absent or unreadable. Skipping such references is intentional: only an
// entirely empty result is a failure, and that is the caller's call.
func ReadIfPresent(path string) ([]byte, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

func encode(filename string, data []byte) domain.ImageArtifact {
	a := domain.ImageArtifact{
		Filename: filename,
		Data:     base64.StdEncoding.EncodeToString(data),
		Bytes:    len(data),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		a.Width = cfg.Width
		a.Height = cfg.Height
	}
	return a
}
