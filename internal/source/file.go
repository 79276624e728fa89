package source

import (
	"context"
	"fmt"
	"os"

	"cropwatch/internal/event"
)

// FileSource reads the snapshot from a local file on every fetch.
type FileSource struct {
	path string
	opts Options
}

// NewFileSource builds a file source.
func NewFileSource(path string, opts Options) *FileSource {
	return &FileSource{path: path, opts: opts}
}

func (f *FileSource) Fetch(ctx context.Context) (event.Batch, error) {
	if err := ctx.Err(); err != nil {
		return event.Batch{}, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return event.Batch{}, fmt.Errorf("read snapshot %s: %w", f.path, err)
	}
	return Decode(data, f.opts)
}
