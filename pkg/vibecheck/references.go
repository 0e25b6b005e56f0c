package vibecheck

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
)

// reference is one loaded promotional image.
type reference struct {
	path string
	data []byte
	mime string
}

// imageSuffixes are the recognised promotional-image file extensions.
var imageSuffixes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// discoverReferences walks data/<guild>/<event>/ for files under any
// promotion directory and loads up to MaxReferences of them, in path order
// so repeated checks see the same references. A missing event directory
// means no references, not an error.
func (p *Pipeline) discoverReferences(guildID, eventID string) ([]reference, error) {
	root := p.store.EventDir(guildID, eventID)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !underPromotionDir(root, path) {
			return nil
		}
		if _, ok := imageSuffixes[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, errs.IO("walk event directory "+root, err)
	}

	sort.Strings(paths)
	if len(paths) > p.opts.MaxReferences {
		paths = paths[:p.opts.MaxReferences]
	}

	refs := make([]reference, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			p.logger.Warn("Skipping unreadable promotional image", "path", path, "error", err)
			continue
		}
		refs = append(refs, reference{
			path: path,
			data: data,
			mime: imageSuffixes[strings.ToLower(filepath.Ext(path))],
		})
	}
	return refs, nil
}

// underPromotionDir reports whether path has a "promotion" directory
// component below root.
func underPromotionDir(root, path string) bool {
	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "promotion" {
			return true
		}
	}
	return false
}
