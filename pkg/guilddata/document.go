package guilddata

import "path/filepath"

// Document is a single JSON object file under the data root, for state
// that is not scoped to one event record (guild registries, canvases).
// Same discipline as the event store: load-modify-write under the path
// lock with an atomic replace.
type Document struct {
	store *Store
	path  string
}

// Document returns the document at a path relative to the data root.
func (s *Store) Document(relPath string) *Document {
	return &Document{store: s, path: filepath.Join(s.root, relPath)}
}

// Load returns the document's object, or an empty map when the file does
// not exist yet.
func (d *Document) Load() (map[string]any, error) {
	lock := d.store.pathLock(d.path)
	lock.Lock()
	defer lock.Unlock()

	obj := map[string]any{}
	if _, err := loadJSON(d.path, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// Update performs one locked load-modify-write cycle.
func (d *Document) Update(mutate func(map[string]any) error) error {
	lock := d.store.pathLock(d.path)
	lock.Lock()
	defer lock.Unlock()

	obj := map[string]any{}
	if _, err := loadJSON(d.path, &obj); err != nil {
		return err
	}
	if err := mutate(obj); err != nil {
		return err
	}
	data, err := marshalIndent(obj)
	if err != nil {
		return err
	}
	return writeAtomic(d.path, data)
}
