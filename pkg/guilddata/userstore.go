package guilddata

// UserStore appends tool results to the per-user array at
// data/<guild>/<event>/<user>/state.json.
type UserStore struct {
	store *Store
}

// NewUserStore wraps a Store with user-record operations.
func NewUserStore(store *Store) *UserStore {
	return &UserStore{store: store}
}

// Append adds one structured record to the user's state array, creating the
// file and its parents on first write.
func (u *UserStore) Append(guildID, eventID, userID string, record any) error {
	path := u.store.UserStateFile(guildID, eventID, userID)
	lock := u.store.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	var entries []any
	if _, err := loadJSON(path, &entries); err != nil {
		return err
	}
	entries = append(entries, record)
	data, err := marshalIndent(entries)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// Load returns the user's full state array; empty when none exists.
func (u *UserStore) Load(guildID, eventID, userID string) ([]any, error) {
	path := u.store.UserStateFile(guildID, eventID, userID)
	lock := u.store.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	var entries []any
	if _, err := loadJSON(path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
