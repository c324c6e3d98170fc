package mqttc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var _ SessionStore = (*FileStore)(nil)

const (
	pendingPattern    = "pending_*.json"
	subscriptionsFile = "subscriptions.json"
	qos2File          = "qos2_received.json"
)

// FileStore implements SessionStore using JSON files on disk.
// Each client ID gets its own directory:
//
//	baseDir/
//	  clientID/
//	    pending_1.json
//	    pending_2.json
//	    subscriptions.json
//	    qos2_received.json
//
// Files are written to a temporary name and renamed into place, so a crash
// leaves either the old or the new content. All operations are synchronous.
type FileStore struct {
	dir      string
	clientID string
	perm     os.FileMode
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithPermissions sets the file permissions for stored files.
// Default is 0600.
func WithPermissions(perm os.FileMode) FileStoreOption {
	return func(f *FileStore) {
		f.perm = perm
	}
}

// NewFileStore creates a file-based session store for the specified client ID.
//
// Example:
//
//	store, err := mqttc.NewFileStore("/var/lib/mqttc", "sensor-1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client := mqttc.NewClient("tcp://localhost:1883",
//	    mqttc.WithClientID("sensor-1"),
//	    mqttc.WithCleanSession(false),
//	    mqttc.WithSessionStore(store))
func NewFileStore(baseDir, clientID string, opts ...FileStoreOption) (*FileStore, error) {
	if clientID == "" {
		return nil, errors.New("clientID cannot be empty")
	}
	if strings.Contains(clientID, "..") || strings.ContainsRune(clientID, filepath.Separator) {
		return nil, fmt.Errorf("clientID %q contains invalid characters", clientID)
	}

	f := &FileStore{
		dir:      filepath.Join(baseDir, clientID),
		clientID: clientID,
		perm:     0600,
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := os.MkdirAll(f.dir, f.perm|0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return f, nil
}

// ClientID returns the client ID this store is bound to.
func (f *FileStore) ClientID() string {
	return f.clientID
}

func (f *FileStore) path(name string) string {
	return filepath.Join(f.dir, name)
}

func pendingName(packetID uint16) string {
	return fmt.Sprintf("pending_%d.json", packetID)
}

// writeJSON atomically replaces name with the JSON encoding of v.
func (f *FileStore) writeJSON(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(f.dir, name+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Chmod(f.perm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), f.path(name)); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// readJSON decodes name into v. It reports false when the file is missing.
func (f *FileStore) readJSON(name string, v any) (bool, error) {
	data, err := os.ReadFile(f.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return true, nil
}

func (f *FileStore) removeFile(name string) error {
	err := os.Remove(f.path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

// SavePendingPublish stores a pending publish to disk.
func (f *FileStore) SavePendingPublish(packetID uint16, pub *PersistedPublish) error {
	return f.writeJSON(pendingName(packetID), pub)
}

// DeletePendingPublish removes a pending publish from disk.
func (f *FileStore) DeletePendingPublish(packetID uint16) error {
	return f.removeFile(pendingName(packetID))
}

// LoadPendingPublishes loads all pending publishes from disk.
// Files with malformed names or contents are skipped.
func (f *FileStore) LoadPendingPublishes() (map[uint16]*PersistedPublish, error) {
	files, err := filepath.Glob(f.path(pendingPattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending publishes: %w", err)
	}

	result := make(map[uint16]*PersistedPublish, len(files))
	for _, file := range files {
		var packetID uint16
		base := filepath.Base(file)
		if _, err := fmt.Sscanf(base, "pending_%d.json", &packetID); err != nil || packetID == 0 {
			continue
		}

		var pub PersistedPublish
		if ok, err := f.readJSON(base, &pub); err != nil || !ok {
			continue
		}
		result[packetID] = &pub
	}
	return result, nil
}

// SaveSubscription stores a subscription to disk.
func (f *FileStore) SaveSubscription(filter string, sub *SubscriptionInfo) error {
	subs, err := f.LoadSubscriptions()
	if err != nil {
		subs = make(map[string]*SubscriptionInfo)
	}
	subs[filter] = sub
	return f.writeJSON(subscriptionsFile, subs)
}

// DeleteSubscription removes a subscription from disk.
func (f *FileStore) DeleteSubscription(filter string) error {
	subs, err := f.LoadSubscriptions()
	if err != nil {
		return nil
	}
	if _, ok := subs[filter]; !ok {
		return nil
	}
	delete(subs, filter)
	if len(subs) == 0 {
		return f.removeFile(subscriptionsFile)
	}
	return f.writeJSON(subscriptionsFile, subs)
}

// LoadSubscriptions loads all subscriptions from disk.
func (f *FileStore) LoadSubscriptions() (map[string]*SubscriptionInfo, error) {
	subs := make(map[string]*SubscriptionInfo)
	if _, err := f.readJSON(subscriptionsFile, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (f *FileStore) writeQoS2(ids map[uint16]struct{}) error {
	if len(ids) == 0 {
		return f.removeFile(qos2File)
	}
	list := make([]uint16, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	slices.Sort(list)
	return f.writeJSON(qos2File, list)
}

// SaveReceivedQoS2 marks a QoS 2 packet ID as received.
func (f *FileStore) SaveReceivedQoS2(packetID uint16) error {
	ids, err := f.LoadReceivedQoS2()
	if err != nil {
		ids = make(map[uint16]struct{})
	}
	ids[packetID] = struct{}{}
	return f.writeQoS2(ids)
}

// DeleteReceivedQoS2 removes a QoS 2 packet ID.
func (f *FileStore) DeleteReceivedQoS2(packetID uint16) error {
	ids, err := f.LoadReceivedQoS2()
	if err != nil {
		return nil
	}
	if _, ok := ids[packetID]; !ok {
		return nil
	}
	delete(ids, packetID)
	return f.writeQoS2(ids)
}

// LoadReceivedQoS2 loads all received QoS 2 packet IDs.
func (f *FileStore) LoadReceivedQoS2() (map[uint16]struct{}, error) {
	var list []uint16
	if _, err := f.readJSON(qos2File, &list); err != nil {
		return nil, err
	}
	ids := make(map[uint16]struct{}, len(list))
	for _, id := range list {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// ClearReceivedQoS2 removes all received QoS 2 packet IDs.
func (f *FileStore) ClearReceivedQoS2() error {
	return f.removeFile(qos2File)
}

// Clear removes all session state from disk.
func (f *FileStore) Clear() error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return fmt.Errorf("failed to read store directory: %w", err)
	}

	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		matched, _ := filepath.Match(pendingPattern, name)
		if matched || name == subscriptionsFile || name == qos2File {
			errs = append(errs, f.removeFile(name))
		}
	}
	return errors.Join(errs...)
}
