package storagesvc

import (
	"context"
	"io"
	"io/ioutil"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/hatua/core"
)

// InMemObjectStore keeps uploads in memory; used in tests and local dev.
type InMemObjectStore struct {
	mutex   sync.RWMutex
	objects map[string][]byte

	// FailUploads makes every Upload return an error; test hook.
	FailUploads bool
}

var _ core.ObjectStore = (*InMemObjectStore)(nil) // interface compliance check

func NewInMemObjectStore() *InMemObjectStore {
	return &InMemObjectStore{objects: make(map[string][]byte)}
}

func (store *InMemObjectStore) Upload(ctx context.Context, path string, content io.Reader, contentType string) (string, error) {
	if store.FailUploads {
		return "", errors.New("object store unavailable")
	}
	data, err := ioutil.ReadAll(content)
	if err != nil {
		return "", errors.Wrap(err, "reading content")
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.objects[path] = data
	return store.PublicURL(path), nil
}

func (store *InMemObjectStore) PublicURL(path string) string {
	return "https://storage.local/" + strings.TrimPrefix(path, "/")
}

// Get returns a stored object's bytes; test helper.
func (store *InMemObjectStore) Get(path string) ([]byte, bool) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	data, ok := store.objects[path]
	return data, ok
}

// Len reports how many objects are stored; test helper.
func (store *InMemObjectStore) Len() int {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	return len(store.objects)
}
