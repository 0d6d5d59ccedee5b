package nameservice

import (
	"fmt"
	"sync"

	"github.com/tryfix/log"
)

// LocalRegistry is an in-process NameService. It backs co-hosted task
// groups and tests; a cluster deployment plugs a remote directory in
// through the same interface.
type LocalRegistry struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
	logger    log.Logger
}

func NewLocalRegistry(logger log.Logger) *LocalRegistry {
	return &LocalRegistry{
		endpoints: make(map[string]Endpoint),
		logger:    logger.NewLog(log.Prefixed(`name-registry`)),
	}
}

func (r *LocalRegistry) Register(taskId string, endpoint Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.endpoints[taskId]; ok {
		return ErrAlreadyRegistered
	}

	r.endpoints[taskId] = endpoint
	r.logger.Info(fmt.Sprintf(`task [%s] registered on %s`, taskId, endpoint))

	return nil
}

func (r *LocalRegistry) Unregister(taskId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.endpoints[taskId]; !ok {
		return NotRegisteredError{TaskId: taskId}
	}

	delete(r.endpoints, taskId)
	r.logger.Info(fmt.Sprintf(`task [%s] unregistered`, taskId))

	return nil
}

func (r *LocalRegistry) Lookup(taskId string) (Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, ok := r.endpoints[taskId]
	if !ok {
		return Endpoint{}, NotRegisteredError{TaskId: taskId}
	}

	return ep, nil
}
