package nameservice

import (
	"fmt"

	"github.com/tryfix/errors"
)

// Endpoint is a resolved network address of a task.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return fmt.Sprintf(`%s:%d`, e.Host, e.Port)
}

// NameService maps task ids to network endpoints. Tasks register
// themselves on startup; peers poll Lookup until registration lands.
type NameService interface {
	Register(taskId string, endpoint Endpoint) error
	Unregister(taskId string) error
	Lookup(taskId string) (Endpoint, error)
}

type NotRegisteredError struct {
	TaskId string
}

func (e NotRegisteredError) Error() string {
	return fmt.Sprintf(`task [%s] is not registered`, e.TaskId)
}

func IsNotRegistered(err error) bool {
	_, ok := err.(NotRegisteredError)
	return ok
}

var ErrAlreadyRegistered = errors.New(`task already registered`)
