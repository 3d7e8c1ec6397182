package storage

import (
	"fmt"
)

var factoryFuncs = map[string]func(string) (StateStore, error){}

func RegisterFactory(storageType string, fn func(string) (StateStore, error)) {
	factoryFuncs[storageType] = fn
}

func New(storageType, path string) (StateStore, error) {
	if storageType == "" {
		storageType = "sqlite"
	}

	fn, exists := factoryFuncs[storageType]
	if !exists {
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}

	return fn(path)
}
