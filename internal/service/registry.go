package service

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/23skdu/longbow-tensorcore/internal/tensor"
)

// ErrUnknownTensor is returned for a name that is not in the registry.
var ErrUnknownTensor = errors.New("unknown tensor")

// Registry holds named tensors that requests can refer to, such as model
// weights uploaded once and reused across calls.
type Registry struct {
	data map[string]*tensor.Tensor
	mu   sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		data: make(map[string]*tensor.Tensor),
	}
}

func (r *Registry) Get(name string) (*tensor.Tensor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.data[name]; ok {
		return t, nil
	}
	return nil, errors.Wrapf(ErrUnknownTensor, "%q", name)
}

// Put stores t under name, taking ownership of it. A tensor previously
// stored under the same name is released.
func (r *Registry) Put(name string, t *tensor.Tensor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.data[name]; ok && old != t {
		old.Release()
	}
	r.data[name] = t
}

// Drop releases and forgets the tensor stored under name.
func (r *Registry) Drop(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.data[name]
	if !ok {
		return errors.Wrapf(ErrUnknownTensor, "%q", name)
	}
	t.Release()
	delete(r.data, name)
	return nil
}

// Names returns the stored names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.data))
	for name := range r.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// Close releases every stored tensor.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, t := range r.data {
		t.Release()
		delete(r.data, name)
	}
}
