package contacts

import (
	"errors"
	"iter"
	"sync"

	"github.com/LeventeLantos/whatsapp-blast/internal/model"
)

var ErrNotFound = errors.New("contact not found")

// Registry is the ordered contact list of the dashboard. Replacement is
// positional, so list order never changes after import.
type Registry struct {
	mu    sync.RWMutex
	items []model.Contact
	index map[int64]int
}

func NewRegistry(items []model.Contact) *Registry {
	r := &Registry{}
	r.Set(items)
	return r
}

// Set swaps the whole list, as an import does.
func (r *Registry) Set(items []model.Contact) {
	cloned := model.CloneContacts(items)
	index := make(map[int64]int, len(cloned))
	for i, c := range cloned {
		index[c.ID] = i
	}

	r.mu.Lock()
	r.items = cloned
	r.index = index
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Registry) Get(id int64) (model.Contact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[id]
	if !ok {
		return model.Contact{}, false
	}
	return r.items[i].Clone(), true
}

// Replace overwrites the record whose ID equals id, in place.
func (r *Registry) Replace(id int64, updated model.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[id]
	if !ok {
		return ErrNotFound
	}
	updated = updated.Clone()
	updated.ID = id
	r.items[i] = updated
	return nil
}

// All returns a copy of every contact in list order.
func (r *Registry) All() []model.Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return model.CloneContacts(r.items)
}

// FilterByStatus returns a lazy view over the contacts with the given
// status, or every contact for model.StatusAll. Each range over the
// sequence starts again from the top of the list and observes whatever
// state the registry holds at that moment.
func (r *Registry) FilterByStatus(status model.Status) iter.Seq[model.Contact] {
	return func(yield func(model.Contact) bool) {
		for i := 0; ; i++ {
			c, ok := r.at(i)
			if !ok {
				return
			}
			if status != model.StatusAll && c.Status != status {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

// CountsByStatus only has keys for statuses that occur at least once.
func (r *Registry) CountsByStatus() map[model.Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[model.Status]int)
	for _, c := range r.items {
		counts[c.Status]++
	}
	return counts
}

// ResetAll puts every contact back to pending and returns the reset list.
func (r *Registry) ResetAll() []model.Contact {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.items {
		r.items[i].Reset()
	}
	return model.CloneContacts(r.items)
}

// ResetFailed puts only the failed contacts back to pending and returns
// them in list order. Other contacts are left untouched.
func (r *Registry) ResetFailed() []model.Contact {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Contact
	for i := range r.items {
		if r.items[i].Status != model.Failed {
			continue
		}
		r.items[i].Reset()
		out = append(out, r.items[i].Clone())
	}
	return out
}

func (r *Registry) at(i int) (model.Contact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i >= len(r.items) {
		return model.Contact{}, false
	}
	return r.items[i].Clone(), true
}
