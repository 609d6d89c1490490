package runner

import (
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/namd-sim/engine/internal/patient"
)

// patientStore holds every patient entity for the run plus a bounded
// groupcache/lru working set of the patients currently due for dispatch,
// so a ten-year run over a large cohort does not have to keep every
// patient's full visit history pinned hot simultaneously.
//
// Grounded on the teacher's engine/resources.Manager page cache (an LRU
// of recently-fetched pages with spill-to-disk eviction), repurposed here
// from page bodies to patient working-set membership: eviction never
// drops a patient's data (the all map still owns the authoritative pointer), it
// only demotes bookkeeping a re-dispatch can cheaply rebuild.
type patientStore struct {
	mu  sync.Mutex
	all map[string]*patient.Patient
	hot *lru.Cache
}

func newPatientStore(hotCapacity int) *patientStore {
	if hotCapacity <= 0 {
		hotCapacity = 10_000
	}
	return &patientStore{
		all: make(map[string]*patient.Patient),
		hot: lru.New(hotCapacity),
	}
}

func (s *patientStore) add(p *patient.Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all[p.ID()] = p
	s.hot.Add(p.ID(), p)
}

// touch marks a patient as recently dispatched, keeping it in the hot set.
func (s *patientStore) touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.all[id]; ok {
		s.hot.Add(id, p)
	}
}

func (s *patientStore) get(id string) (*patient.Patient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.all[id]
	return p, ok
}

func (s *patientStore) list() []*patient.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*patient.Patient, 0, len(s.all))
	for _, p := range s.all {
		out = append(out, p)
	}
	return out
}

func (s *patientStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.all)
}
