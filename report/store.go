package report

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wiretamper/wiretamper/config"
	"github.com/wiretamper/wiretamper/types"
)

// Store keeps reports. List returns the newest reports first, a limit below
// one returns all of them.
type Store interface {
	Save(ctx context.Context, r *Report) error
	Get(ctx context.Context, id string) (*Report, error)
	List(ctx context.Context, limit int) ([]*Report, error)
	Close() error
}

// MemoryStore keeps reports for the lifetime of the process
type MemoryStore struct {
	reports *types.Map[string, *Report]
	order   []string
	lock    *sync.Mutex
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports: types.NewMap[string, *Report](),
		order:   make([]string, 0),
		lock:    new(sync.Mutex),
	}
}

func (m *MemoryStore) Save(_ context.Context, r *Report) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if !m.reports.Exists(r.ID) {
		m.order = append(m.order, r.ID)
	}
	m.reports.Add(r.ID, r)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Report, error) {
	r, ok := m.reports.Get(id)
	if !ok {
		return nil, ErrReportNotFound
	}
	return r, nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]*Report, error) {
	m.lock.Lock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	m.lock.Unlock()

	out := make([]*Report, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if r, ok := m.reports.Get(ids[i]); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// NewStore creates the store selected in the config
func NewStore(c config.StoreConfig) (Store, error) {
	switch c.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(c.Addr, c.Password, c.DB, WithPrefix(c.Prefix), WithTTL(c.TTL.Duration)), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownStore, c.Type)
}

// Summary counts reports per verdict
func Summary(reports []*Report) map[Verdict]int {
	out := map[Verdict]int{Pass: 0, Fail: 0, Error: 0}
	for _, r := range reports {
		out[r.Verdict]++
	}
	return out
}

// SortByStart orders reports newest first
func SortByStart(reports []*Report) {
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Start.After(reports[j].Start)
	})
}
