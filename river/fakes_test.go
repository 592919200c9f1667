package river

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cert-lv/neo4j-river/pdk"
)

/*
 * Graph store imitation producing changes the same way
 * the Neo4j watcher does: a full scan compared to the ledger
 */
type fakeGraph struct {
	mx     sync.Mutex
	nodes  map[string]pdk.Node
	ledger pdk.Ledger
	limit  int
	err    error
	polls  int
}

func newGraph() *fakeGraph {
	return &fakeGraph{nodes: make(map[string]pdk.Node)}
}

func (g *fakeGraph) Conf() *pdk.River {
	return nil
}

func (g *fakeGraph) Setup(river *pdk.River, ledger pdk.Ledger) error {
	g.mx.Lock()
	defer g.mx.Unlock()

	g.limit = river.BatchSize
	g.ledger = ledger

	return nil
}

func (g *fakeGraph) Poll(ctx context.Context, since pdk.Checkpoint) ([]pdk.ChangeRecord, pdk.Checkpoint, error) {
	g.mx.Lock()
	defer g.mx.Unlock()

	g.polls++
	if g.err != nil {
		return nil, since, g.err
	}

	ledger, err := g.ledger.Synced(ctx)
	if err != nil {
		return nil, since, err
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	nodes := make([]pdk.Node, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, g.nodes[id])
	}

	records := pdk.Diff(nodes, ledger, since, g.limit, time.Now())
	if len(records) == 0 {
		return records, since, nil
	}

	return records, records[len(records)-1].Position, nil
}

func (g *fakeGraph) Stop() error {
	return nil
}

func (g *fakeGraph) put(id string, props map[string]interface{}) {
	g.mx.Lock()
	defer g.mx.Unlock()

	g.nodes[id] = pdk.Node{ID: id, Labels: []string{"Person"}, Properties: props}
}

func (g *fakeGraph) remove(id string) {
	g.mx.Lock()
	defer g.mx.Unlock()

	delete(g.nodes, id)
}

func (g *fakeGraph) fail(err error) {
	g.mx.Lock()
	defer g.mx.Unlock()

	g.err = err
}

/*
 * Index imitation applying actions in order
 */
type fakeSink struct {
	mx    sync.Mutex
	docs  map[string]map[string]interface{}
	calls int

	// Acknowledge only the first "failAt" actions, -1 to acknowledge all
	failAt int

	// Whole request failure
	err error

	// Closed when Apply is entered, Apply then waits for the cancellation
	entered chan struct{}
	once    sync.Once
}

func newSink() *fakeSink {
	return &fakeSink{docs: make(map[string]map[string]interface{}), failAt: -1}
}

func (s *fakeSink) Conf() *pdk.River {
	return nil
}

func (s *fakeSink) Setup(*pdk.River) error {
	return nil
}

func (s *fakeSink) Apply(ctx context.Context, actions []pdk.Action) (int, error) {
	s.mx.Lock()
	s.calls++
	entered := s.entered
	s.mx.Unlock()

	if entered != nil {
		s.once.Do(func() { close(entered) })
		<-ctx.Done()
	}

	s.mx.Lock()
	defer s.mx.Unlock()

	if s.err != nil {
		return 0, s.err
	}

	acked := len(actions)
	if s.failAt >= 0 && s.failAt < acked {
		acked = s.failAt
	}

	for _, a := range actions[:acked] {
		if a.Kind == pdk.ActionDelete {
			delete(s.docs, a.ID)
		} else {
			s.docs[a.ID] = a.Document
		}
	}

	if acked < len(actions) {
		return acked, &pdk.PartialWriteError{Acked: acked, Total: len(actions), Reason: "injected"}
	}

	return acked, nil
}

func (s *fakeSink) Refresh(context.Context) error {
	return nil
}

func (s *fakeSink) Count(ctx context.Context, field, value string) (int64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	var count int64
	for _, doc := range s.docs {
		if v, ok := doc[field].(string); ok && v == value {
			count++
		}
	}

	return count, nil
}

func (s *fakeSink) Stop() error {
	return nil
}

func (s *fakeSink) set(failAt int, err error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.failAt = failAt
	s.err = err
}

func (s *fakeSink) snapshot() map[string]map[string]interface{} {
	s.mx.Lock()
	defer s.mx.Unlock()

	docs := make(map[string]map[string]interface{}, len(s.docs))
	for id, doc := range s.docs {
		docs[id] = doc
	}

	return docs
}
