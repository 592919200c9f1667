package memory

import (
	"context"
	"sync"

	"github.com/cert-lv/neo4j-river/pdk"
)

/*
 * Export symbols
 */
var (
	Name    = "memory"
	Version = "1.0.0"
)

/*
 * Checkpoint store keeping everything in the process memory.
 * Nothing survives a restart, so every start re-indexes the whole graph.
 * Meant for development and tests
 */
type Plugin struct {
	mx          sync.Mutex
	checkpoints map[string]pdk.Checkpoint
	ledgers     map[string]map[string]string
}

func New() *Plugin {
	p := &Plugin{}
	p.Setup(nil)
	return p
}

func (p *Plugin) Setup(store *pdk.Store) error {
	p.mx.Lock()
	defer p.mx.Unlock()

	p.checkpoints = make(map[string]pdk.Checkpoint)
	p.ledgers = make(map[string]map[string]string)

	return nil
}

func (p *Plugin) Load(ctx context.Context, river string) (pdk.Checkpoint, error) {
	p.mx.Lock()
	defer p.mx.Unlock()

	return p.checkpoints[river], nil
}

func (p *Plugin) Ledger(ctx context.Context, river string) (map[string]string, error) {
	p.mx.Lock()
	defer p.mx.Unlock()

	ledger := make(map[string]string, len(p.ledgers[river]))
	for id, fingerprint := range p.ledgers[river] {
		ledger[id] = fingerprint
	}

	return ledger, nil
}

func (p *Plugin) Commit(ctx context.Context, river string, checkpoint pdk.Checkpoint, records []pdk.ChangeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mx.Lock()
	defer p.mx.Unlock()

	if checkpoint.Before(p.checkpoints[river]) {
		return pdk.ErrCheckpointRegression
	}

	ledger, ok := p.ledgers[river]
	if !ok {
		ledger = make(map[string]string)
		p.ledgers[river] = ledger
	}

	pdk.ApplyToLedger(ledger, records)
	p.checkpoints[river] = checkpoint

	return nil
}

func (p *Plugin) Stop() error {
	return nil
}
