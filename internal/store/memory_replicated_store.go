package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/replicawatch/internal/model"
)

// ErrNotWritablePrimary is returned for writes sent to a secondary
var ErrNotWritablePrimary = errors.New("not writable primary")

// MemoryReplicatedStore simulates a replica set inside the process. The first
// address is the primary; secondary i (1-based) sees a write lag*i after the
// primary accepted it. It backs the "memory" driver and the package tests.
type MemoryReplicatedStore struct {
	mu      sync.RWMutex
	setName string
	primary string
	nodes   map[string]*memoryNode
	order   []string
	log     []memoryEntry
	now     func() time.Time

	connects int
	closes   int
}

type memoryEntry struct {
	record  model.Record
	applied time.Time
}

type memoryNode struct {
	address      string
	lag          time.Duration
	down         bool
	connectDelay time.Duration
	roleErr      error
	readErr      error
	writeErr     error
	writesBefore int // successful write calls allowed before writeErr applies
}

// NewMemoryReplicatedStore creates a simulated replica set over addresses
func NewMemoryReplicatedStore(setName string, addresses []string, lag time.Duration) *MemoryReplicatedStore {
	s := &MemoryReplicatedStore{
		setName: setName,
		nodes:   make(map[string]*memoryNode, len(addresses)),
		now:     time.Now,
	}
	for i, addr := range addresses {
		if i == 0 {
			s.primary = addr
		}
		s.nodes[addr] = &memoryNode{address: addr, lag: lag * time.Duration(i)}
		s.order = append(s.order, addr)
	}
	return s
}

// SetClock replaces the clock used for replication visibility
func (s *MemoryReplicatedStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetDown makes a node refuse connections
func (s *MemoryReplicatedStore) SetDown(address string, down bool) {
	s.withNode(address, func(n *memoryNode) { n.down = down })
}

// SetConnectDelay makes connecting to a node block for d or until the context ends
func (s *MemoryReplicatedStore) SetConnectDelay(address string, d time.Duration) {
	s.withNode(address, func(n *memoryNode) { n.connectDelay = d })
}

// SetRoleError makes the role query of a node fail
func (s *MemoryReplicatedStore) SetRoleError(address string, err error) {
	s.withNode(address, func(n *memoryNode) { n.roleErr = err })
}

// SetReadError makes every read on a node fail
func (s *MemoryReplicatedStore) SetReadError(address string, err error) {
	s.withNode(address, func(n *memoryNode) { n.readErr = err })
}

// SetWriteError makes writes on a node fail after `after` successful write calls
func (s *MemoryReplicatedStore) SetWriteError(address string, after int, err error) {
	s.withNode(address, func(n *memoryNode) {
		n.writeErr = err
		n.writesBefore = after
	})
}

// Len returns the number of records accepted by the primary
func (s *MemoryReplicatedStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.log)
}

// ConnectionStats returns how many connections were opened and closed
func (s *MemoryReplicatedStore) ConnectionStats() (connects, closes int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connects, s.closes
}

// Connect implements ReplicatedStore
func (s *MemoryReplicatedStore) Connect(ctx context.Context, address string) (Connection, error) {
	s.mu.Lock()
	node, ok := s.nodes[address]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("dial %s: no such host", address)
	}
	down, delay := node.down, node.connectDelay
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if down {
		return nil, fmt.Errorf("dial %s: connection refused", address)
	}

	s.mu.Lock()
	s.connects++
	s.mu.Unlock()
	return &memoryConnection{store: s, address: address}, nil
}

func (s *MemoryReplicatedStore) withNode(address string, fn func(n *memoryNode)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[address]; ok {
		fn(n)
	}
}

// visible returns the entries node can see at the current clock
func (s *MemoryReplicatedStore) visible(node *memoryNode) []model.Record {
	now := s.now()
	out := make([]model.Record, 0, len(s.log))
	for _, e := range s.log {
		if !e.applied.Add(node.lag).After(now) {
			out = append(out, e.record)
		}
	}
	return out
}

type memoryConnection struct {
	store   *MemoryReplicatedStore
	address string
	closed  bool
}

func (c *memoryConnection) node() (*memoryNode, error) {
	if c.closed {
		return nil, errors.New("connection closed")
	}
	return c.store.nodes[c.address], nil
}

func (c *memoryConnection) write(ctx context.Context, records []model.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := c.node()
	if err != nil {
		return err
	}
	if c.address != s.primary {
		return ErrNotWritablePrimary
	}
	if node.writeErr != nil {
		if node.writesBefore <= 0 {
			return node.writeErr
		}
		node.writesBefore--
	}
	applied := s.now()
	for _, r := range records {
		s.log = append(s.log, memoryEntry{record: r, applied: applied})
	}
	return nil
}

func (c *memoryConnection) InsertOne(ctx context.Context, record model.Record) error {
	return c.write(ctx, []model.Record{record})
}

func (c *memoryConnection) InsertMany(ctx context.Context, records []model.Record) error {
	return c.write(ctx, records)
}

func (c *memoryConnection) read(ctx context.Context) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := c.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, err := c.node()
	if err != nil {
		return nil, err
	}
	if node.readErr != nil {
		return nil, node.readErr
	}
	return s.visible(node), nil
}

func (c *memoryConnection) FindRecent(ctx context.Context, limit int) ([]model.Record, error) {
	records, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	model.SortNewestFirst(records)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (c *memoryConnection) FindByField(ctx context.Context, key, value string, limit int) ([]model.Record, error) {
	records, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	matches := make([]model.Record, 0)
	for _, r := range records {
		if v, ok := r.Field(key); ok && v == value {
			matches = append(matches, r)
			if limit > 0 && len(matches) >= limit {
				break
			}
		}
	}
	return matches, nil
}

func (c *memoryConnection) RoleQuery(ctx context.Context) (model.Role, error) {
	if err := ctx.Err(); err != nil {
		return model.RoleUnknown, err
	}
	s := c.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, err := c.node()
	if err != nil {
		return model.RoleUnknown, err
	}
	if node.roleErr != nil {
		return model.RoleUnknown, node.roleErr
	}
	if c.address == s.primary {
		return model.RolePrimary, nil
	}
	return model.RoleSecondary, nil
}

func (c *memoryConnection) ReplicaSetStatus(ctx context.Context) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := c.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := c.node(); err != nil {
		return nil, err
	}
	members := make([]interface{}, 0, len(s.order))
	for i, addr := range s.order {
		n := s.nodes[addr]
		state := string(model.RoleSecondary)
		if addr == s.primary {
			state = string(model.RolePrimary)
		}
		health := 1
		if n.down {
			health = 0
		}
		members = append(members, map[string]interface{}{
			"_id":       i,
			"name":      addr,
			"health":    health,
			"stateStr":  state,
			"lagMillis": n.lag.Milliseconds(),
			"applied":   len(s.visible(n)),
		})
	}
	return map[string]interface{}{
		"set":     s.setName,
		"date":    s.now().UTC(),
		"members": members,
		"ok":      1,
	}, nil
}

func (c *memoryConnection) Close(ctx context.Context) error {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	s.closes++
	return nil
}
