package manager

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/purser-io/purser/pkg/log"
	"github.com/purser-io/purser/pkg/storage"
)

const applyTimeout = 5 * time.Second

// Manager owns the replicated document store of one purser node. Writes
// go through the raft log so every node applies the same document
// mutations in the same order; reads go straight to the local store.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft  *raft.Raft
	fsm   *FSM
	store storage.Store
}

// Config holds the settings for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// New creates a manager node over a fresh bolt store under DataDir
func New(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}

	return &Manager{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      NewFSM(store),
		store:    store,
	}, nil
}

// Store returns the local document store
func (m *Manager) Store() storage.Store {
	return m.store
}

// Bootstrap initializes a single-node raft cluster
func (m *Manager) Bootstrap() error {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return fmt.Errorf("resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("create snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("create raft: %w", err)
	}
	m.raft = r

	future := m.raft.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{
			{ID: config.LocalID, Address: transport.LocalAddr()},
		},
	})
	if err := future.Error(); err != nil {
		return fmt.Errorf("bootstrap cluster: %w", err)
	}

	log.WithComponent("manager").Info().
		Str("nodeID", m.nodeID).
		Str("bindAddr", m.bindAddr).
		Msg("Bootstrapped single-node cluster")
	return nil
}

// AddVoter adds a new node to the raft cluster. Only the leader accepts
// this call.
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", m.LeaderAddr())
	}
	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("add voter: %w", err)
	}
	log.WithComponent("manager").Info().
		Str("nodeID", nodeID).
		Str("address", address).
		Msg("Added voter to cluster")
	return nil
}

// RemoveServer removes a node from the raft cluster
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("not the leader")
	}
	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("remove server: %w", err)
	}
	return nil
}

// IsLeader reports whether this node is the raft leader
func (m *Manager) IsLeader() bool {
	return m.raft != nil && m.raft.State() == raft.Leader
}

// LeaderAddr returns the current raft leader's address
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// Stats returns raft statistics for diagnostics
func (m *Manager) Stats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}
	return map[string]interface{}{
		"state":          m.raft.State().String(),
		"last_log_index": m.raft.LastIndex(),
		"applied_index":  m.raft.AppliedIndex(),
		"leader":         string(m.raft.Leader()),
	}
}

// Apply replicates a command through the raft log and waits for it to
// commit. Errors returned by the FSM, conflict errors included, surface
// through the future's response.
func (m *Manager) Apply(cmd Command) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	future := m.raft.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("apply command: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok {
			return err
		}
	}
	return nil
}

// Shutdown stops raft and closes the store
func (m *Manager) Shutdown() error {
	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return err
		}
	}
	return m.store.Close()
}
