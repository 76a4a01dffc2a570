package zigbee

import (
	"fmt"
	"slices"
	"time"

	memdb "github.com/hashicorp/go-memdb"
)

// NodeStatus is the discovery status of a node.
type NodeStatus string

// Node discovery statuses.
const (
	// NodeStatusPending: seen, no endpoint with clusters resolved yet.
	NodeStatusPending NodeStatus = "pending"

	// NodeStatusEndpointsFound: an endpoint with clusters resolved, no device bound.
	NodeStatusEndpointsFound NodeStatus = "endpoints-found"

	// NodeStatusBound: at least one device adapter was produced.
	NodeStatusBound NodeStatus = "bound"

	// NodeStatusFailed: the last enumeration request failed; retry stays armed.
	NodeStatusFailed NodeStatus = "failed"
)

// Node is a mesh node tracked by discovery.
//
// Nodes stored in the table are immutable: updates insert a modified copy.
type Node struct {
	// ID is the IEEE address in canonical form; the primary key.
	ID string

	IEEEAddress    IEEEAddress
	NetworkAddress NetworkAddress
	Status         NodeStatus

	// Endpoints holds the endpoint ids resolved so far, in arrival order.
	Endpoints []uint8

	// Attempts counts enumeration requests sent.
	Attempts int

	FirstSeen time.Time
	LastSeen  time.Time
}

// HasEndpoint reports whether ep has been resolved.
func (n *Node) HasEndpoint(ep uint8) bool {
	return slices.Contains(n.Endpoints, ep)
}

func (n *Node) clone() *Node {
	c := *n
	c.Endpoints = slices.Clone(n.Endpoints)
	return &c
}

const nodesTable = "nodes"

// Index names of the nodes table.
const (
	nodeIDIndex     = "id"
	nodeNWKIndex    = "nwk"
	nodeStatusIndex = "status"
)

func nodeTableSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			nodesTable: {
				Name: nodesTable,
				Indexes: map[string]*memdb.IndexSchema{
					nodeIDIndex: {
						Name:    nodeIDIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					nodeNWKIndex: {
						Name:    nodeNWKIndex,
						Indexer: &memdb.UintFieldIndex{Field: "NetworkAddress"},
					},
					nodeStatusIndex: {
						Name:    nodeStatusIndex,
						Indexer: &memdb.StringFieldIndex{Field: "Status"},
					},
				},
			},
		},
	}
}

// nodeTable is the discovery state store.
//
// Write transactions are serialised by memdb, which makes insert-if-absent
// atomic across concurrent announcements and retries for the same node.
type nodeTable struct {
	db *memdb.MemDB
}

func newNodeTable() (*nodeTable, error) {
	db, err := memdb.NewMemDB(nodeTableSchema())
	if err != nil {
		return nil, fmt.Errorf("creating node table: %w", err)
	}
	return &nodeTable{db: db}, nil
}

// observe records a node announcement.
//
// A new node is inserted as pending. A known node gets its short address
// and LastSeen refreshed. Any other node still indexed under the same short
// address keeps its record; lookups by short address prefer the most
// recently seen node.
//
// Returns:
//   - *Node: The stored node after the update
//   - bool: true if the node was inserted
func (t *nodeTable) observe(ann NodeAnnouncement, now time.Time) (*Node, bool, error) {
	txn := t.db.Txn(true)
	defer txn.Abort()

	id := ann.IEEEAddress.String()
	raw, err := txn.First(nodesTable, nodeIDIndex, id)
	if err != nil {
		return nil, false, fmt.Errorf("looking up node %s: %w", id, err)
	}

	var node *Node
	inserted := raw == nil
	if inserted {
		node = &Node{
			ID:             id,
			IEEEAddress:    ann.IEEEAddress,
			NetworkAddress: ann.NetworkAddress,
			Status:         NodeStatusPending,
			FirstSeen:      now,
			LastSeen:       now,
		}
	} else {
		node = raw.(*Node).clone()
		node.NetworkAddress = ann.NetworkAddress
		node.LastSeen = now
	}

	if err := txn.Insert(nodesTable, node); err != nil {
		return nil, false, fmt.Errorf("storing node %s: %w", id, err)
	}
	txn.Commit()
	return node, inserted, nil
}

// update applies fn to a copy of the node and stores it.
// fn returning false leaves the table unchanged.
func (t *nodeTable) update(ieee IEEEAddress, fn func(n *Node) bool) (*Node, error) {
	txn := t.db.Txn(true)
	defer txn.Abort()

	id := ieee.String()
	raw, err := txn.First(nodesTable, nodeIDIndex, id)
	if err != nil {
		return nil, fmt.Errorf("looking up node %s: %w", id, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: node %s", ErrDeviceNotFound, id)
	}

	node := raw.(*Node).clone()
	if !fn(node) {
		return raw.(*Node), nil
	}
	if err := txn.Insert(nodesTable, node); err != nil {
		return nil, fmt.Errorf("storing node %s: %w", id, err)
	}
	txn.Commit()
	return node, nil
}

// get returns a node by IEEE address.
func (t *nodeTable) get(ieee IEEEAddress) (*Node, bool) {
	raw, err := t.db.Txn(false).First(nodesTable, nodeIDIndex, ieee.String())
	if err != nil || raw == nil {
		return nil, false
	}
	return raw.(*Node), true
}

// byNetworkAddress returns the most recently seen node using a short address.
func (t *nodeTable) byNetworkAddress(nwk NetworkAddress) (*Node, bool) {
	it, err := t.db.Txn(false).Get(nodesTable, nodeNWKIndex, uint16(nwk))
	if err != nil {
		return nil, false
	}

	var best *Node
	for raw := it.Next(); raw != nil; raw = it.Next() {
		n := raw.(*Node)
		if best == nil || n.LastSeen.After(best.LastSeen) {
			best = n
		}
	}
	return best, best != nil
}

// NetworkAddressOf implements AddressBook.
func (t *nodeTable) NetworkAddressOf(ieee IEEEAddress) (NetworkAddress, bool) {
	n, ok := t.get(ieee)
	if !ok {
		return 0, false
	}
	return n.NetworkAddress, true
}

// list returns all nodes, optionally filtered by status, ordered by ID.
func (t *nodeTable) list(status NodeStatus) ([]*Node, error) {
	txn := t.db.Txn(false)

	var (
		it  memdb.ResultIterator
		err error
	)
	if status == "" {
		it, err = txn.Get(nodesTable, nodeIDIndex)
	} else {
		it, err = txn.Get(nodesTable, nodeStatusIndex, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}

	var nodes []*Node
	for raw := it.Next(); raw != nil; raw = it.Next() {
		nodes = append(nodes, raw.(*Node))
	}
	slices.SortFunc(nodes, func(a, b *Node) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return nodes, nil
}
