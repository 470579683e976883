package zkgroup

import (
	"net"
	"time"
)

// GroupMember is an immutable snapshot of one registered member node.
// Snapshots are never mutated in place; every refresh replaces the whole
// list.
type GroupMember struct {
	// Name is the child node name, e.g. "n_0000000003".
	Name string
	// Path is the full store path of the member node.
	Path string
	// Data is the raw stored payload.
	Data []byte
	// Created and Modified come from the node's stat metadata.
	Created  time.Time
	Modified time.Time
	// Key is the decoded member identity.
	Key MemberKey
}

// ResolvedTarget is the host-facing shape of a member returned by Lookup.
type ResolvedTarget struct {
	Host    string
	Address net.IP
	Port    int
}

func targetsOf(members []GroupMember) []ResolvedTarget {
	if len(members) == 0 {
		return nil
	}
	out := make([]ResolvedTarget, 0, len(members))
	for _, m := range members {
		out = append(out, ResolvedTarget{
			Host:    m.Key.Host,
			Address: m.Key.Address,
			Port:    m.Key.Port,
		})
	}
	return out
}
