package models

import (
	"strconv"
	"time"
)

type NodeStatus string

const (
	NodeStatusDiscover     NodeStatus = "discover"
	NodeStatusProvisioning NodeStatus = "provisioning"
	NodeStatusProvisioned  NodeStatus = "provisioned"
	NodeStatusDeploying    NodeStatus = "deploying"
	NodeStatusReady        NodeStatus = "ready"
	NodeStatusStopped      NodeStatus = "stopped"
	NodeStatusError        NodeStatus = "error"
	NodeStatusRemoving     NodeStatus = "removing"
)

type Node struct {
	ID              int        `gorm:"primaryKey" json:"id"`
	ClusterID       int        `gorm:"index;not null" json:"cluster_id"`
	Name            string     `json:"name"`
	Status          NodeStatus `gorm:"not null" json:"status"`
	PendingAddition bool       `json:"pending_addition"`
	PendingDeletion bool       `json:"pending_deletion"`
	Roles           []string   `gorm:"serializer:json" json:"roles"`
	PendingRoles    []string   `gorm:"serializer:json" json:"pending_roles"`
	Progress        int        `json:"progress"`
	ErrorType       string     `json:"error_type,omitempty"`
	Version         int        `gorm:"not null;default:1" json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// UID 执行端消息中使用的节点标识
func (n *Node) UID() string {
	return strconv.Itoa(n.ID)
}

// ParseUID 将执行端返回的 uid 转换为节点 ID
func ParseUID(uid string) (int, error) {
	return strconv.Atoi(uid)
}

// NeedsProvisioning 节点在部署前是否需要先装机
func (n *Node) NeedsProvisioning() bool {
	switch n.Status {
	case NodeStatusDiscover, NodeStatusProvisioning:
		return true
	case NodeStatusError:
		return n.ErrorType == ErrorTypeProvision
	}
	return false
}

// AllRoles 返回已分配角色与待分配角色的并集，已分配角色在前
func (n *Node) AllRoles() []string {
	out := make([]string, 0, len(n.Roles)+len(n.PendingRoles))
	seen := make(map[string]struct{}, cap(out))
	for _, list := range [][]string{n.Roles, n.PendingRoles} {
		for _, r := range list {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

const (
	ErrorTypeProvision = "provision"
	ErrorTypeDeploy    = "deploy"
	ErrorTypeStop      = "stop_deployment"
)

func (n *Node) Clone() *Node {
	cp := *n
	cp.Roles = append([]string(nil), n.Roles...)
	cp.PendingRoles = append([]string(nil), n.PendingRoles...)
	return &cp
}
