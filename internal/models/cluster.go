package models

import "time"

type ClusterStatus string

const (
	ClusterStatusNew         ClusterStatus = "new"
	ClusterStatusDeployment  ClusterStatus = "deployment"
	ClusterStatusStopped     ClusterStatus = "stopped"
	ClusterStatusOperational ClusterStatus = "operational"
	ClusterStatusError       ClusterStatus = "error"
	ClusterStatusRemoval     ClusterStatus = "removal"
)

// FlagAttribute 生成属性中的布尔开关
type FlagAttribute struct {
	Value bool `json:"value"`
}

// GeneratedAttributes 由控制面维护的集群属性
type GeneratedAttributes struct {
	DeployedBefore FlagAttribute `json:"deployed_before"`
}

type ClusterAttributes struct {
	Generated GeneratedAttributes `json:"generated"`
}

type Cluster struct {
	ID         int               `gorm:"primaryKey" json:"id"`
	Name       string            `gorm:"not null" json:"name"`
	Status     ClusterStatus     `gorm:"index;not null" json:"status"`
	Attributes ClusterAttributes `gorm:"serializer:json" json:"attributes"`
	Version    int               `gorm:"not null;default:1" json:"-"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Deployed 集群是否至少完成过一次部署（无论结果）
func (c *Cluster) Deployed() bool {
	switch c.Status {
	case ClusterStatusOperational, ClusterStatusError, ClusterStatusStopped:
		return true
	}
	return false
}

func (c *Cluster) Clone() *Cluster {
	cp := *c
	return &cp
}
