package service

import (
	"sort"

	"cluster-backend/internal/channel"
	"cluster-backend/internal/models"
)

// StagePlan 一个待下发阶段，Dispatcher 为每个阶段创建一个子任务
type StagePlan struct {
	Name      models.TaskName
	Method    string
	RespondTo string
	// NodeIDs 期望在该阶段回报的节点
	NodeIDs []int
	Args    map[string]any
}

// BuildGraph 为集群操作生成有序的阶段列表。
// 顺序即线上顺序，执行端不会跨阶段重排。
func BuildGraph(cluster *models.Cluster, nodes []*models.Node, op models.TaskName) ([]StagePlan, error) {
	switch op {
	case models.TaskNameDeploy:
		return buildDeploy(cluster, nodes)
	case models.TaskNameStopDeployment:
		return buildStop(cluster, nodes)
	case models.TaskNameResetEnvironment:
		return buildReset(cluster, nodes)
	default:
		return nil, invalidState("unsupported operation %q", op)
	}
}

func nodeIDs(nodes []*models.Node) []int {
	ids := make([]int, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	sort.Ints(ids)
	return ids
}

func nodeUIDs(nodes []*models.Node) []string {
	uids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		uids = append(uids, n.UID())
	}
	return uids
}

func buildDeploy(cluster *models.Cluster, nodes []*models.Node) ([]StagePlan, error) {
	switch cluster.Status {
	case models.ClusterStatusDeployment:
		return nil, invalidState("cluster %d is already being deployed", cluster.ID)
	case models.ClusterStatusRemoval:
		return nil, invalidState("cluster %d is being removed", cluster.ID)
	}

	var targets, provision []*models.Node
	for _, n := range nodes {
		if n.PendingDeletion {
			continue
		}
		targets = append(targets, n)
		if n.NeedsProvisioning() {
			provision = append(provision, n)
		}
	}
	if len(targets) == 0 {
		return nil, invalidState("cluster %d has no nodes to deploy", cluster.ID)
	}

	var stages []StagePlan
	if len(provision) > 0 {
		stages = append(stages, StagePlan{
			Name:      models.TaskNameProvision,
			Method:    channel.MethodProvision,
			RespondTo: channel.RespondToProvision,
			NodeIDs:   nodeIDs(provision),
			Args: map[string]any{
				"cluster_id": cluster.ID,
				"nodes":      nodeUIDs(provision),
			},
		})
	}

	deployNodes := make([]map[string]any, 0, len(targets))
	for _, n := range targets {
		deployNodes = append(deployNodes, map[string]any{
			"uid":   n.UID(),
			"name":  n.Name,
			"roles": n.AllRoles(),
		})
	}
	stages = append(stages, StagePlan{
		Name:      models.TaskNameDeployment,
		Method:    channel.MethodDeploy,
		RespondTo: channel.RespondToDeploy,
		NodeIDs:   nodeIDs(targets),
		Args: map[string]any{
			"cluster_id":   cluster.ID,
			"cluster_name": cluster.Name,
			"nodes":        deployNodes,
		},
	})
	return stages, nil
}

func buildStop(cluster *models.Cluster, nodes []*models.Node) ([]StagePlan, error) {
	if cluster.Status != models.ClusterStatusDeployment {
		return nil, invalidState("cluster %d is not being deployed (status %s)", cluster.ID, cluster.Status)
	}

	var targets []*models.Node
	for _, n := range nodes {
		if !n.PendingDeletion {
			targets = append(targets, n)
		}
	}
	return []StagePlan{{
		Name:      models.TaskNameStopDeployment,
		Method:    channel.MethodStopDeployTask,
		RespondTo: channel.RespondToStop,
		NodeIDs:   nodeIDs(targets),
		Args: map[string]any{
			"cluster_id": cluster.ID,
			"nodes":      nodeUIDs(targets),
		},
	}}, nil
}

// buildReset 固定三个阶段：环境级清理，删除装机产物，重置节点网络
func buildReset(cluster *models.Cluster, nodes []*models.Node) ([]StagePlan, error) {
	if !cluster.Deployed() {
		return nil, invalidState("cluster %d cannot be reset from status %s", cluster.ID, cluster.Status)
	}

	ids := nodeIDs(nodes)
	uids := nodeUIDs(nodes)
	return []StagePlan{
		{
			Name:      models.TaskNameResetEnvironment,
			Method:    channel.MethodResetEnvironment,
			RespondTo: channel.RespondToReset,
			// 环境级清理同样按节点回报结果，未出现在回报中的节点计为不可达
			NodeIDs: ids,
			Args: map[string]any{
				"cluster_id":   cluster.ID,
				"cluster_name": cluster.Name,
				"nodes":        uids,
			},
		},
		{
			Name:      models.TaskNameExecuteTasks,
			Method:    channel.MethodExecuteTasks,
			RespondTo: channel.RespondToReset,
			NodeIDs:   ids,
			Args: map[string]any{
				"tasks": []string{"remove_provisioning_artifacts"},
				"nodes": uids,
			},
		},
		{
			Name:      models.TaskNameExecuteTasks,
			Method:    channel.MethodExecuteTasks,
			RespondTo: channel.RespondToReset,
			NodeIDs:   ids,
			Args: map[string]any{
				"tasks": []string{"reset_node_network"},
				"nodes": uids,
			},
		},
	}, nil
}
