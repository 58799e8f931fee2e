package channel

import (
	"encoding/json"
	"fmt"

	"cluster-backend/internal/models"
)

// 执行端回报时携带的 respond_to 标签，决定控制面使用哪条对账规则
const (
	RespondToProvision = "provision_resp"
	RespondToDeploy    = "deploy_resp"
	RespondToStop      = "stop_deployment_resp"
	RespondToReset     = "reset_environment_resp"
)

// 下发给执行端的阶段方法名
const (
	MethodProvision        = "provision"
	MethodDeploy           = "deploy"
	MethodStopDeployTask   = "stop_deploy_task"
	MethodResetEnvironment = "reset_environment"
	MethodExecuteTasks     = "execute_tasks"
)

// Stage 一个有序的下发单元
type Stage struct {
	Method    string         `json:"method"`
	NodeUID   string         `json:"node_uid,omitempty"`
	TaskUUID  string         `json:"task_uuid"`
	RespondTo string         `json:"respond_to"`
	Args      map[string]any `json:"args,omitempty"`
}

// Batch 一次 Submit 产生的全部阶段，按顺序发送
type Batch struct {
	ClusterID     int     `json:"cluster_id"`
	SupertaskUUID string  `json:"supertask_uuid"`
	Stages        []Stage `json:"stages"`
}

// NodeOutcome 单个节点在某个阶段的结果
type NodeOutcome struct {
	UID      string `json:"uid"`
	Progress *int   `json:"progress,omitempty"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Failed 节点是否报告了失败
func (n NodeOutcome) Failed() bool {
	return n.Status == string(models.NodeStatusError) || n.Error != ""
}

// Report 所有回报共有的字段
type Report struct {
	TaskUUID string            `json:"task_uuid"`
	Status   models.TaskStatus `json:"status"`
	Progress int               `json:"progress"`
	Nodes    []NodeOutcome     `json:"nodes,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Envelope 线上格式，respond_to 是联合类型的标签
type Envelope struct {
	RespondTo string `json:"respond_to"`
	Report
}

// Result 执行端回报的联合类型，只能是下面四种之一
type Result interface {
	RespondTo() string
	Common() *Report
}

type ProvisionResult struct{ Report }
type DeployResult struct{ Report }
type StopResult struct{ Report }
type ResetResult struct{ Report }

func (r *ProvisionResult) RespondTo() string { return RespondToProvision }
func (r *DeployResult) RespondTo() string    { return RespondToDeploy }
func (r *StopResult) RespondTo() string      { return RespondToStop }
func (r *ResetResult) RespondTo() string     { return RespondToReset }

func (r *ProvisionResult) Common() *Report { return &r.Report }
func (r *DeployResult) Common() *Report    { return &r.Report }
func (r *StopResult) Common() *Report      { return &r.Report }
func (r *ResetResult) Common() *Report     { return &r.Report }

// Decode 按 respond_to 标签还原具体的结果类型
func Decode(env Envelope) (Result, error) {
	if env.TaskUUID == "" {
		return nil, fmt.Errorf("envelope without task_uuid")
	}
	if !env.Status.Valid() {
		return nil, fmt.Errorf("task %s: invalid status %q", env.TaskUUID, env.Status)
	}
	switch env.RespondTo {
	case RespondToProvision:
		return &ProvisionResult{env.Report}, nil
	case RespondToDeploy:
		return &DeployResult{env.Report}, nil
	case RespondToStop:
		return &StopResult{env.Report}, nil
	case RespondToReset:
		return &ResetResult{env.Report}, nil
	default:
		return nil, fmt.Errorf("task %s: unknown respond_to %q", env.TaskUUID, env.RespondTo)
	}
}

// Encode 把结果包装成线上信封
func Encode(r Result) Envelope {
	return Envelope{RespondTo: r.RespondTo(), Report: *r.Common()}
}

// UnmarshalEnvelope 解析 JSON 并校验标签
func UnmarshalEnvelope(data []byte) (Envelope, Result, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("decoding envelope: %w", err)
	}
	res, err := Decode(env)
	if err != nil {
		return env, nil, err
	}
	return env, res, nil
}

// IntPtr 构造可选进度
func IntPtr(v int) *int {
	return &v
}
