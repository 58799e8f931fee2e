package models

type SystemStatus struct {
	TotalClusters int `json:"clusters"`
	TotalNodes    int `json:"nodes"`
	ActiveTasks   int `json:"tasks_active"`
	Notifications int `json:"notifications"`
}

// TaskView 调用方轮询的任务视图
type TaskView struct {
	ID        string      `json:"uuid"`
	Name      TaskName    `json:"name"`
	ClusterID int         `json:"cluster_id"`
	Status    TaskStatus  `json:"status"`
	Progress  int         `json:"progress"`
	Message   string      `json:"message,omitempty"`
	Subtasks  []*TaskView `json:"subtasks,omitempty"`
}
