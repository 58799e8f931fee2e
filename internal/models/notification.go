package models

import "time"

type NotificationTopic string

const (
	NotificationTopicDiscover NotificationTopic = "discover"
	NotificationTopicDone     NotificationTopic = "done"
	NotificationTopicWarning  NotificationTopic = "warning"
	NotificationTopicError    NotificationTopic = "error"
)

// Notification 只追加、不修改
type Notification struct {
	ID        int               `gorm:"primaryKey" json:"id"`
	ClusterID int               `gorm:"index" json:"cluster_id,omitempty"`
	Topic     NotificationTopic `gorm:"index;not null" json:"topic"`
	Message   string            `gorm:"not null" json:"message"`
	CreatedAt time.Time         `json:"created_at"`
}

// PluginLink 集群上由插件注册的外部链接
type PluginLink struct {
	ID          int       `gorm:"primaryKey" json:"id"`
	ClusterID   int       `gorm:"index;not null" json:"cluster_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
