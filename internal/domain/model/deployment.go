package model

// DeploymentStatus 部署状态
type DeploymentStatus string

const (
	DeploymentActive  DeploymentStatus = "ACTIVE"
	DeploymentPaused  DeploymentStatus = "PAUSED"
	DeploymentStopped DeploymentStatus = "STOPPED"
)

// Deployment 用户钱包与策略 agent 的绑定。对本引擎只读。
type Deployment struct {
	ID         string           `json:"id"`
	AgentID    string           `json:"agent_id"`
	UserWallet string           `json:"user_wallet"`
	Status     DeploymentStatus `json:"status"`
}
