package model

// TradeQuota 每个钱包的交易额度。不变式 Used + Remaining == Total，
// 只允许通过存储层的原子条件更新维护，应用层禁止读-改-写。
type TradeQuota struct {
	UserWallet string `json:"user_wallet"`
	Total      int64  `json:"total"`
	Used       int64  `json:"used"`
	Remaining  int64  `json:"remaining"`
}
