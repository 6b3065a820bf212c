package gateway // 外部支付网关的熔断与重试保护客户端

import "time"

// TransactionStatus 网关侧的交易状态
type TransactionStatus string

const (
	// StatusPending 网关仍在处理
	StatusPending TransactionStatus = "PENDING"
	// StatusSuccess 支付成功
	StatusSuccess TransactionStatus = "SUCCESS"
	// StatusFailed 网关明确拒绝
	StatusFailed TransactionStatus = "FAILED"
	// StatusUnavailable 合成状态：网关不可达（熔断打开或重试耗尽）。
	// 与StatusFailed严格区分——"网关说不行"和"联系不上网关"
	// 对订单状态机是完全不同的输入。
	StatusUnavailable TransactionStatus = "UNAVAILABLE"
)

// PaymentRequest 发起支付的请求
type PaymentRequest struct {
	OrderID     string `json:"order_id"`
	CardType    string `json:"card_type"`
	CardNo      string `json:"card_no"`
	Amount      int64  `json:"amount"` // 单位: 分
	CallbackURL string `json:"callback_url"`
}

// TransactionResult 发起支付的结果。TransactionKey为空表示网关
// 未签发交易键（失败或不可达）。
type TransactionResult struct {
	OrderID        string            `json:"order_id"`
	TransactionKey string            `json:"transaction_key,omitempty"`
	Status         TransactionStatus `json:"status"`
	Reason         string            `json:"reason,omitempty"`
}

// TransactionDetail 单笔交易的详情
type TransactionDetail struct {
	TransactionKey string            `json:"transaction_key"`
	OrderID        string            `json:"order_id"`
	CardType       string            `json:"card_type,omitempty"`
	Amount         int64             `json:"amount,omitempty"`
	Status         TransactionStatus `json:"status"`
	Reason         string            `json:"reason,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at,omitempty"`
}

// OrderPaymentRecord 网关侧按订单查询的结果。Fallback为true表示
// 查询本身失败（降级），与"网关确实没有该订单的记录"不同：
// 后者Transactions为空且Fallback为false。
type OrderPaymentRecord struct {
	OrderID      string              `json:"order_id"`
	Transactions []TransactionDetail `json:"transactions"`
	Fallback     bool                `json:"-"`
}

// Latest 返回最近更新的一笔交易，记录为空时返回nil
func (r *OrderPaymentRecord) Latest() *TransactionDetail {
	if len(r.Transactions) == 0 {
		return nil
	}
	latest := &r.Transactions[0]
	for i := 1; i < len(r.Transactions); i++ {
		if r.Transactions[i].UpdatedAt.After(latest.UpdatedAt) {
			latest = &r.Transactions[i]
		}
	}
	return latest
}
