package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"commerce-core-go/internal/config"
)

// Client 支付网关的三个操作。HTTPClient实现不做任何保护，
// 熔断、重试与降级由ProtectedClient包装。
type Client interface {
	RequestPayment(ctx context.Context, req PaymentRequest) (TransactionResult, error)
	LookupByOrderID(ctx context.Context, orderID string) (OrderPaymentRecord, error)
	LookupByTransactionKey(ctx context.Context, transactionKey string) (TransactionDetail, error)
}

// HTTPClient 网关的HTTP实现
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// 确保HTTPClient实现了Client接口
var _ Client = (*HTTPClient)(nil)

// NewHTTPClient 创建网关HTTP客户端。超时独立于熔断器：
// 慢响应和连接失败一样计入失败统计。
func NewHTTPClient(cfg *config.GatewayConfig) (*HTTPClient, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("网关BaseURL配置不能为空")
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout: cfg.Timeout(),
		},
	}, nil
}

// RequestPayment 发起支付请求
func (c *HTTPClient) RequestPayment(ctx context.Context, req PaymentRequest) (TransactionResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return TransactionResult{}, fmt.Errorf("序列化支付请求失败: %w", err)
	}

	var result TransactionResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/payments", bytes.NewReader(body), &result); err != nil {
		return TransactionResult{}, err
	}
	if result.OrderID == "" {
		result.OrderID = req.OrderID
	}
	return result, nil
}

// LookupByOrderID 按订单号查询网关侧的全部交易
func (c *HTTPClient) LookupByOrderID(ctx context.Context, orderID string) (OrderPaymentRecord, error) {
	path := "/api/v1/payments?order_id=" + url.QueryEscape(orderID)

	var record OrderPaymentRecord
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &record); err != nil {
		return OrderPaymentRecord{}, err
	}
	if record.OrderID == "" {
		record.OrderID = orderID
	}
	return record, nil
}

// LookupByTransactionKey 按交易键查询单笔交易详情
func (c *HTTPClient) LookupByTransactionKey(ctx context.Context, transactionKey string) (TransactionDetail, error) {
	path := "/api/v1/payments/" + url.PathEscape(transactionKey)

	var detail TransactionDetail
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &detail); err != nil {
		return TransactionDetail{}, err
	}
	if detail.TransactionKey == "" {
		detail.TransactionKey = transactionKey
	}
	return detail, nil
}

// doJSON 执行一次HTTP调用并解析JSON响应
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("构造网关请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("调用网关失败 (%s %s): %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("读取网关响应失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("网关返回异常状态 %d (%s %s): %s", resp.StatusCode, method, path, truncate(data, 200))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("解析网关响应失败: %w", err)
	}
	return nil
}

// truncate 截断过长的响应体用于错误信息
func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
