package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"commerce-core-go/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DeadLetterArchive 死信报文归档接口。被隔离的消息体以对象形式
// 保留，供人工检查与回放。
type DeadLetterArchive interface {
	// ArchiveDeadLetter 归档一条死信报文，返回对象路径
	ArchiveDeadLetter(ctx context.Context, topic, eventID string, body []byte) (string, error)

	// FetchDeadLetter 读取已归档的死信报文
	FetchDeadLetter(ctx context.Context, objectName string) ([]byte, error)
}

// 确保MinIO实现了DeadLetterArchive接口
var _ DeadLetterArchive = (*MinIO)(nil)

// MinIO 提供对象存储功能
type MinIO struct {
	client *minio.Client
	bucket string
	logger *log.Logger
}

// NewMinIO 创建MinIO客户端并确保归档桶存在
func NewMinIO(cfg *config.MinIOConfig, logger *log.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("MinIO Endpoint配置不能为空")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client: client,
		bucket: cfg.DeadLetterBucket,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}

	logger.Printf("成功连接到MinIO服务器: %s", cfg.Endpoint)
	return m, nil
}

// ensureBucket 确保归档桶存在
func (m *MinIO) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("检查桶是否存在失败 (%s): %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("创建桶失败 (%s): %w", m.bucket, err)
	}
	m.logger.Printf("已创建死信归档桶: %s", m.bucket)
	return nil
}

// ArchiveDeadLetter 归档一条死信报文。
// 对象路径格式: <topic>/<yyyy-MM-dd>/<eventID>.json
func (m *MinIO) ArchiveDeadLetter(ctx context.Context, topic, eventID string, body []byte) (string, error) {
	objectName := fmt.Sprintf("%s/%s/%s.json", topic, time.Now().Format("2006-01-02"), eventID)

	_, err := m.client.PutObject(ctx, m.bucket, objectName,
		bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("归档死信报文失败 (%s): %w", objectName, err)
	}
	return objectName, nil
}

// FetchDeadLetter 读取已归档的死信报文
func (m *MinIO) FetchDeadLetter(ctx context.Context, objectName string) ([]byte, error) {
	object, err := m.client.GetObject(ctx, m.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取死信报文失败 (%s): %w", objectName, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("读取死信报文内容失败 (%s): %w", objectName, err)
	}
	return data, nil
}
