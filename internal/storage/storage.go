package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"commerce-core-go/internal/config"
)

// Storage 存储管理器，聚合所有存储相关依赖
type Storage struct {
	// 关系型数据库
	MySQL *MySQL

	// 消息队列
	RabbitMQ *RabbitMQ

	// 键值存储
	Redis *Redis

	// 对象存储（死信归档，可选）
	MinIO *MinIO
}

// NewStorage 创建存储管理器
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	storage := &Storage{}
	var err error
	var initErrors []string

	// 初始化MySQL
	storage.MySQL, err = NewMySQL(&cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("初始化MySQL失败: %w", err)
	}

	// 初始化RabbitMQ
	storage.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("初始化RabbitMQ失败: %w", err)
	}

	// 初始化Redis
	storage.Redis, err = NewRedis(&cfg.Redis)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("初始化Redis失败: %w", err)
	}

	// 初始化MinIO（可选：未配置时死信归档被禁用）
	if cfg.MinIO.Endpoint != "" {
		var minioLogger *log.Logger
		if cfg.Logger.Level == "debug" {
			minioLogger = log.New(os.Stderr, "[MinIOStorage] ", log.LstdFlags|log.Lshortfile)
		} else {
			minioLogger = log.New(io.Discard, "", 0)
		}

		storage.MinIO, err = NewMinIO(&cfg.MinIO, minioLogger)
		if err != nil {
			// MinIO只用于死信归档，初始化失败降级而非中断启动
			log.Printf("警告: 初始化MinIO失败: %v", err)
			initErrors = append(initErrors, fmt.Sprintf("MinIO: %v", err))
		}
	}

	if len(initErrors) > 0 {
		log.Printf("部分可选存储初始化失败: %s", strings.Join(initErrors, "; "))
	}

	return storage, nil
}

// Close 关闭所有存储连接
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			log.Printf("关闭RabbitMQ连接失败: %v", err)
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Printf("关闭Redis连接失败: %v", err)
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			log.Printf("关闭MySQL连接失败: %v", err)
		}
	}
}
