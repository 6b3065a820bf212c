package storage

import (
	"fmt"

	"commerce-core-go/internal/storage/models"

	"gorm.io/gorm"
)

// AdjustProductLikeCount 在调用方事务中调整商品点赞计数。
// delta可为负（取消点赞），计数由GREATEST钳制不会降到0以下。
func (m *MySQL) AdjustProductLikeCount(tx *gorm.DB, productID string, delta int64) error {
	err := tx.Model(&models.Product{}).
		Where("id = ?", productID).
		Update("like_count", gorm.Expr("GREATEST(like_count + ?, 0)", delta)).Error
	if err != nil {
		return fmt.Errorf("更新商品点赞计数失败: %w", err)
	}
	return nil
}

// IncrementProductSalesCount 在调用方事务中累加商品销量计数
func (m *MySQL) IncrementProductSalesCount(tx *gorm.DB, productID string, quantity int64) error {
	if quantity <= 0 {
		return nil
	}
	err := tx.Model(&models.Product{}).
		Where("id = ?", productID).
		Update("sales_count", gorm.Expr("sales_count + ?", quantity)).Error
	if err != nil {
		return fmt.Errorf("更新商品销量计数失败: %w", err)
	}
	return nil
}

// IncrementProductViewCount 在调用方事务中累加商品浏览计数
func (m *MySQL) IncrementProductViewCount(tx *gorm.DB, productID string) error {
	err := tx.Model(&models.Product{}).
		Where("id = ?", productID).
		Update("view_count", gorm.Expr("view_count + 1")).Error
	if err != nil {
		return fmt.Errorf("更新商品浏览计数失败: %w", err)
	}
	return nil
}
