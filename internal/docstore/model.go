package docstore

import "time"

// Document 原始文档全文。字符偏移按 rune 计算，指向 Text。
type Document struct {
	ID        string    `gorm:"primaryKey;type:varchar(191)" json:"id"`
	Title     string    `gorm:"type:varchar(512);not null;default:''" json:"title"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 与 internal/migration 中的 documents 表一致
func (Document) TableName() string {
	return "documents"
}
