package models

import "time"

// DocumentModel is the persistence model for a stored document
type DocumentModel struct {
	Path      string    `gorm:"type:varchar(512);primaryKey"`
	Parent    string    `gorm:"type:varchar(512);not null;index:idx_documents_parent"`
	DocID     string    `gorm:"column:doc_id;type:varchar(255);not null"`
	Data      string    `gorm:"type:text;not null"`
	Version   int64     `gorm:"not null;default:1"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DocumentModel) TableName() string {
	return "documents"
}
