package model

import (
	"time"
)

// Record is one document of the MySQL backed record store.
// Parent and Key split Path at its last slash so a collection scan is a
// single indexed query on parent.
type Record struct {
	Path      string    `gorm:"type:varchar(512);primaryKey" json:"path"`
	Parent    string    `gorm:"type:varchar(512);index;not null" json:"parent"`
	Key       string    `gorm:"column:record_key;type:varchar(128);not null" json:"key"`
	Value     string    `gorm:"type:longtext;not null" json:"value"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Record) TableName() string {
	return "records"
}
