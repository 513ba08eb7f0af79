package model

import "time"

// RepliedAccount 作者冷却记录：最后一次回复该作者的时间
type RepliedAccount struct {
	Handle      string    `json:"handle" gorm:"primaryKey;type:varchar(64)"`
	LastReplied time.Time `json:"last_replied" gorm:"index;not null"`
}

func (RepliedAccount) TableName() string { return "replied_accounts" }
