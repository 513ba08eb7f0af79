package model

import "time"

// Tweet 已发现的推文，写入后不再修改；主键即站点上的状态 ID
type Tweet struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(32)"`
	URL          string    `json:"url" gorm:"type:varchar(512);not null"`
	Author       string    `json:"author" gorm:"type:varchar(128)"`
	AuthorHandle string    `json:"author_handle" gorm:"type:varchar(64);index:idx_tweet_handle"`
	Text         string    `json:"text" gorm:"type:text;not null"`
	ImageURL     string    `json:"image_url,omitempty" gorm:"type:varchar(1024)"`
	Likes        int       `json:"likes" gorm:"not null;default:0"`
	Retweets     int       `json:"retweets" gorm:"not null;default:0"`
	DiscoveredAt time.Time `json:"discovered_at" gorm:"index;not null"`
}

func (Tweet) TableName() string { return "tweets" }
