package models

import (
	"time"

	"gorm.io/gorm"
)

// Post is a text entry published by an author, optionally attached to a group
// and carrying an uploaded image. Published is set once at creation and never
// changes on edit.
type Post struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	Published time.Time `gorm:"index;not null" json:"published"`
	AuthorID  uint      `gorm:"index;not null" json:"author_id"`
	GroupID   *uint     `gorm:"index" json:"group_id"`
	Image     string    `gorm:"size:512" json:"image"`
	Author    User      `gorm:"foreignKey:AuthorID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"author"`
	Group     *Group    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"group,omitempty"`
	Comments  []Comment `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
}

// BeforeCreate stamps the publication time when the caller did not.
func (p *Post) BeforeCreate(tx *gorm.DB) error {
	if p.Published.IsZero() {
		p.Published = time.Now()
	}
	return nil
}
