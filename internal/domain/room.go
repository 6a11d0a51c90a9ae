package domain

import "time"

// Room 是持久化的房间记录。房间的实时状态不在这里，而在内存中的 RoomStore。
type Room struct {
	ID                string    `gorm:"primaryKey;size:32"`         // 7 位 base36 房间号
	Name              string    `gorm:"size:191;not null"`          // 房间名称
	CreatedBy         string    `gorm:"size:191;index;not null"`    // 创建者的用户 ID
	TutorPasscodeHash string    `gorm:"type:varchar(100)" json:"-"` // 以导师身份入场的口令 (bcrypt)，为空表示不设口令
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	LastActive        time.Time `gorm:"index"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

// RequiresPasscode 是否设置了导师口令
func (r *Room) RequiresPasscode() bool {
	return r.TutorPasscodeHash != ""
}
