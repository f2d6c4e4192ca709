package model

type UserRole string

const (
	Student UserRole = "student"
	Teacher UserRole = "teacher"
	Admin   UserRole = "admin"
)

// swagger:model User
type User struct {
	BaseModel
	Name  string   `gorm:"size:100;not null" json:"name"`
	Email string   `gorm:"size:100;uniqueIndex;not null" json:"email"`
	Role  UserRole `gorm:"size:20;default:'student'" json:"role"`
	XP    int      `gorm:"default:0" json:"xp"`    // 总经验
	Level int      `gorm:"default:0" json:"level"` // 由 XP 推导的等级
	Rank  int      `gorm:"default:0" json:"rank"`  // 段位序号，越大越高
	GPA   float64  `gorm:"default:0" json:"gpa"`   // 滚动 GPA，每次成绩变更后重算
}

func (User) TableName() string {
	return "users"
}
