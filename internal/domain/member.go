package domain

// Role 房间内的角色
type Role string

const (
	RoleTutor   Role = "tutor"
	RoleStudent Role = "student"
)

// Valid 只接受 tutor / student
func (r Role) Valid() bool {
	return r == RoleTutor || r == RoleStudent
}

// Member 房间成员
type Member struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	ConnID    string `json:"-"` // 当前持有该成员身份的连接
	IsBlocked bool   `json:"isBlocked"`
}

// IsTutor 是否为导师
func (m Member) IsTutor() bool { return m.Role == RoleTutor }

// CanMutate 被禁用的学生不能修改画布
func (m Member) CanMutate() bool {
	return m.IsTutor() || !m.IsBlocked
}
