package domain

// Member represents a user's participation meta inside a voice channel.
// No transport or lifecycle logic here.
type Member struct {
	User *User
	Mute bool
	Deaf bool
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user *User) *Member {
	return &Member{User: user}
}
