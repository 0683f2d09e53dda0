package principal

// Role is the coarse authorization level embedded in issued credentials.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole normalizes a role string, defaulting to RoleUser.
func ParseRole(s string) Role {
	if s == string(RoleAdmin) {
		return RoleAdmin
	}
	return RoleUser
}

// User is an authenticated principal. Role and IsActive are embedded in
// issued credentials at issuance time and are not re-read from the
// store on every request.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Role         Role   `json:"role"`
	IsActive     bool   `json:"is_active"`
	PasswordHash []byte `json:"-"`
}
