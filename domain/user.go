package domain

// User is a directory entry for an identity that can hold, create, and be
// assigned tasks.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}
