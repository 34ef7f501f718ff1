package models

// UserContact is the subset of a user account that the payment core reads.
// Accounts are owned by the auth service; this table is never written here.
type UserContact struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}
