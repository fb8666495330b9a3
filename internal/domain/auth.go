package domain

// AuthStatus is the outcome reported by every authentication operation.
// A low matcher score (failure) and an unreachable matcher or store (error)
// are distinct outcomes and must never be conflated.
type AuthStatus string

const (
	AuthSuccess      AuthStatus = "success"
	AuthUserNotFound AuthStatus = "userNotFound"
	AuthFailure      AuthStatus = "failure"
	AuthError        AuthStatus = "error"
)
