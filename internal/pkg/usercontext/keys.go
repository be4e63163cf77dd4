package usercontext

// Shared Locals keys used across controllers and middlewares
const (
	KeyUserContext = "USER_CONTEXT"
	KeyUser        = "user"
	KeyDecision    = "access_decision"
)
