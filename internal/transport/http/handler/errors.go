package handler

const (
	errInternalServer   = "Internal server error"
	errTokenInvalid     = "Token is invalid or expired"
	errTaskNotFound     = "Task not found"
	errInvalidCron      = "Cron expression is invalid"
	errTaskCreateFailed = "Failed to create task"
	errTaskDeleteFailed = "Failed to delete task"
)
