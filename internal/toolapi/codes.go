package toolapi

// Code is the numbered error taxonomy: general (1xxx), skill (2xxx),
// security (3xxx), conflict/budget (4xxx), sync (5xxx), learning (6xxx).
type Code int

const (
	CodeInvalidInput Code = 1000
	CodeInternal     Code = 1001
	CodeRateLimited  Code = 1002
	CodeUnauthorized Code = 1003

	CodeSkillNotFound         Code = 2001
	CodeSkillAlreadyInstalled Code = 2002
	CodeSkillNotInstalled     Code = 2003

	CodeBlocklisted        Code = 3001
	CodeSecurityScanFailed Code = 3002

	CodeConflictBlocking Code = 4001
	CodeBudgetExceeded   Code = 4002
	CodePriorityLocked   Code = 4003

	CodeSyncAlreadyRunning Code = 5001
	CodeConfirmRequired    Code = 5002
	CodeInvalidFrequency   Code = 5003
	CodeSourceNotFound     Code = 5004

	CodeInsufficientData Code = 6001
)
