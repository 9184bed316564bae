package meshproto

const (
	// Protocol/transport validation.
	ErrBadRequest = "E_BAD_REQUEST"

	// Stream failures.
	ErrInvalidPartitionCount = "E_INVALID_PARTITION_COUNT"
	ErrBudgetTooSmall        = "E_BUDGET_TOO_SMALL"
	ErrSourceFailed          = "E_SOURCE_FAILED"
	ErrInternal              = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest:            {},
	ErrInvalidPartitionCount: {},
	ErrBudgetTooSmall:        {},
	ErrSourceFailed:          {},
	ErrInternal:              {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
