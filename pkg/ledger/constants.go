package ledger

const (
	operationRecord = "record"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
