package apperr

// Code identifies a class of failure that is reported to clients.
type Code string

const (
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeTargetNotFound  Code = "TARGET_NOT_FOUND"
	CodePeerNotFound    Code = "PEER_NOT_FOUND"
	CodeJoinDenied      Code = "JOIN_DENIED"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeNotOwner        Code = "NOT_OWNER"
	CodeAlreadyDeleted  Code = "ALREADY_DELETED"
	CodeNoValidIDs      Code = "NO_VALID_IDS"
	CodeMalformedFrame  Code = "MALFORMED_FRAME"
	CodeMessageNotFound Code = "MESSAGE_NOT_FOUND"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeInternal        Code = "INTERNAL"
)
