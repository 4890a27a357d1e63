package chat

import (
	"context"
	"strings"

	"github.com/PaulBabatuyi/investchat/internal/apperr"
)

// messageFacts is what ownership checks need to know about one message.
type messageFacts struct {
	found   bool // exists in the session's conversation or group
	sender  int64
	deleted bool
}

type probeFunc func(ctx context.Context, id int64) (messageFacts, error)

// checkMutable returns nil when actor may edit or delete message id.
func checkMutable(ctx context.Context, probe probeFunc, id, actor int64) error {
	f, err := probe(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case !f.found:
		return apperr.MessageNotFound("message not found")
	case f.sender != actor:
		return apperr.NotOwner("message belongs to another user")
	case f.deleted:
		return apperr.AlreadyDeleted("message was deleted")
	}
	return nil
}

// untouchedReason explains why a delete batch changed nothing. Foreign
// messages take precedence over already deleted ones.
func untouchedReason(ctx context.Context, probe probeFunc, ids []int64, actor int64) error {
	sawDeleted := false
	for _, id := range ids {
		f, err := probe(ctx, id)
		if err != nil {
			return err
		}
		if !f.found {
			continue
		}
		if f.sender != actor {
			return apperr.NotOwner("message belongs to another user")
		}
		if f.deleted {
			sawDeleted = true
		}
	}
	if sawDeleted {
		return apperr.AlreadyDeleted("messages were already deleted")
	}
	return apperr.MessageNotFound("no matching messages")
}

func emptyText(text string) bool {
	return strings.TrimSpace(text) == ""
}
