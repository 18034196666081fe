package telegram

import (
	"context"
	"fmt"

	"github.com/gotd/td/tg"
)

const defaultUpdateBuffer = 1024

// updateChannel bridges the gotd update handler callback into a consumable
// stream of flattened update envelopes.
type updateChannel struct {
	updates chan updateEnvelope
}

func newUpdateChannel(buffer int) *updateChannel {
	if buffer <= 0 {
		buffer = defaultUpdateBuffer
	}

	return &updateChannel{
		updates: make(chan updateEnvelope, buffer),
	}
}

// Handle implements telegram.UpdateHandler: it flattens each gotd update
// container and forwards every unit to the stream.
func (s *updateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	batch, err := flattenUpdates(updates)
	if err != nil {
		return fmt.Errorf("handle telegram updates: %w", err)
	}

	for _, envelope := range batch {
		select {
		case <-ctx.Done():
			return fmt.Errorf("handle telegram updates: %w", ctx.Err())
		case s.updates <- envelope:
		}
	}

	return nil
}

// flattenUpdates unwraps gotd update containers into per-update envelopes that
// carry the batch's user and chat entity context.
func flattenUpdates(updates tg.UpdatesClass) ([]updateEnvelope, error) {
	if updates == nil {
		return nil, fmt.Errorf("flatten updates: nil container")
	}

	switch typed := updates.(type) {
	case *tg.Updates:
		return flattenBatch(typed.Updates, typed.Date, typed.Users, typed.Chats), nil
	case *tg.UpdatesCombined:
		return flattenBatch(typed.Updates, typed.Date, typed.Users, typed.Chats), nil
	case *tg.UpdateShort:
		return []updateEnvelope{{
			update:     typed.Update,
			occurredAt: intToTimeUTC(typed.Date),
		}}, nil
	case *tg.UpdateShortMessage:
		return flattenShortMessage(typed), nil
	case *tg.UpdateShortChatMessage:
		return flattenShortChatMessage(typed), nil
	case *tg.UpdatesTooLong:
		// Gap recovery is handled by resubscription upstream; nothing to map.
		return nil, nil
	default:
		return nil, nil
	}
}

func flattenBatch(updates []tg.UpdateClass, date int, users []tg.UserClass, chats []tg.ChatClass) []updateEnvelope {
	occurredAt := intToTimeUTC(date)
	usersByID := indexUsers(users)
	chatsByID := indexChats(chats)

	batch := make([]updateEnvelope, 0, len(updates))
	for _, update := range updates {
		if update == nil {
			continue
		}
		batch = append(batch, updateEnvelope{
			update:     update,
			occurredAt: occurredAt,
			usersByID:  usersByID,
			chatsByID:  chatsByID,
		})
	}

	return batch
}

func flattenShortMessage(update *tg.UpdateShortMessage) []updateEnvelope {
	message := &tg.Message{
		ID:      update.ID,
		PeerID:  &tg.PeerUser{UserID: update.UserID},
		Date:    update.Date,
		Message: update.Message,
		Out:     update.Out,
	}
	message.SetFromID(&tg.PeerUser{UserID: update.UserID})

	return []updateEnvelope{{
		update: &tg.UpdateNewMessage{
			Message:  message,
			Pts:      update.Pts,
			PtsCount: update.PtsCount,
		},
		occurredAt: intToTimeUTC(update.Date),
	}}
}

func flattenShortChatMessage(update *tg.UpdateShortChatMessage) []updateEnvelope {
	message := &tg.Message{
		ID:      update.ID,
		PeerID:  &tg.PeerChat{ChatID: update.ChatID},
		Date:    update.Date,
		Message: update.Message,
		Out:     update.Out,
	}
	message.SetFromID(&tg.PeerUser{UserID: update.FromID})

	return []updateEnvelope{{
		update: &tg.UpdateNewMessage{
			Message:  message,
			Pts:      update.Pts,
			PtsCount: update.PtsCount,
		},
		occurredAt: intToTimeUTC(update.Date),
	}}
}
