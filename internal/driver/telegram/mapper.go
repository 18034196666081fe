package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gotd/td/tg"

	"meadow/pkg/meadow"
)

// controlDataPrefix tags callback payloads owned by the unsubscribe control.
const controlDataPrefix = "unsub:"

// mapper turns flattened gotd updates into neutral meadow events.
//
// A nil event with a nil error means the update is irrelevant to the keyword
// pipeline and should be dropped silently.
type mapper struct {
	mu           sync.RWMutex
	selfID       int64
	selfUsername string
}

func newMapper() *mapper {
	return &mapper{}
}

// SetSelf records the authorized bot identity so the mapper can drop the
// bot's own messages and commands addressed to other bots.
func (m *mapper) SetSelf(id int64, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selfID = id
	m.selfUsername = username
}

func (m *mapper) self() (int64, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selfID, m.selfUsername
}

// Map converts one update envelope into a neutral event.
func (m *mapper) Map(envelope updateEnvelope) (*meadow.Event, error) {
	switch update := envelope.update.(type) {
	case *tg.UpdateNewMessage:
		return m.mapMessage(envelope, update.Message)
	case *tg.UpdateNewChannelMessage:
		return m.mapMessage(envelope, update.Message)
	case *tg.UpdateBotCallbackQuery:
		return m.mapCallback(envelope, update)
	default:
		return nil, nil
	}
}

func (m *mapper) mapMessage(envelope updateEnvelope, messageClass tg.MessageClass) (*meadow.Event, error) {
	message, ok := messageClass.(*tg.Message)
	if !ok || message.Out || message.Message == "" {
		return nil, nil
	}

	channel, err := m.mapChannel(envelope, message.PeerID)
	if err != nil {
		return nil, fmt.Errorf("map message %d: %w", message.ID, err)
	}

	actor := m.mapActor(envelope, messageAuthorID(message, channel))
	selfID, selfUsername := m.self()
	if selfID != 0 && actor.ID == strconv.FormatInt(selfID, 10) {
		return nil, nil
	}

	occurredAt := intToTimeUTC(message.Date)
	if occurredAt.IsZero() {
		occurredAt = envelope.occurredAt
	}

	event := &meadow.Event{
		ID:         uuid.NewString(),
		OccurredAt: occurredAt,
		Platform:   meadow.PlatformTelegram,
		Channel:    channel,
		Actor:      actor,
		Message: &meadow.Message{
			ID:   strconv.Itoa(message.ID),
			Text: message.Message,
			Link: messageLink(envelope, message, channel),
		},
	}

	parsed, matched, parseErr := meadow.ParseCommand(message.Message)
	if !matched {
		event.Kind = meadow.EventKindMessageCreated
		return event, nil
	}
	if parsed.Mention != "" && selfUsername != "" && !strings.EqualFold(parsed.Mention, selfUsername) {
		// A command addressed to another bot is an ordinary message to us.
		event.Kind = meadow.EventKindMessageCreated
		return event, nil
	}
	_ = parseErr // Syntax problems surface as command-handler replies.

	switch parsed.Name {
	case meadow.CommandSubscribe:
		event.Kind = meadow.EventKindSubscribeRequested
	case meadow.CommandUnsubscribe:
		event.Kind = meadow.EventKindUnsubscribeRequested
	case meadow.CommandSubscriptions:
		event.Kind = meadow.EventKindListRequested
	}
	event.Command = &parsed.Request

	return event, nil
}

func (m *mapper) mapCallback(envelope updateEnvelope, update *tg.UpdateBotCallbackQuery) (*meadow.Event, error) {
	data, ok := update.GetData()
	if !ok {
		return nil, nil
	}
	pattern, ok := strings.CutPrefix(string(data), controlDataPrefix)
	if !ok || pattern == "" {
		return nil, nil
	}

	channel, err := m.mapChannel(envelope, update.Peer)
	if err != nil {
		return nil, fmt.Errorf("map callback %d: %w", update.QueryID, err)
	}

	ownerID := strconv.FormatInt(update.UserID, 10)

	return &meadow.Event{
		ID:         uuid.NewString(),
		Kind:       meadow.EventKindControlActivated,
		OccurredAt: envelope.occurredAt,
		Platform:   meadow.PlatformTelegram,
		Channel:    channel,
		Actor:      m.mapActor(envelope, update.UserID),
		Control: &meadow.Control{
			ActivationID: strconv.FormatInt(update.QueryID, 10),
			Action:       meadow.ControlActionUnsubscribe,
			OwnerID:      ownerID,
			Pattern:      pattern,
			Message: meadow.MessageRef{
				Channel:   channel,
				MessageID: strconv.Itoa(update.MsgID),
			},
		},
	}, nil
}

func (m *mapper) mapChannel(envelope updateEnvelope, peer tg.PeerClass) (meadow.Channel, error) {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return meadow.Channel{
			ID:   strconv.FormatInt(typed.UserID, 10),
			Type: meadow.ChannelTypeDirect,
		}, nil
	case *tg.PeerChat:
		channel := meadow.Channel{
			ID:   strconv.FormatInt(typed.ChatID, 10),
			Type: meadow.ChannelTypeGroup,
		}
		if chat, known := envelope.chatsByID[typed.ChatID]; known {
			channel.Title = chat.title
		}
		return channel, nil
	case *tg.PeerChannel:
		channel := meadow.Channel{
			ID:   strconv.FormatInt(typed.ChannelID, 10),
			Type: meadow.ChannelTypeChannel,
		}
		if chat, known := envelope.chatsByID[typed.ChannelID]; known {
			channel.Type = chat.kind
			channel.Title = chat.title
		}
		return channel, nil
	default:
		return meadow.Channel{}, fmt.Errorf("unsupported peer %T", peer)
	}
}

func (m *mapper) mapActor(envelope updateEnvelope, userID int64) meadow.Actor {
	actor := meadow.Actor{
		ID:          strconv.FormatInt(userID, 10),
		ProfileLink: "tg://user?id=" + strconv.FormatInt(userID, 10),
	}

	user, known := envelope.usersByID[userID]
	if !known || user == nil {
		return actor
	}

	actor.Username = user.Username
	actor.DisplayName = strings.TrimSpace(user.FirstName + " " + user.LastName)
	actor.IsBot = user.Bot
	if user.Username != "" {
		actor.ProfileLink = "https://t.me/" + user.Username
	}

	return actor
}

// messageAuthorID resolves the message author: FromID when present, otherwise
// the direct-conversation partner.
func messageAuthorID(message *tg.Message, channel meadow.Channel) int64 {
	if fromID, ok := message.GetFromID(); ok {
		if peer, isUser := fromID.(*tg.PeerUser); isUser {
			return peer.UserID
		}
	}
	if channel.Type == meadow.ChannelTypeDirect {
		if id, err := strconv.ParseInt(channel.ID, 10, 64); err == nil {
			return id
		}
	}

	return 0
}

// messageLink builds a t.me link back to the original message when Telegram
// has one: public channels link by username, private supergroups by /c/ path.
func messageLink(envelope updateEnvelope, message *tg.Message, channel meadow.Channel) string {
	peerChannel, isChannelPeer := message.PeerID.(*tg.PeerChannel)
	if !isChannelPeer {
		return ""
	}

	if chat, known := envelope.chatsByID[peerChannel.ChannelID]; known && chat.username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", chat.username, message.ID)
	}

	return fmt.Sprintf("https://t.me/c/%d/%d", peerChannel.ChannelID, message.ID)
}
