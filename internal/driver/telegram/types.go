package telegram

import (
	"time"

	"github.com/gotd/td/tg"

	"meadow/pkg/meadow"
)

// DriverName is the stable kernel identifier for this driver.
const DriverName = "telegram"

// chatInfo is the projection of one Telegram chat/channel relevant to mapping
// and outbound peer resolution.
type chatInfo struct {
	kind      meadow.ChannelType
	title     string
	username  string
	inputPeer tg.InputPeerClass
}

// updateEnvelope is one flattened gotd update plus the entity context the
// containing batch carried.
type updateEnvelope struct {
	update     tg.UpdateClass
	occurredAt time.Time
	usersByID  map[int64]*tg.User
	chatsByID  map[int64]chatInfo
}

func indexUsers(users []tg.UserClass) map[int64]*tg.User {
	if len(users) == 0 {
		return nil
	}

	byID := make(map[int64]*tg.User, len(users))
	for _, userClass := range users {
		user, ok := userClass.(*tg.User)
		if !ok {
			continue
		}
		byID[user.ID] = user
	}

	return byID
}

func indexChats(chats []tg.ChatClass) map[int64]chatInfo {
	if len(chats) == 0 {
		return nil
	}

	byID := make(map[int64]chatInfo, len(chats))
	for _, chatClass := range chats {
		switch chat := chatClass.(type) {
		case *tg.Chat:
			byID[chat.ID] = chatInfo{
				kind:      meadow.ChannelTypeGroup,
				title:     chat.Title,
				inputPeer: &tg.InputPeerChat{ChatID: chat.ID},
			}
		case *tg.Channel:
			kind := meadow.ChannelTypeChannel
			if chat.Megagroup {
				kind = meadow.ChannelTypeGroup
			}
			byID[chat.ID] = chatInfo{
				kind:     kind,
				title:    chat.Title,
				username: chat.Username,
				inputPeer: &tg.InputPeerChannel{
					ChannelID:  chat.ID,
					AccessHash: chat.AccessHash,
				},
			}
		}
	}

	return byID
}

func intToTimeUTC(seconds int) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}

	return time.Unix(int64(seconds), 0).UTC()
}
