package telegram

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/gotd/td/tg"

	"meadow/pkg/meadow"
)

// PeerCache stores Telegram input peers discovered from inbound updates.
//
// Outbound calls need the peer access hash Telegram attached to the entity
// when it was first seen; this cache is where those hashes live between an
// inbound update and the outbound RPC that answers it.
type PeerCache struct {
	mu        sync.RWMutex
	byChannel map[string]tg.InputPeerClass
	users     map[int64]*tg.InputPeerUser
}

// NewPeerCache creates an empty concurrency-safe peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{
		byChannel: make(map[string]tg.InputPeerClass),
		users:     make(map[int64]*tg.InputPeerUser),
	}
}

// Remember ingests the entity context attached to one update envelope.
func (c *PeerCache) Remember(envelope updateEnvelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for userID, user := range envelope.usersByID {
		if user == nil {
			continue
		}
		peer := user.AsInputPeer()
		if peer == nil {
			continue
		}
		c.users[userID] = peer
		c.byChannel[channelKey(meadow.ChannelTypeDirect, strconv.FormatInt(userID, 10))] = peer
	}

	for chatID, chat := range envelope.chatsByID {
		if chat.inputPeer == nil {
			continue
		}
		c.byChannel[channelKey(chat.kind, strconv.FormatInt(chatID, 10))] = chat.inputPeer
	}
}

// RememberUser stores one user peer discovered outside the update stream,
// such as a membership listing.
func (c *PeerCache) RememberUser(user *tg.User) {
	if user == nil {
		return
	}
	peer := user.AsInputPeer()
	if peer == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[user.ID] = peer
	c.byChannel[channelKey(meadow.ChannelTypeDirect, strconv.FormatInt(user.ID, 10))] = peer
}

// ResolveChannel returns an input peer for an outbound channel target.
func (c *PeerCache) ResolveChannel(channel meadow.Channel) (tg.InputPeerClass, error) {
	if channel.ID == "" || channel.Type == "" {
		return nil, fmt.Errorf("resolve peer: invalid channel")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if peer, ok := c.byChannel[channelKey(channel.Type, channel.ID)]; ok {
		return peer, nil
	}

	// Megagroups surface as groups in neutral events but answer to channel
	// peers, and vice versa when a channel got reclassified.
	switch channel.Type {
	case meadow.ChannelTypeGroup:
		if peer, ok := c.byChannel[channelKey(meadow.ChannelTypeChannel, channel.ID)]; ok {
			return peer, nil
		}
	case meadow.ChannelTypeChannel:
		if peer, ok := c.byChannel[channelKey(meadow.ChannelTypeGroup, channel.ID)]; ok {
			return peer, nil
		}
	}

	return nil, fmt.Errorf("resolve peer: channel %s/%s not seen yet", channel.Type, channel.ID)
}

// ResolveUser returns the input peer for one user account.
func (c *PeerCache) ResolveUser(userID string) (*tg.InputPeerUser, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("resolve user peer: invalid user id %q", userID)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	peer, ok := c.users[id]
	if !ok {
		return nil, fmt.Errorf("resolve user peer: user %s not seen yet", userID)
	}

	return peer, nil
}

func channelKey(channelType meadow.ChannelType, id string) string {
	return string(channelType) + ":" + id
}
