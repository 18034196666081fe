package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/crypto"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"meadow/pkg/meadow"
)

const (
	defaultRPCTimeout     = 5 * time.Second
	membersPageSize       = 200
	notModifiedErrorType  = "MESSAGE_NOT_MODIFIED"
	queryInvalidErrorType = "QUERY_ID_INVALID"
)

// Outbound adapts neutral messaging and membership operations to Telegram RPC
// calls. It implements meadow.Outbound and meadow.MembershipProvider.
type Outbound struct {
	logger     *slog.Logger
	peers      *PeerCache
	telegram   outboundRPC
	rpcTimeout time.Duration
}

// OutboundOption mutates outbound configuration.
type OutboundOption func(*Outbound)

// WithOutboundLogger configures structured logging for outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(outbound *Outbound) {
		if logger != nil {
			outbound.logger = logger
		}
	}
}

// WithRPCTimeout bounds each outbound RPC call.
func WithRPCTimeout(timeout time.Duration) OutboundOption {
	return func(outbound *Outbound) {
		if timeout > 0 {
			outbound.rpcTimeout = timeout
		}
	}
}

// NewOutbound creates a Telegram outbound adapter over a gotd client.
func NewOutbound(client *gotdtelegram.Client, peers *PeerCache, options ...OutboundOption) (*Outbound, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram outbound: nil client")
	}

	return newOutboundWithRPC(newGotdRPC(client), peers, options...)
}

func newOutboundWithRPC(rpc outboundRPC, peers *PeerCache, options ...OutboundOption) (*Outbound, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram outbound: nil rpc adapter")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram outbound: nil peer cache")
	}

	outbound := &Outbound{
		logger:     slog.Default(),
		peers:      peers,
		telegram:   rpc,
		rpcTimeout: defaultRPCTimeout,
	}
	for _, option := range options {
		option(outbound)
	}

	return outbound, nil
}

// SendMessage delivers one text message, attaching an inline callback button
// when the request carries a control.
func (o *Outbound) SendMessage(ctx context.Context, request meadow.SendRequest) (*meadow.SentMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	peer, err := o.peers.ResolveChannel(request.Channel)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	rpcCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	messageID, err := o.telegram.SendText(rpcCtx, peer, request, controlMarkup(request.Control))
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w", request.Channel.ID, err)
	}

	o.logger.DebugContext(ctx, "telegram message sent",
		"channel_id", request.Channel.ID,
		"channel_type", request.Channel.Type,
		"message_id", messageID,
	)

	return &meadow.SentMessage{
		ID:      strconv.Itoa(messageID),
		Channel: request.Channel,
	}, nil
}

// ClearControls strips the inline keyboard from one delivered message.
// Telegram reports an already-bare message as MESSAGE_NOT_MODIFIED, which is
// the idempotent success case here.
func (o *Outbound) ClearControls(ctx context.Context, ref meadow.MessageRef) error {
	peer, err := o.peers.ResolveChannel(ref.Channel)
	if err != nil {
		return fmt.Errorf("clear controls: %w", err)
	}
	messageID, err := parseMessageID(ref.MessageID)
	if err != nil {
		return fmt.Errorf("clear controls: %w", err)
	}

	rpcCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	if err := o.telegram.ClearMarkup(rpcCtx, peer, messageID); err != nil {
		if tgerr.Is(err, notModifiedErrorType) {
			return nil
		}
		return fmt.Errorf("clear controls on message %s: %w", ref.MessageID, err)
	}

	return nil
}

// AckControl answers one callback query so Telegram stops the client-side
// spinner. Expired queries report QUERY_ID_INVALID, which is harmless here.
func (o *Outbound) AckControl(ctx context.Context, activationID string) error {
	queryID, err := strconv.ParseInt(strings.TrimSpace(activationID), 10, 64)
	if err != nil {
		return fmt.Errorf("ack control: invalid activation id %q", activationID)
	}

	rpcCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	if err := o.telegram.AnswerCallback(rpcCtx, queryID); err != nil {
		if tgerr.Is(err, queryInvalidErrorType) {
			return nil
		}
		return fmt.Errorf("ack control %s: %w", activationID, err)
	}

	return nil
}

// EnsureDirect returns the direct conversation with one account. Telegram
// bots cannot open conversations unprompted; the user peer must have been
// seen in an update or a membership listing first.
func (o *Outbound) EnsureDirect(_ context.Context, userID string) (meadow.Channel, error) {
	if _, err := o.peers.ResolveUser(userID); err != nil {
		return meadow.Channel{}, fmt.Errorf("ensure direct with %s: %w", userID, err)
	}

	return meadow.Channel{
		ID:   userID,
		Type: meadow.ChannelTypeDirect,
	}, nil
}

// ListMembers returns the accounts able to see one group or channel.
// Discovered user peers are remembered for later direct delivery.
func (o *Outbound) ListMembers(ctx context.Context, channelID string) ([]meadow.Actor, error) {
	peer, err := o.resolveConversationPeer(channelID)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", channelID, err)
	}

	rpcCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	var users []tg.UserClass
	switch typed := peer.(type) {
	case *tg.InputPeerChannel:
		users, err = o.telegram.ChannelMembers(rpcCtx, &tg.InputChannel{
			ChannelID:  typed.ChannelID,
			AccessHash: typed.AccessHash,
		})
	case *tg.InputPeerChat:
		users, err = o.telegram.ChatMembers(rpcCtx, typed.ChatID)
	default:
		return nil, fmt.Errorf("list members of %s: unsupported peer %T", channelID, peer)
	}
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", channelID, err)
	}

	members := make([]meadow.Actor, 0, len(users))
	for _, userClass := range users {
		user, ok := userClass.(*tg.User)
		if !ok {
			continue
		}
		o.peers.RememberUser(user)
		members = append(members, meadow.Actor{
			ID:          strconv.FormatInt(user.ID, 10),
			Username:    user.Username,
			DisplayName: strings.TrimSpace(user.FirstName + " " + user.LastName),
			IsBot:       user.Bot,
		})
	}

	return members, nil
}

// resolveConversationPeer finds a group or channel peer for a bare channel id.
func (o *Outbound) resolveConversationPeer(channelID string) (tg.InputPeerClass, error) {
	for _, channelType := range []meadow.ChannelType{meadow.ChannelTypeGroup, meadow.ChannelTypeChannel} {
		peer, err := o.peers.ResolveChannel(meadow.Channel{ID: channelID, Type: channelType})
		if err == nil {
			return peer, nil
		}
	}

	return nil, fmt.Errorf("channel %s not seen yet", channelID)
}

func (o *Outbound) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.rpcTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, o.rpcTimeout)
}

// controlMarkup renders one control as a single-button inline keyboard.
func controlMarkup(control *meadow.ControlSpec) tg.ReplyMarkupClass {
	if control == nil {
		return nil
	}

	return &tg.ReplyInlineMarkup{
		Rows: []tg.KeyboardButtonRow{{
			Buttons: []tg.KeyboardButtonClass{
				&tg.KeyboardButtonCallback{
					Text: control.Label,
					Data: []byte(controlDataPrefix + control.Pattern),
				},
			},
		}},
	}
}

func parseMessageID(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid message id %q", raw)
	}

	return value, nil
}

// outboundRPC is the minimal Telegram RPC surface the outbound adapter needs.
type outboundRPC interface {
	SendText(ctx context.Context, peer tg.InputPeerClass, request meadow.SendRequest, markup tg.ReplyMarkupClass) (int, error)
	ClearMarkup(ctx context.Context, peer tg.InputPeerClass, messageID int) error
	AnswerCallback(ctx context.Context, queryID int64) error
	ChannelMembers(ctx context.Context, channel *tg.InputChannel) ([]tg.UserClass, error)
	ChatMembers(ctx context.Context, chatID int64) ([]tg.UserClass, error)
}

type gotdRPC struct {
	raw *tg.Client
}

func newGotdRPC(client *gotdtelegram.Client) gotdRPC {
	return gotdRPC{raw: client.API()}
}

func (r gotdRPC) SendText(
	ctx context.Context,
	peer tg.InputPeerClass,
	request meadow.SendRequest,
	markup tg.ReplyMarkupClass,
) (int, error) {
	sendRequest := &tg.MessagesSendMessageRequest{
		Peer:      peer,
		Message:   request.Text,
		NoWebpage: request.DisableLinkPreview,
	}
	if markup != nil {
		sendRequest.SetReplyMarkup(markup)
	}
	if request.ReplyToMessageID != "" {
		replyID, err := parseMessageID(request.ReplyToMessageID)
		if err != nil {
			return 0, fmt.Errorf("send text: %w", err)
		}
		sendRequest.SetReplyTo(&tg.InputReplyToMessage{ReplyToMsgID: replyID})
	}

	randomID, err := crypto.RandInt64(crypto.DefaultRand())
	if err != nil {
		return 0, fmt.Errorf("send text random id: %w", err)
	}
	sendRequest.RandomID = randomID

	messageID, err := unpack.MessageID(r.raw.MessagesSendMessage(ctx, sendRequest))
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}

	return messageID, nil
}

func (r gotdRPC) ClearMarkup(ctx context.Context, peer tg.InputPeerClass, messageID int) error {
	editRequest := &tg.MessagesEditMessageRequest{
		Peer: peer,
		ID:   messageID,
	}
	editRequest.SetReplyMarkup(&tg.ReplyInlineMarkup{})

	if _, err := r.raw.MessagesEditMessage(ctx, editRequest); err != nil {
		return fmt.Errorf("edit markup: %w", err)
	}

	return nil
}

func (r gotdRPC) AnswerCallback(ctx context.Context, queryID int64) error {
	if _, err := r.raw.MessagesSetBotCallbackAnswer(ctx, &tg.MessagesSetBotCallbackAnswerRequest{
		QueryID: queryID,
	}); err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}

	return nil
}

func (r gotdRPC) ChannelMembers(ctx context.Context, channel *tg.InputChannel) ([]tg.UserClass, error) {
	participants, err := r.raw.ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
		Channel: channel,
		Filter:  &tg.ChannelParticipantsRecent{},
		Limit:   membersPageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("get channel participants: %w", err)
	}

	listed, ok := participants.(*tg.ChannelsChannelParticipants)
	if !ok {
		return nil, fmt.Errorf("get channel participants: unexpected response %T", participants)
	}

	return listed.Users, nil
}

func (r gotdRPC) ChatMembers(ctx context.Context, chatID int64) ([]tg.UserClass, error) {
	full, err := r.raw.MessagesGetFullChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get full chat: %w", err)
	}

	return full.Users, nil
}
