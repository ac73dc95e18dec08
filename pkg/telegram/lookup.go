package telegram

import (
	"context"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/samber/lo"

	"tgw_go/models"
	"tgw_go/pkg/session"
)

const (
	dialogPageSize      = 100
	maxDialogPages      = 20
	participantPageSize = 200
	maxParticipants     = 10000
)

// normalizePhone оставляет в номере только цифры.
func normalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func usersByID(users []tg.UserClass) map[int64]*tg.User {
	list := lo.FilterMap(users, func(u tg.UserClass, _ int) (*tg.User, bool) {
		v, ok := u.(*tg.User)
		return v, ok
	})
	return lo.KeyBy(list, func(u *tg.User) int64 { return u.ID })
}

func isUnknownPhone(err error) bool {
	return tgerr.Is(err, "PHONE_NOT_OCCUPIED", "PHONE_NUMBER_INVALID", "PHONE_NUMBER_BANNED")
}

// resolvePhone находит пользователя по номеру телефона.
func resolvePhone(ctx context.Context, api *tg.Client, phone string) (*tg.User, error) {
	digits := normalizePhone(phone)
	if digits == "" {
		return nil, errors.Mark(errors.Newf("invalid phone %q", phone), session.ErrValidation)
	}
	res, err := api.ContactsResolvePhone(ctx, digits)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve phone %s", digits)
	}
	peer, ok := res.Peer.(*tg.PeerUser)
	if !ok {
		return nil, errors.Newf("phone %s resolved to non-user peer", digits)
	}
	user, ok := usersByID(res.Users)[peer.UserID]
	if !ok {
		return nil, errors.Newf("user %d missing in resolve result", peer.UserID)
	}
	return user, nil
}

func sendText(ctx context.Context, api *tg.Client, peer tg.InputPeerClass, text string) error {
	if _, err := message.NewSender(api).To(peer).Text(ctx, text); err != nil {
		return errors.Wrap(err, "messages.sendMessage")
	}
	return nil
}

// checkNumbers проверяет номера по одному. Незарегистрированный номер ошибкой не считается.
func checkNumbers(ctx context.Context, api *tg.Client, numbers []string) ([]models.NumberCheck, error) {
	out := make([]models.NumberCheck, 0, len(numbers))
	for _, input := range numbers {
		check := models.NumberCheck{Input: input}
		if normalizePhone(input) == "" {
			out = append(out, check)
			continue
		}
		user, err := resolvePhone(ctx, api, input)
		switch {
		case err == nil:
			check.Valid = true
			check.Formatted = formatPhone(user.Phone, input)
		case isUnknownPhone(err):
		default:
			return nil, err
		}
		out = append(out, check)
	}
	return out, nil
}

func formatPhone(phone, fallback string) string {
	if phone == "" {
		phone = normalizePhone(fallback)
	}
	return "+" + phone
}

// Идентификаторы групп: chat:<id> для обычных групп и channel:<id>:<access_hash> для супергрупп.
type groupRef struct {
	channel    bool
	id         int64
	accessHash int64
}

func (r groupRef) String() string {
	if r.channel {
		return "channel:" + strconv.FormatInt(r.id, 10) + ":" + strconv.FormatInt(r.accessHash, 10)
	}
	return "chat:" + strconv.FormatInt(r.id, 10)
}

func parseGroupID(raw string) (groupRef, error) {
	bad := errors.Mark(errors.Newf("invalid group_id %q", raw), session.ErrValidation)
	parts := strings.Split(raw, ":")
	switch {
	case len(parts) == 2 && parts[0] == "chat":
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || id <= 0 {
			return groupRef{}, bad
		}
		return groupRef{id: id}, nil
	case len(parts) == 3 && parts[0] == "channel":
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || id <= 0 {
			return groupRef{}, bad
		}
		hash, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return groupRef{}, bad
		}
		return groupRef{channel: true, id: id, accessHash: hash}, nil
	}
	return groupRef{}, bad
}

// dialogsToGroups выбирает из диалогов группы и супергруппы. Каналы-витрины пропускаются.
func dialogsToGroups(dialogs []tg.DialogClass, chats []tg.ChatClass) []models.Group {
	plain := map[int64]*tg.Chat{}
	channels := map[int64]*tg.Channel{}
	for _, c := range chats {
		switch c := c.(type) {
		case *tg.Chat:
			plain[c.ID] = c
		case *tg.Channel:
			channels[c.ID] = c
		}
	}

	var out []models.Group
	for _, raw := range dialogs {
		d, ok := raw.(*tg.Dialog)
		if !ok {
			continue
		}
		switch p := d.Peer.(type) {
		case *tg.PeerChat:
			c, ok := plain[p.ChatID]
			if !ok || c.Left || c.Deactivated {
				continue
			}
			out = append(out, models.Group{
				ID:               groupRef{id: c.ID}.String(),
				Name:             c.Title,
				ParticipantCount: c.ParticipantsCount,
				UnreadCount:      d.UnreadCount,
			})
		case *tg.PeerChannel:
			c, ok := channels[p.ChannelID]
			if !ok || c.Left || !(c.Megagroup || c.Gigagroup) {
				continue
			}
			out = append(out, models.Group{
				ID:               groupRef{channel: true, id: c.ID, accessHash: c.AccessHash}.String(),
				Name:             c.Title,
				ParticipantCount: c.ParticipantsCount,
				UnreadCount:      d.UnreadCount,
			})
		}
	}
	return out
}

type dialogOffset struct {
	date int
	id   int
	peer tg.InputPeerClass
}

// nextDialogOffset строит смещение следующей страницы по последнему диалогу.
func nextDialogOffset(res tg.ModifiedMessagesDialogs) (dialogOffset, bool) {
	dialogs := res.GetDialogs()
	if len(dialogs) == 0 {
		return dialogOffset{}, false
	}
	last, ok := dialogs[len(dialogs)-1].(*tg.Dialog)
	if !ok {
		return dialogOffset{}, false
	}

	var date int
	for _, m := range res.GetMessages() {
		msg, ok := m.AsNotEmpty()
		if ok && msg.GetID() == last.TopMessage && samePeer(msg.GetPeerID(), last.Peer) {
			date = msg.GetDate()
			break
		}
	}

	var input tg.InputPeerClass
	switch p := last.Peer.(type) {
	case *tg.PeerUser:
		u, ok := usersByID(res.GetUsers())[p.UserID]
		if !ok {
			return dialogOffset{}, false
		}
		input = u.AsInputPeer()
	case *tg.PeerChat:
		input = &tg.InputPeerChat{ChatID: p.ChatID}
	case *tg.PeerChannel:
		for _, c := range res.GetChats() {
			if ch, ok := c.(*tg.Channel); ok && ch.ID == p.ChannelID {
				input = ch.AsInputPeer()
				break
			}
		}
	}
	if input == nil {
		return dialogOffset{}, false
	}
	return dialogOffset{date: date, id: last.TopMessage, peer: input}, true
}

func samePeer(a, b tg.PeerClass) bool {
	switch a := a.(type) {
	case *tg.PeerUser:
		bu, ok := b.(*tg.PeerUser)
		return ok && a.UserID == bu.UserID
	case *tg.PeerChat:
		bc, ok := b.(*tg.PeerChat)
		return ok && a.ChatID == bc.ChatID
	case *tg.PeerChannel:
		bc, ok := b.(*tg.PeerChannel)
		return ok && a.ChannelID == bc.ChannelID
	}
	return false
}

// fetchGroups листает диалоги страницами, пока сервер их отдаёт.
func fetchGroups(ctx context.Context, api *tg.Client) ([]models.Group, error) {
	var groups []models.Group
	offset := dialogOffset{peer: &tg.InputPeerEmpty{}}
	for page := 0; page < maxDialogPages; page++ {
		res, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offset.date,
			OffsetID:   offset.id,
			OffsetPeer: offset.peer,
			Limit:      dialogPageSize,
		})
		if err != nil {
			return nil, errors.Wrap(err, "messages.getDialogs")
		}
		mod, ok := res.AsModified()
		if !ok {
			break
		}
		groups = append(groups, dialogsToGroups(mod.GetDialogs(), mod.GetChats())...)
		if _, complete := res.(*tg.MessagesDialogs); complete || len(mod.GetDialogs()) < dialogPageSize {
			break
		}
		next, ok := nextDialogOffset(mod)
		if !ok {
			break
		}
		offset = next
	}
	return lo.UniqBy(groups, func(g models.Group) string { return g.ID }), nil
}

func participantFromUser(id int64, u *tg.User, admin, creator bool) models.Participant {
	p := models.Participant{
		ID:           strconv.FormatInt(id, 10),
		User:         strconv.FormatInt(id, 10),
		IsAdmin:      admin || creator,
		IsSuperAdmin: creator,
	}
	if u == nil {
		return p
	}
	switch {
	case u.Username != "":
		p.User = "@" + u.Username
	case u.Phone != "":
		p.User = "+" + u.Phone
	}
	p.Name = strings.TrimSpace(u.FirstName + " " + u.LastName)
	return p
}

func chatParticipants(parts tg.ChatParticipantsClass, users []tg.UserClass) []models.Participant {
	list, ok := parts.(*tg.ChatParticipants)
	if !ok {
		return nil
	}
	byID := usersByID(users)
	out := make([]models.Participant, 0, len(list.Participants))
	for _, raw := range list.Participants {
		switch p := raw.(type) {
		case *tg.ChatParticipantCreator:
			out = append(out, participantFromUser(p.UserID, byID[p.UserID], false, true))
		case *tg.ChatParticipantAdmin:
			out = append(out, participantFromUser(p.UserID, byID[p.UserID], true, false))
		case *tg.ChatParticipant:
			out = append(out, participantFromUser(p.UserID, byID[p.UserID], false, false))
		}
	}
	return out
}

func channelParticipants(parts []tg.ChannelParticipantClass, users []tg.UserClass) []models.Participant {
	byID := usersByID(users)
	out := make([]models.Participant, 0, len(parts))
	for _, raw := range parts {
		switch p := raw.(type) {
		case *tg.ChannelParticipantCreator:
			out = append(out, participantFromUser(p.UserID, byID[p.UserID], false, true))
		case *tg.ChannelParticipantAdmin:
			out = append(out, participantFromUser(p.UserID, byID[p.UserID], true, false))
		case *tg.ChannelParticipantSelf:
			out = append(out, participantFromUser(p.UserID, byID[p.UserID], false, false))
		case *tg.ChannelParticipant:
			out = append(out, participantFromUser(p.UserID, byID[p.UserID], false, false))
		}
	}
	return out
}

func fetchParticipants(ctx context.Context, api *tg.Client, ref groupRef) ([]models.Participant, error) {
	if !ref.channel {
		full, err := api.MessagesGetFullChat(ctx, ref.id)
		if err != nil {
			return nil, errors.Wrap(err, "messages.getFullChat")
		}
		chat, ok := full.FullChat.(*tg.ChatFull)
		if !ok {
			return nil, errors.Newf("chat %d has no full info", ref.id)
		}
		return chatParticipants(chat.Participants, full.Users), nil
	}

	channel := &tg.InputChannel{ChannelID: ref.id, AccessHash: ref.accessHash}
	var out []models.Participant
	for offset := 0; offset < maxParticipants; offset += participantPageSize {
		res, err := api.ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
			Channel: channel,
			Filter:  &tg.ChannelParticipantsRecent{},
			Offset:  offset,
			Limit:   participantPageSize,
		})
		if err != nil {
			return nil, errors.Wrap(err, "channels.getParticipants")
		}
		page, ok := res.(*tg.ChannelsChannelParticipants)
		if !ok {
			break
		}
		out = append(out, channelParticipants(page.Participants, page.Users)...)
		if len(page.Participants) < participantPageSize {
			break
		}
	}
	return lo.UniqBy(out, func(p models.Participant) string { return p.ID }), nil
}
