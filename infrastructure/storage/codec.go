package storage

import (
	"dm-relay/domain"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Records are stored with the protobuf wire format, see api/storage.proto.
const (
	messageID protowire.Number = iota + 1
	messageConversationID
	messageSenderID
	messageReceiverID
	messageContent
	messageCreatedAt
	messageEditedAt
	messageDeleted
	messageSequence
)

const (
	userID protowire.Number = iota + 1
	userUsername
	userEmail
	userPasswordHash
	userRoles
	userStatus
	userCreatedAt
	userSequence
)

func encodeMessage(m domain.Message) []byte {
	var b []byte
	b = appendString(b, messageID, m.ID.String())
	b = appendString(b, messageConversationID, string(m.ConversationID))
	b = appendString(b, messageSenderID, m.SenderID)
	b = appendString(b, messageReceiverID, m.ReceiverID)
	b = appendString(b, messageContent, m.Content)
	b = appendVarint(b, messageCreatedAt, uint64(m.CreatedAt.UnixNano()))
	if m.EditedAt != nil {
		b = appendVarint(b, messageEditedAt, uint64(m.EditedAt.UnixNano()))
	}
	if m.Deleted {
		b = appendVarint(b, messageDeleted, protowire.EncodeBool(true))
	}
	b = appendVarint(b, messageSequence, m.Sequence)
	return b
}

func decodeMessage(b []byte) (domain.Message, error) {
	var m domain.Message
	err := consumeFields(b, func(num protowire.Number, str string, varint uint64) error {
		switch num {
		case messageID:
			id, err := uuid.Parse(str)
			if err != nil {
				return fmt.Errorf("message id: %w", err)
			}
			m.ID = id
		case messageConversationID:
			m.ConversationID = domain.ConversationID(str)
		case messageSenderID:
			m.SenderID = str
		case messageReceiverID:
			m.ReceiverID = str
		case messageContent:
			m.Content = str
		case messageCreatedAt:
			m.CreatedAt = time.Unix(0, int64(varint)).UTC()
		case messageEditedAt:
			editedAt := time.Unix(0, int64(varint)).UTC()
			m.EditedAt = &editedAt
		case messageDeleted:
			m.Deleted = protowire.DecodeBool(varint)
		case messageSequence:
			m.Sequence = varint
		}
		return nil
	})
	return m, err
}

func encodeUser(u domain.User) []byte {
	var b []byte
	b = appendString(b, userID, u.ID)
	b = appendString(b, userUsername, u.Username)
	b = appendString(b, userEmail, u.Email)
	b = appendString(b, userPasswordHash, u.PasswordHash)
	for _, role := range u.Roles {
		b = appendString(b, userRoles, role)
	}
	b = appendString(b, userStatus, string(u.Status))
	b = appendVarint(b, userCreatedAt, uint64(u.CreatedAt.UnixNano()))
	b = appendVarint(b, userSequence, u.Sequence)
	return b
}

func decodeUser(b []byte) (domain.User, error) {
	var u domain.User
	err := consumeFields(b, func(num protowire.Number, str string, varint uint64) error {
		switch num {
		case userID:
			u.ID = str
		case userUsername:
			u.Username = str
		case userEmail:
			u.Email = str
		case userPasswordHash:
			u.PasswordHash = str
		case userRoles:
			u.Roles = append(u.Roles, str)
		case userStatus:
			u.Status = domain.Status(str)
		case userCreatedAt:
			u.CreatedAt = time.Unix(0, int64(varint)).UTC()
		case userSequence:
			u.Sequence = varint
		}
		return nil
	})
	return u, err
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// consumeFields walks a record, handing every string or varint field to fn.
// Unknown fields and other wire types are skipped.
func consumeFields(b []byte, fn func(num protowire.Number, str string, varint uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, v, 0); err != nil {
				return err
			}
			b = b[n:]
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, "", v); err != nil {
				return err
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}
