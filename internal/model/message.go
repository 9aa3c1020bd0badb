package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageKind 消息类型
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindAudio    MessageKind = "audio"
	KindDocument MessageKind = "document"
	KindLocation MessageKind = "location"
	KindContact  MessageKind = "contact"
)

// SystemSenderID 系统消息（群成员变更摘要）的发送者标识
const SystemSenderID = "system"

var (
	ErrEmptyBody   = errors.New("message body is empty")
	ErrUnknownKind = errors.New("unknown message kind")
)

// Body 消息体，按 Kind 区分的标签联合
type Body interface {
	Kind() MessageKind
	Validate() error
}

// TextBody 文本消息
type TextBody struct {
	Text string `json:"text"`
}

// ImageBody 图片消息
type ImageBody struct {
	Ref      string `json:"ref"`
	FileName string `json:"fileName,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// AudioBody 语音消息
type AudioBody struct {
	Ref      string        `json:"ref"`
	Duration time.Duration `json:"duration"`
	MimeType string        `json:"mimeType,omitempty"`
}

// DocumentBody 文件消息
type DocumentBody struct {
	Ref      string `json:"ref"`
	FileName string `json:"fileName"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// LocationBody 位置消息
type LocationBody struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ContactBody 名片消息
type ContactBody struct {
	UID         string `json:"uid"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

func (TextBody) Kind() MessageKind     { return KindText }
func (ImageBody) Kind() MessageKind    { return KindImage }
func (AudioBody) Kind() MessageKind    { return KindAudio }
func (DocumentBody) Kind() MessageKind { return KindDocument }
func (LocationBody) Kind() MessageKind { return KindLocation }
func (ContactBody) Kind() MessageKind  { return KindContact }

func (b TextBody) Validate() error {
	if strings.TrimSpace(b.Text) == "" {
		return ErrEmptyBody
	}
	return nil
}

func (b ImageBody) Validate() error {
	if b.Ref == "" {
		return errors.New("image ref is required")
	}
	return nil
}

func (b AudioBody) Validate() error {
	if b.Ref == "" {
		return errors.New("audio ref is required")
	}
	if b.Duration < 0 {
		return errors.New("audio duration is negative")
	}
	return nil
}

func (b DocumentBody) Validate() error {
	if b.Ref == "" || b.FileName == "" {
		return errors.New("document ref and file name are required")
	}
	return nil
}

func (b LocationBody) Validate() error {
	if b.Lat < -90 || b.Lat > 90 || b.Lng < -180 || b.Lng > 180 {
		return fmt.Errorf("location out of range: %f,%f", b.Lat, b.Lng)
	}
	return nil
}

func (b ContactBody) Validate() error {
	if b.UID == "" && b.PhoneNumber == "" {
		return errors.New("contact needs a uid or phone number")
	}
	return nil
}

// Preview 消息的列表预览文本，由消息体类型唯一决定
func Preview(body Body) string {
	switch b := body.(type) {
	case TextBody:
		return b.Text
	case ImageBody:
		return "📷 Photo"
	case AudioBody:
		return "🎤 Voice"
	case DocumentBody:
		return "📄 Document"
	case LocationBody:
		return "📍 Location"
	case ContactBody:
		return "👤 Contact"
	default:
		return ""
	}
}

// EncodeBody 序列化消息体
func EncodeBody(body Body) ([]byte, error) {
	if body == nil {
		return nil, ErrEmptyBody
	}
	return json.Marshal(body)
}

// DecodeBody 按类型反序列化消息体
func DecodeBody(kind MessageKind, raw []byte) (Body, error) {
	var (
		body Body
		err  error
	)
	switch kind {
	case KindText:
		var b TextBody
		err = json.Unmarshal(raw, &b)
		body = b
	case KindImage:
		var b ImageBody
		err = json.Unmarshal(raw, &b)
		body = b
	case KindAudio:
		var b AudioBody
		err = json.Unmarshal(raw, &b)
		body = b
	case KindDocument:
		var b DocumentBody
		err = json.Unmarshal(raw, &b)
		body = b
	case KindLocation:
		var b LocationBody
		err = json.Unmarshal(raw, &b)
		body = b
	case KindContact:
		var b ContactBody
		err = json.Unmarshal(raw, &b)
		body = b
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

// ReplyTo 回复引用快照，创建时固定，不随原消息变化
type ReplyTo struct {
	MessageID  string      `json:"messageId"`
	SenderName string      `json:"senderName"`
	Preview    string      `json:"preview"`
	Kind       MessageKind `json:"kind"`
}

// Message 消息实体
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	Body           Body       `json:"-"`
	CreatedAt      time.Time  `json:"createdAt"`
	ReadBy         []string   `json:"readBy"`
	ReplyTo        *ReplyTo   `json:"replyTo,omitempty"`
	EditedAt       *time.Time `json:"editedAt,omitempty"`
}

// Kind 消息类型
func (m *Message) Kind() MessageKind {
	if m.Body == nil {
		return ""
	}
	return m.Body.Kind()
}

// IsSystem 是否为系统消息
func (m *Message) IsSystem() bool {
	return m.SenderID == SystemSenderID
}

// ReadByContains 判断 uid 是否已读
func (m *Message) ReadByContains(uid string) bool {
	for _, r := range m.ReadBy {
		if r == uid {
			return true
		}
	}
	return false
}

type messageJSON struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	Kind           MessageKind     `json:"kind"`
	Body           json.RawMessage `json:"body"`
	CreatedAt      time.Time       `json:"createdAt"`
	ReadBy         []string        `json:"readBy"`
	ReplyTo        *ReplyTo        `json:"replyTo,omitempty"`
	EditedAt       *time.Time      `json:"editedAt,omitempty"`
}

// MarshalJSON 携带 kind 字段以便还原消息体
func (m Message) MarshalJSON() ([]byte, error) {
	body, err := EncodeBody(m.Body)
	if err != nil {
		return nil, err
	}
	readBy := m.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	return json.Marshal(messageJSON{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Kind:           m.Kind(),
		Body:           body,
		CreatedAt:      m.CreatedAt,
		ReadBy:         readBy,
		ReplyTo:        m.ReplyTo,
		EditedAt:       m.EditedAt,
	})
}

// UnmarshalJSON 按 kind 还原消息体
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	body, err := DecodeBody(raw.Kind, raw.Body)
	if err != nil {
		return err
	}
	*m = Message{
		ID:             raw.ID,
		ConversationID: raw.ConversationID,
		SenderID:       raw.SenderID,
		Body:           body,
		CreatedAt:      raw.CreatedAt,
		ReadBy:         raw.ReadBy,
		ReplyTo:        raw.ReplyTo,
		EditedAt:       raw.EditedAt,
	}
	return nil
}
