package rooms

import (
	"strings"

	"recruit-chat/internal/apperr"
)

const (
	conversationNamespace = "conversation"
	recruitmentNamespace  = "recruitment"
)

// Ref is a parsed room name. It is one of DirectRoom, RecruitmentRoom or RawRoom.
type Ref interface {
	room()
}

// DirectRoom addresses a conversation by id: "conversation:<id>".
type DirectRoom struct {
	ConversationID string
}

// RecruitmentRoom addresses the conversation of an application: "recruitment:<applicantId>".
type RecruitmentRoom struct {
	ApplicantID string
}

// RawRoom is any other name, used verbatim as a conversation id.
type RawRoom struct {
	Name string
}

func (DirectRoom) room()      {}
func (RecruitmentRoom) room() {}
func (RawRoom) room()         {}

var (
	errConversationIDRequired = apperr.InvalidArg("conversation id required")
	errApplicantIDRequired    = apperr.InvalidArg("applicant id required")
)

// Parse classifies a room name.
func Parse(name string) (Ref, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.ErrRoomRequired
	}

	ns, id, found := strings.Cut(name, ":")
	if !found {
		return RawRoom{Name: name}, nil
	}

	switch ns {
	case conversationNamespace:
		if id == "" {
			return nil, errConversationIDRequired
		}
		return DirectRoom{ConversationID: id}, nil
	case recruitmentNamespace:
		if id == "" {
			return nil, errApplicantIDRequired
		}
		return RecruitmentRoom{ApplicantID: id}, nil
	default:
		return RawRoom{Name: name}, nil
	}
}

// ConversationRoom builds the direct room name for a conversation id.
func ConversationRoom(conversationID string) string {
	return conversationNamespace + ":" + conversationID
}
