package signaling

import (
	"encoding/json"
	"time"

	"github.com/classlive/coordinator/internal/models"
)

// Decode maps a raw websocket payload to a typed frame. It never fails:
// malformed JSON, unknown envelope types and unknown events all come back as
// UnrecognizedFrame, which handlers drop. now supplies the arrival time for
// live chat messages.
func Decode(raw []byte, now time.Time) Frame {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return UnrecognizedFrame{Raw: raw, Reason: "malformed json: " + err.Error()}
	}
	return DecodeEnvelope(env, raw, now)
}

// DecodeEnvelope classifies an already-parsed envelope.
func DecodeEnvelope(env Envelope, raw []byte, now time.Time) Frame {
	switch env.Type {
	case TypePresence:
		return decodePresence(env, raw)
	case TypeEvent:
		return decodeEvent(env, raw)
	case TypeGroupchat:
		if env.Event != "" {
			return decodeEvent(env, raw)
		}
		return decodeGroupchat(env, raw, now)
	default:
		return UnrecognizedFrame{Raw: raw, Reason: "unknown type " + env.Type}
	}
}

func decodePresence(env Envelope, raw []byte) Frame {
	if env.Presence == nil {
		return UnrecognizedFrame{Raw: raw, Reason: "presence without presence info"}
	}
	switch env.Presence.Kind {
	case PresenceAvailable, PresenceUnavailable, PresenceDenied:
	default:
		return UnrecognizedFrame{Raw: raw, Reason: "unknown presence kind " + env.Presence.Kind}
	}
	return PresenceFrame{
		Address:     env.From,
		Name:        env.Presence.Name,
		Kind:        env.Presence.Kind,
		Affiliation: env.Presence.Affiliation,
		OnStage:     env.Presence.OnStage,
	}
}

func decodeGroupchat(env Envelope, raw []byte, now time.Time) Frame {
	if env.EndOfReplay {
		return HistoryCompleteFrame{}
	}
	if env.Subject != "" {
		return SubjectFrame{Subject: env.Subject}
	}
	if env.Body == "" || env.From == "" {
		return UnrecognizedFrame{Raw: raw, Reason: "groupchat without body or sender"}
	}
	if env.Delay != nil {
		return ChatFrame{From: env.From, Body: env.Body, SentAt: *env.Delay, History: true}
	}
	return ChatFrame{From: env.From, Body: env.Body, SentAt: now, History: false}
}

func decodeEvent(env Envelope, raw []byte) Frame {
	switch env.Event {
	case EventAskToJoin:
		p, ok := decodeParticipant(env.Participant)
		if !ok {
			return UnrecognizedFrame{Raw: raw, Reason: "ask-to-join without participant"}
		}
		return AskToJoinFrame{From: env.From, Participant: p}
	case EventAccept:
		var creds StageCredentials
		if len(env.Stage) > 0 {
			if err := json.Unmarshal(env.Stage, &creds); err != nil {
				return UnrecognizedFrame{Raw: raw, Reason: "accept with malformed credentials"}
			}
		}
		return AcceptFrame{From: env.From, To: env.To, Stage: creds}
	case EventAccepted:
		p, ok := decodeParticipant(env.Participant)
		if !ok {
			return UnrecognizedFrame{Raw: raw, Reason: "accepted without participant"}
		}
		return AcceptedFrame{From: env.From, Participant: p}
	case EventReject:
		return RejectFrame{From: env.From, To: env.To}
	case EventRejected:
		p, ok := decodeParticipant(env.Participant)
		if !ok {
			return UnrecognizedFrame{Raw: raw, Reason: "rejected without participant"}
		}
		return RejectedFrame{From: env.From, Participant: p}
	case EventKick:
		return KickFrame{From: env.From, To: env.To}
	case EventKicked:
		p, ok := decodeParticipant(env.Participant)
		if !ok {
			return UnrecognizedFrame{Raw: raw, Reason: "kicked without participant"}
		}
		return KickedFrame{From: env.From, Participant: p}
	case EventLeave:
		p, ok := decodeParticipant(env.Participant)
		if !ok {
			// The leaving client may be gone before filling the payload in;
			// fall back to the sender address.
			p = models.Participant{ID: env.From}
		}
		return LeaveFrame{From: env.From, Participant: p}
	default:
		return UnrecognizedFrame{Raw: raw, Reason: "unknown event " + env.Event}
	}
}

func decodeParticipant(raw json.RawMessage) (models.Participant, bool) {
	if len(raw) == 0 {
		return models.Participant{}, false
	}
	var p models.Participant
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		return models.Participant{}, false
	}
	return p, true
}

// Encode renders a typed frame back to its wire envelope. The zero To on a
// broadcast frame means "to the room"; the server fans it out.
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(EncodeEnvelope(f))
}

// EncodeEnvelope builds the envelope for a typed frame.
func EncodeEnvelope(f Frame) Envelope {
	switch v := f.(type) {
	case AskToJoinFrame:
		return Envelope{Type: TypeGroupchat, Event: EventAskToJoin, From: v.From, Participant: marshalParticipant(v.Participant)}
	case AcceptFrame:
		stage, _ := json.Marshal(v.Stage)
		return Envelope{Type: TypeEvent, Event: EventAccept, From: v.From, To: v.To, Stage: stage}
	case AcceptedFrame:
		return Envelope{Type: TypeGroupchat, Event: EventAccepted, From: v.From, Participant: marshalParticipant(v.Participant)}
	case RejectFrame:
		return Envelope{Type: TypeEvent, Event: EventReject, From: v.From, To: v.To}
	case RejectedFrame:
		return Envelope{Type: TypeGroupchat, Event: EventRejected, From: v.From, Participant: marshalParticipant(v.Participant)}
	case KickFrame:
		return Envelope{Type: TypeEvent, Event: EventKick, From: v.From, To: v.To}
	case KickedFrame:
		return Envelope{Type: TypeGroupchat, Event: EventKicked, From: v.From, Participant: marshalParticipant(v.Participant)}
	case LeaveFrame:
		return Envelope{Type: TypeGroupchat, Event: EventLeave, From: v.From, Participant: marshalParticipant(v.Participant)}
	case ChatFrame:
		env := Envelope{Type: TypeGroupchat, From: v.From, Body: v.Body}
		if v.History {
			sentAt := v.SentAt
			env.Delay = &sentAt
		}
		return env
	case SubjectFrame:
		return Envelope{Type: TypeGroupchat, Subject: v.Subject}
	case HistoryCompleteFrame:
		return Envelope{Type: TypeGroupchat, EndOfReplay: true}
	case PresenceFrame:
		return Envelope{
			Type: TypePresence,
			From: v.Address,
			Presence: &PresenceInfo{
				Kind:        v.Kind,
				Name:        v.Name,
				Affiliation: v.Affiliation,
				OnStage:     v.OnStage,
			},
		}
	case UnrecognizedFrame:
		return Envelope{}
	default:
		return Envelope{}
	}
}

func marshalParticipant(p models.Participant) json.RawMessage {
	raw, _ := json.Marshal(p)
	return raw
}
