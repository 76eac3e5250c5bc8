package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/louisbranch/karaoke.space/internal/services/karaoke/domain/queue"
	"github.com/louisbranch/karaoke.space/internal/services/karaoke/domain/session"
)

// Inbound frame types.
const (
	frameSessionCreate  = "session.create"
	frameSessionJoin    = "session.join"
	frameSessionSummary = "session.summary"
	frameQueueSet       = "queue.set"
	frameQueueAdd       = "queue.add"
	frameQueueRemove    = "queue.remove"
	frameQueueReorder   = "queue.reorder"
	frameSongStarted    = "song.started"
	frameSongEnded      = "song.ended"
	framePlaybackPlay   = "playback.play"
	framePlaybackPause  = "playback.pause"
	framePlaybackSkip   = "playback.skip"
	frameScoreUpdate    = "score.update"
	frameScoreFeedback  = "score.feedback"
	framePing           = "ping"
)

// Outbound frame types not shared with inbound ones.
const (
	frameSessionState    = "session.state"
	frameSessionEnded    = "session.ended"
	frameQueueUpdated    = "queue.updated"
	frameSongPlaying     = "song.playing"
	frameSongFinished    = "song.finished"
	frameMemberJoined    = "member.joined"
	frameMemberLeft      = "member.left"
	framePlaybackCommand = "playback.command"
	framePong            = "pong"
	frameError           = "error"
)

var errUnsupportedFrame = errors.New("unsupported frame type")

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// command is the closed set of decoded inbound frames.
type command interface {
	isCommand()
}

type createSessionCommand struct{}

type joinSessionCommand struct {
	Code string `json:"code"`
}

type sessionSummaryCommand struct{}

type setQueueCommand struct {
	Items []queue.Item `json:"items"`
}

type addSongCommand struct {
	Song    queue.Song `json:"song"`
	AddedBy string     `json:"added_by"`
}

type removeSongCommand struct {
	ItemID string `json:"item_id"`
}

type reorderSongCommand struct {
	ItemID string `json:"item_id"`
	Index  int    `json:"index"`
}

type songStartedCommand struct {
	ItemID string `json:"item_id"`
}

type songEndedCommand struct {
	ItemID string       `json:"item_id"`
	Score  *queue.Score `json:"score,omitempty"`
}

type playbackAction string

const (
	playbackPlay  playbackAction = "play"
	playbackPause playbackAction = "pause"
	playbackSkip  playbackAction = "skip"
)

type playbackCommand struct {
	Action playbackAction
}

type scoreUpdateCommand struct {
	queue.Score
}

// scoreFeedback is live, per-phrase feedback from a member's scorer.
type scoreFeedback struct {
	PitchAccuracy float64 `json:"pitch_accuracy"`
	Timing        float64 `json:"timing"`
	Label         string  `json:"label,omitempty"`
}

type scoreFeedbackCommand struct {
	scoreFeedback
}

type pingCommand struct{}

func (createSessionCommand) isCommand()  {}
func (joinSessionCommand) isCommand()    {}
func (sessionSummaryCommand) isCommand() {}
func (setQueueCommand) isCommand()       {}
func (addSongCommand) isCommand()        {}
func (removeSongCommand) isCommand()     {}
func (reorderSongCommand) isCommand()    {}
func (songStartedCommand) isCommand()    {}
func (songEndedCommand) isCommand()      {}
func (playbackCommand) isCommand()       {}
func (scoreUpdateCommand) isCommand()    {}
func (scoreFeedbackCommand) isCommand()  {}
func (pingCommand) isCommand()           {}

func decodeCommand(frame wsFrame) (command, error) {
	switch frame.Type {
	case frameSessionCreate:
		return createSessionCommand{}, nil
	case frameSessionJoin:
		return decodeAs[joinSessionCommand](frame.Payload)
	case frameSessionSummary:
		return sessionSummaryCommand{}, nil
	case frameQueueSet:
		return decodeAs[setQueueCommand](frame.Payload)
	case frameQueueAdd:
		return decodeAs[addSongCommand](frame.Payload)
	case frameQueueRemove:
		return decodeAs[removeSongCommand](frame.Payload)
	case frameQueueReorder:
		return decodeAs[reorderSongCommand](frame.Payload)
	case frameSongStarted:
		return decodeAs[songStartedCommand](frame.Payload)
	case frameSongEnded:
		return decodeAs[songEndedCommand](frame.Payload)
	case framePlaybackPlay:
		return playbackCommand{Action: playbackPlay}, nil
	case framePlaybackPause:
		return playbackCommand{Action: playbackPause}, nil
	case framePlaybackSkip:
		return playbackCommand{Action: playbackSkip}, nil
	case frameScoreUpdate:
		return decodeAs[scoreUpdateCommand](frame.Payload)
	case frameScoreFeedback:
		return decodeAs[scoreFeedbackCommand](frame.Payload)
	case framePing:
		return pingCommand{}, nil
	default:
		return nil, errUnsupportedFrame
	}
}

func decodeAs[T command](raw json.RawMessage) (command, error) {
	var cmd T
	if len(raw) == 0 || string(raw) == "null" {
		return cmd, nil
	}
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, invalidArgument(fmt.Sprintf("invalid payload: %v", err))
	}
	return cmd, nil
}

// event is the closed set of outbound frames.
type event interface {
	eventType() string
}

type sessionStateEvent struct {
	Role         session.Role     `json:"role"`
	ConnectionID string           `json:"connection_id"`
	Session      session.Snapshot `json:"session"`
}

type sessionEndedEvent struct {
	SessionID string           `json:"session_id"`
	Reason    string           `json:"reason"`
	Summary   *session.Summary `json:"summary,omitempty"`
}

type sessionSummaryEvent struct {
	Summary session.Summary `json:"summary"`
}

type queueUpdatedEvent struct {
	Queue         []queue.Item `json:"queue"`
	CurrentItemID string       `json:"current_item_id,omitempty"`
}

type songPlayingEvent struct {
	Item queue.Item `json:"item"`
}

type songFinishedEvent struct {
	Entry queue.HistoryEntry `json:"entry"`
}

type memberJoinedEvent struct {
	MemberID    string `json:"member_id"`
	MemberCount int    `json:"member_count"`
}

type memberLeftEvent struct {
	MemberID    string `json:"member_id"`
	MemberCount int    `json:"member_count"`
}

type playbackCommandEvent struct {
	Action   playbackAction `json:"action"`
	MemberID string         `json:"member_id"`
}

type scoreUpdateEvent struct {
	MemberID string      `json:"member_id"`
	Score    queue.Score `json:"score"`
}

type scoreFeedbackEvent struct {
	MemberID string        `json:"member_id"`
	Feedback scoreFeedback `json:"feedback"`
}

type pongEvent struct {
	session.Presence
}

type errorEvent wsErrorEnvelope

func (sessionStateEvent) eventType() string    { return frameSessionState }
func (sessionEndedEvent) eventType() string    { return frameSessionEnded }
func (sessionSummaryEvent) eventType() string  { return frameSessionSummary }
func (queueUpdatedEvent) eventType() string    { return frameQueueUpdated }
func (songPlayingEvent) eventType() string     { return frameSongPlaying }
func (songFinishedEvent) eventType() string    { return frameSongFinished }
func (memberJoinedEvent) eventType() string    { return frameMemberJoined }
func (memberLeftEvent) eventType() string      { return frameMemberLeft }
func (playbackCommandEvent) eventType() string { return framePlaybackCommand }
func (scoreUpdateEvent) eventType() string     { return frameScoreUpdate }
func (scoreFeedbackEvent) eventType() string   { return frameScoreFeedback }
func (pongEvent) eventType() string            { return framePong }
func (errorEvent) eventType() string           { return frameError }

func eventFrame(requestID string, ev event) wsFrame {
	return wsFrame{
		Type:      ev.eventType(),
		RequestID: requestID,
		Payload:   mustJSON(ev),
	}
}

func queueUpdated(s *session.Session) queueUpdatedEvent {
	snap := s.Snapshot()
	return queueUpdatedEvent{Queue: snap.Queue, CurrentItemID: snap.CurrentItemID}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
