package server

import (
	"context"
	"errors"
	"log"
	"strings"

	apperrors "github.com/louisbranch/karaoke.space/internal/platform/errors"
	"github.com/louisbranch/karaoke.space/internal/platform/otel"
	"github.com/louisbranch/karaoke.space/internal/platform/timeouts"
	"github.com/louisbranch/karaoke.space/internal/services/karaoke/domain/queue"
	"github.com/louisbranch/karaoke.space/internal/services/karaoke/domain/session"
	"github.com/louisbranch/karaoke.space/internal/services/karaoke/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/louisbranch/karaoke.space/internal/services/karaoke/app"

	endReasonOwnerDisconnected = "owner_disconnected"
)

var (
	errOwnerOnly  = apperrors.New(apperrors.CodeForbidden, "only the session owner can do that")
	errMemberOnly = apperrors.New(apperrors.CodeForbidden, "only session members can do that")
)

func invalidArgument(message string) error {
	return apperrors.New(apperrors.CodeInvalidArgument, message)
}

// classifyError maps domain errors onto wire codes. Errors that already
// carry a code pass through; everything else is wrapped so the cause stays
// in the chain.
func classifyError(err error) *apperrors.Error {
	if e, ok := apperrors.As(err); ok {
		return e
	}
	switch {
	case errors.Is(err, errUnsupportedFrame):
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "unsupported frame type", err)
	case errors.Is(err, session.ErrSessionNotFound):
		return apperrors.Wrap(apperrors.CodeNotFound, "session not found", err)
	case errors.Is(err, queue.ErrItemNotFound):
		return apperrors.Wrap(apperrors.CodeNotFound, "queue item not found", err)
	case errors.Is(err, session.ErrConnectionAttached):
		return apperrors.Wrap(apperrors.CodeFailedPrecondition, "connection already belongs to a session", err)
	case errors.Is(err, queue.ErrSongInProgress):
		return apperrors.Wrap(apperrors.CodeFailedPrecondition, "another song is already playing", err)
	case errors.Is(err, queue.ErrItemNotWaiting):
		return apperrors.Wrap(apperrors.CodeFailedPrecondition, "queue item is not waiting", err)
	case errors.Is(err, queue.ErrItemNotPlaying):
		return apperrors.Wrap(apperrors.CodeFailedPrecondition, "queue item is not playing", err)
	case errors.Is(err, queue.ErrInvalidQueue):
		return apperrors.Wrap(apperrors.CodeInvalidArgument, err.Error(), err)
	case errors.Is(err, session.ErrSessionFull):
		return apperrors.Wrap(apperrors.CodeResourceExhausted, "session is full", err)
	case errors.Is(err, session.ErrQueueFull):
		return apperrors.Wrap(apperrors.CodeResourceExhausted, "queue is full", err)
	default:
		return apperrors.Wrap(apperrors.CodeUnknown, "internal error", err)
	}
}

// router applies inbound commands to the registry and fans out the
// resulting events. Broadcasts caused by a mutation are queued while the
// session lock is held, so every recipient sees them in mutation order.
type router struct {
	registry *session.Registry
	peers    *peerSet
	archive  storage.SessionSummaryStore
	tracer   trace.Tracer
}

func newRouter(registry *session.Registry, archive storage.SessionSummaryStore) *router {
	if registry == nil {
		registry = session.NewRegistry()
	}
	return &router{
		registry: registry,
		peers:    newPeerSet(),
		archive:  archive,
		tracer:   otel.Tracer(tracerName),
	}
}

func (rt *router) handleFrame(ctx context.Context, peer *wsPeer, frame wsFrame) {
	ctx, span := rt.tracer.Start(ctx, "karaoke."+frame.Type, trace.WithAttributes(
		attribute.String("karaoke.connection_id", peer.connID),
	))
	defer span.End()
	if snap, ok := rt.registry.ResolveSession(peer.connID); ok {
		span.SetAttributes(attribute.String("karaoke.session_id", snap.ID))
	}

	cmd, err := decodeCommand(frame)
	if err == nil {
		err = rt.dispatch(ctx, peer, frame.RequestID, cmd)
	}
	if err != nil {
		appErr := classifyError(err)
		if appErr.Code == apperrors.CodeUnknown {
			log.Printf("karaoke: frame failed type=%q conn=%q err=%v", frame.Type, peer.connID, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(appErr.Code))
		span.SetAttributes(attribute.String("karaoke.error_code", string(appErr.Code)))
		writeWSError(peer, frame.RequestID, appErr.Code, appErr.Message)
	}
}

func (rt *router) dispatch(ctx context.Context, peer *wsPeer, requestID string, cmd command) error {
	connID := peer.connID
	switch cmd := cmd.(type) {
	case createSessionCommand:
		return rt.createSession(peer, requestID)
	case joinSessionCommand:
		return rt.joinSession(peer, requestID, cmd)
	case sessionSummaryCommand:
		return rt.registry.WithSession(connID, func(s *session.Session, _ session.Role) error {
			peer.send(eventFrame(requestID, sessionSummaryEvent{Summary: s.Summary()}))
			return nil
		})
	case pingCommand:
		peer.send(eventFrame(requestID, pongEvent{Presence: rt.registry.Presence(connID)}))
		return nil
	case setQueueCommand:
		return rt.ownerOnly(connID, func(s *session.Session) error {
			if err := s.ReplaceQueue(cmd.Items); err != nil {
				return err
			}
			rt.peers.deliver(s.Members(), eventFrame("", queueUpdated(s)))
			return nil
		})
	case songStartedCommand:
		itemID := strings.TrimSpace(cmd.ItemID)
		if itemID == "" {
			return invalidArgument("item_id is required")
		}
		return rt.ownerOnly(connID, func(s *session.Session) error {
			item, err := s.StartItem(itemID)
			if err != nil {
				return err
			}
			everyone := s.Everyone()
			rt.peers.deliver(everyone, eventFrame("", songPlayingEvent{Item: item}))
			rt.peers.deliver(everyone, eventFrame("", queueUpdated(s)))
			return nil
		})
	case songEndedCommand:
		itemID := strings.TrimSpace(cmd.ItemID)
		if itemID == "" {
			return invalidArgument("item_id is required")
		}
		return rt.ownerOnly(connID, func(s *session.Session) error {
			entry, err := s.EndItem(itemID, cmd.Score)
			if err != nil {
				return err
			}
			everyone := s.Everyone()
			rt.peers.deliver(everyone, eventFrame("", songFinishedEvent{Entry: entry}))
			rt.peers.deliver(everyone, eventFrame("", queueUpdated(s)))
			return nil
		})
	case addSongCommand:
		if strings.TrimSpace(cmd.Song.Title) == "" && strings.TrimSpace(cmd.Song.ExternalID) == "" {
			return invalidArgument("song title or external_id is required")
		}
		return rt.registry.WithSession(connID, func(s *session.Session, _ session.Role) error {
			if _, err := s.AddSong(cmd.Song, connID, strings.TrimSpace(cmd.AddedBy)); err != nil {
				return err
			}
			rt.peers.deliver(s.Everyone(), eventFrame("", queueUpdated(s)))
			return nil
		})
	case removeSongCommand:
		itemID := strings.TrimSpace(cmd.ItemID)
		if itemID == "" {
			return invalidArgument("item_id is required")
		}
		return rt.registry.WithSession(connID, func(s *session.Session, _ session.Role) error {
			if !s.RemoveItem(itemID) {
				return nil
			}
			rt.peers.deliver(s.Everyone(), eventFrame("", queueUpdated(s)))
			return nil
		})
	case reorderSongCommand:
		itemID := strings.TrimSpace(cmd.ItemID)
		if itemID == "" {
			return invalidArgument("item_id is required")
		}
		return rt.registry.WithSession(connID, func(s *session.Session, _ session.Role) error {
			if err := s.ReorderItem(itemID, cmd.Index); err != nil {
				return err
			}
			rt.peers.deliver(s.Everyone(), eventFrame("", queueUpdated(s)))
			return nil
		})
	case playbackCommand:
		return rt.memberOnly(connID, func(s *session.Session) error {
			rt.peers.deliver([]string{s.OwnerID()}, eventFrame("", playbackCommandEvent{
				Action:   cmd.Action,
				MemberID: connID,
			}))
			return nil
		})
	case scoreUpdateCommand:
		return rt.memberOnly(connID, func(s *session.Session) error {
			if !s.IsPrimaryScorer(connID) {
				trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("karaoke.score_dropped", true))
				return nil
			}
			rt.peers.deliver([]string{s.OwnerID()}, eventFrame("", scoreUpdateEvent{
				MemberID: connID,
				Score:    cmd.Score,
			}))
			return nil
		})
	case scoreFeedbackCommand:
		return rt.memberOnly(connID, func(s *session.Session) error {
			if !s.IsPrimaryScorer(connID) {
				trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("karaoke.score_dropped", true))
				return nil
			}
			rt.peers.deliver([]string{s.OwnerID()}, eventFrame("", scoreFeedbackEvent{
				MemberID: connID,
				Feedback: cmd.scoreFeedback,
			}))
			return nil
		})
	default:
		return errUnsupportedFrame
	}
}

func (rt *router) createSession(peer *wsPeer, requestID string) error {
	snap, err := rt.registry.CreateSession(peer.connID)
	if err != nil {
		return err
	}
	log.Printf("karaoke: session created session=%q code=%q owner=%q", snap.ID, snap.Code, peer.connID)
	peer.send(eventFrame(requestID, sessionStateEvent{
		Role:         session.RoleOwner,
		ConnectionID: peer.connID,
		Session:      snap,
	}))
	return nil
}

func (rt *router) joinSession(peer *wsPeer, requestID string, cmd joinSessionCommand) error {
	code := strings.TrimSpace(cmd.Code)
	if code == "" {
		return invalidArgument("code is required")
	}
	_, _, err := rt.registry.JoinSession(code, peer.connID, func(s *session.Session, snap session.Snapshot, added bool) {
		peer.send(eventFrame(requestID, sessionStateEvent{
			Role:         session.RoleMember,
			ConnectionID: peer.connID,
			Session:      snap,
		}))
		if !added {
			return
		}
		log.Printf("karaoke: member joined session=%q code=%q member=%q", snap.ID, snap.Code, peer.connID)
		rt.peers.deliver(s.Except(peer.connID), eventFrame("", memberJoinedEvent{
			MemberID:    peer.connID,
			MemberCount: len(snap.Members),
		}))
	})
	return err
}

func (rt *router) ownerOnly(connID string, fn func(s *session.Session) error) error {
	return rt.registry.WithSession(connID, func(s *session.Session, role session.Role) error {
		if role != session.RoleOwner {
			return errOwnerOnly
		}
		return fn(s)
	})
}

func (rt *router) memberOnly(connID string, fn func(s *session.Session) error) error {
	return rt.registry.WithSession(connID, func(s *session.Session, role session.Role) error {
		if role != session.RoleMember {
			return errMemberOnly
		}
		return fn(s)
	})
}

// disconnect detaches connID and tells the remaining participants. An
// owner's departure ends the session for everyone and archives its summary.
func (rt *router) disconnect(ctx context.Context, connID string) {
	result := rt.registry.HandleDisconnect(connID, func(res session.DisconnectResult) {
		if res.WasOwner {
			rt.peers.deliver(res.Recipients, eventFrame("", sessionEndedEvent{
				SessionID: res.Session.ID,
				Reason:    endReasonOwnerDisconnected,
				Summary:   res.Summary,
			}))
			return
		}
		rt.peers.deliver(res.Recipients, eventFrame("", memberLeftEvent{
			MemberID:    res.RemovedMemberID,
			MemberCount: len(res.Session.Members),
		}))
	})
	if !result.Attached {
		return
	}
	if !result.WasOwner {
		log.Printf("karaoke: member left session=%q member=%q", result.Session.ID, connID)
		return
	}
	log.Printf("karaoke: session ended session=%q code=%q members=%d", result.Session.ID, result.Session.Code, len(result.Recipients))
	if rt.archive == nil || result.Summary == nil {
		return
	}

	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Shutdown)
	defer cancel()
	archiveCtx, span := rt.tracer.Start(archiveCtx, "karaoke.archive_summary", trace.WithAttributes(
		attribute.String("karaoke.session_id", result.Session.ID),
	))
	defer span.End()
	if err := rt.archive.PutSessionSummary(archiveCtx, toStoredSummary(*result.Summary)); err != nil {
		span.SetStatus(codes.Error, "archive failed")
		log.Printf("karaoke: archive summary failed session=%q err=%v", result.Session.ID, err)
	}
}

func writeWSError(peer *wsPeer, requestID string, code apperrors.Code, message string) bool {
	return peer.send(eventFrame(requestID, errorEvent{
		Error: wsError{
			Code:      string(code),
			Message:   message,
			Retryable: code.Retryable(),
		},
	}))
}
