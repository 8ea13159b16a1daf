package chat

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/stargate/pkg/httputil"
)

// Dispatcher receives decoded group events.
type Dispatcher interface {
	HandleJoin(ctx context.Context, groupID, userID string)
	HandleMessage(ctx context.Context, groupID, senderID, text string, mentions []string)
	HandleDeparture(ctx context.Context, userID string)
}

// EventServer receives OneBot event callbacks over HTTP and dispatches them
// into the verification coordinator. Dispatch is asynchronous so slow
// downstream action calls never stall the gateway's callback delivery.
type EventServer struct {
	dispatcher  Dispatcher
	accessToken string
	logger      *logrus.Logger

	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewEventServer creates an EventServer. baseCtx bounds the lifetime of
// asynchronous event handling; cancel it on shutdown.
func NewEventServer(baseCtx context.Context, dispatcher Dispatcher, accessToken string, logger *logrus.Logger) *EventServer {
	if logger == nil {
		logger = logrus.New()
	}
	return &EventServer{
		dispatcher:  dispatcher,
		accessToken: accessToken,
		baseCtx:     baseCtx,
		logger:      logger,
	}
}

// RegisterRoutes registers the event callback endpoint on the router.
func (s *EventServer) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/onebot/events", s.handleEvent).Methods("POST")
}

// Wait blocks until all in-flight event handlers have finished.
func (s *EventServer) Wait() {
	s.wg.Wait()
}

// eventPayload is the subset of the OneBot event schema the gate acts on.
// Numeric IDs are decoded as json.Number so both string and integer forms
// pass through unchanged.
type eventPayload struct {
	PostType    string      `json:"post_type"`
	MessageType string      `json:"message_type"`
	NoticeType  string      `json:"notice_type"`
	GroupID     json.Number `json:"group_id"`
	UserID      json.Number `json:"user_id"`
	RawMessage  string      `json:"raw_message"`
}

func (s *EventServer) handleEvent(w http.ResponseWriter, r *http.Request) {
	if s.accessToken != "" {
		auth := r.Header.Get("Authorization")
		want := "Bearer " + s.accessToken
		if subtle.ConstantTimeCompare([]byte(auth), []byte(want)) != 1 {
			httputil.WriteUnauthorized(w, "invalid access token")
			return
		}
	}

	var event eventPayload
	if !httputil.ParseJSONOrError(w, r, &event) {
		return
	}

	groupID := event.GroupID.String()
	userID := event.UserID.String()

	switch {
	case event.PostType == "notice" && event.NoticeType == "group_increase":
		s.dispatch(func(ctx context.Context) {
			s.dispatcher.HandleJoin(ctx, groupID, userID)
		})
	case event.PostType == "notice" && event.NoticeType == "group_decrease":
		s.dispatch(func(ctx context.Context) {
			s.dispatcher.HandleDeparture(ctx, userID)
		})
	case event.PostType == "message" && event.MessageType == "group":
		text, mentions := splitMentions(event.RawMessage)
		s.dispatch(func(ctx context.Context) {
			s.dispatcher.HandleMessage(ctx, groupID, userID, text, mentions)
		})
	default:
		// Heartbeats, private messages and other event types are not ours.
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *EventServer) dispatch(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.baseCtx)
	}()
}

var (
	atSegmentRe = regexp.MustCompile(`\[CQ:at,qq=([0-9]+)\]`)
	cqSegmentRe = regexp.MustCompile(`\[CQ:[^\]]*\]`)
)

// splitMentions extracts @-mention targets from a raw message and returns
// the message text with every CQ segment removed.
func splitMentions(raw string) (text string, mentions []string) {
	for _, m := range atSegmentRe.FindAllStringSubmatch(raw, -1) {
		mentions = append(mentions, m[1])
	}
	text = cqSegmentRe.ReplaceAllString(raw, " ")
	return strings.TrimSpace(text), mentions
}
