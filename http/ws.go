package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/codeclash/proctor/httpjson"
	"github.com/codeclash/proctor/logger"
	"github.com/codeclash/proctor/signaling"
	"github.com/codeclash/proctor/srvcerror"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// origin policy is enforced by the cors middleware on the handshake
		return true
	},
}

// serveParticipantSocket upgrades the connection and hands it to the hub.
// The first frame must be join-contest; it binds the socket to a session.
func (httpserver *HttpServer) serveParticipantSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	contestID := chi.URLParam(r, "contestId")

	claims := claimsFromContext(ctx)
	if claims == nil || claims.Role != "participant" {
		httpjson.HandleError(log, w, srvcerror.ErrUnauthorized())
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}

	// the join-contest frame carries the session id the coordinator minted
	var msg signaling.Message
	if err := ws.ReadJSON(&msg); err != nil || msg.Type != signaling.MsgTypeJoinContest {
		log.Warn("participant socket closed before join-contest")
		ws.Close()
		return
	}
	var join signaling.JoinContest
	if err := json.Unmarshal(msg.Data, &join); err != nil || join.SessionID == "" {
		log.Warn("malformed join-contest frame")
		ws.Close()
		return
	}

	ctx = logger.WithContestID(ctx, contestID)
	ctx = logger.WithSessionID(ctx, join.SessionID)
	httpserver.hub.ServeParticipant(ctx, contestID, claims.UserID, join.SessionID, ws)
}

func (httpserver *HttpServer) serveProctorSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	contestID := chi.URLParam(r, "contestId")

	claims := claimsFromContext(ctx)
	if claims == nil || claims.Role != "proctor" {
		httpjson.HandleError(log, w, srvcerror.ErrUnauthorized())
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx = logger.WithContestID(ctx, contestID)
	httpserver.hub.ServeProctor(ctx, contestID, claims.UserID, ws)
}

// listParticipants is the proctor-facing readout of who is currently
// connected in a contest room.
func (httpserver *HttpServer) listParticipants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	contestID := chi.URLParam(r, "contestId")

	claims := claimsFromContext(ctx)
	if claims == nil || claims.Role != "proctor" {
		httpjson.HandleError(log, w, srvcerror.ErrUnauthorized())
		return
	}

	httpjson.WriteSuccessJson(w, map[string]any{
		"participants": httpserver.hub.Participants(contestID),
	})
}
