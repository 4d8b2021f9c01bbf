package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"github.com/codeclash/proctor/activity"
	"github.com/codeclash/proctor/logger"
)

// Handler receives inbound signaling events addressed to this participant.
// Each inbound frame is dispatched as one typed call; handlers must not
// assume any ordering across different senders.
type Handler interface {
	HandleRemoteOffer(sender string, sdp webrtc.SessionDescription)
	HandleRemoteIceCandidate(sender string, candidate webrtc.ICECandidateInit)
}

// Client is the participant's end of the signaling channel. Sends are safe
// for concurrent use. A send failure is logged and the frame dropped, never
// escalated into a session failure.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	contestID string
	userID    string
	sessionID string
}

// Dial connects to the relay's participant endpoint and announces the
// session with a join-contest frame.
func Dial(ctx context.Context, wsURL string, token string, join JoinContest) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("signaling dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("signaling dial failed: %w", err)
	}

	c := &Client{
		conn:      conn,
		contestID: join.ContestID,
		userID:    join.UserID,
		sessionID: join.SessionID,
	}
	if err := c.send(MsgTypeJoinContest, join); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) send(msgType string, data any) error {
	msg, err := NewMessage(msgType, data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msgType, err)
	}
	return nil
}

func (c *Client) SendAnswer(target string, sdp webrtc.SessionDescription) error {
	return c.send(MsgTypeAnswer, Answer{Target: target, Payload: sdp})
}

func (c *Client) SendICECandidate(target string, candidate webrtc.ICECandidateInit) error {
	return c.send(MsgTypeIceCandidate, IceCandidate{Target: target, Candidate: candidate})
}

func (c *Client) SendActivity(ev activity.Event) error {
	return c.send(MsgTypeActivity, Activity{
		ContestID: c.contestID,
		SessionID: c.sessionID,
		Event:     ev,
	})
}

// Listen runs the read loop until the connection closes or ctx is done.
// Malformed frames are logged and skipped; they never tear the channel down.
func (c *Client) Listen(ctx context.Context, h Handler) error {
	log := logger.FromContext(ctx)

	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("signaling read failed: %w", err)
		}

		switch msg.Type {
		case MsgTypeOffer:
			var offer Offer
			if err := json.Unmarshal(msg.Data, &offer); err != nil {
				log.Warn("dropping malformed offer", "error", err)
				continue
			}
			h.HandleRemoteOffer(offer.Sender, offer.Payload)
		case MsgTypeIceCandidate:
			var cand IceCandidate
			if err := json.Unmarshal(msg.Data, &cand); err != nil {
				log.Warn("dropping malformed ice candidate", "error", err)
				continue
			}
			h.HandleRemoteIceCandidate(cand.Sender, cand.Candidate)
		default:
			log.Debug("ignoring signaling frame", "type", msg.Type)
		}
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}
