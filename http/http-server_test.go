package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash/proctor/activity"
	"github.com/codeclash/proctor/signaling"
)

var testJwtKey = []byte("test-signing-key")

func newTestServer(t *testing.T) (*httptest.Server, *signaling.Hub) {
	t.Helper()
	hub := signaling.NewHub(activity.DiscardSink{}, nil, nil)
	srv := httptest.NewServer(NewHttpServer(hub, testJwtKey, []string{"*"}))
	t.Cleanup(srv.Close)
	return srv, hub
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func dialParticipant(t *testing.T, srv *httptest.Server, contestID, userID, sessionID string) *signaling.Client {
	t.Helper()
	token, err := GenerateJWT(userID, "participant", testJwtKey)
	require.NoError(t, err)

	client, err := signaling.Dial(context.Background(),
		wsURL(srv, "/ws/contests/"+contestID+"/participant?token="+token), "",
		signaling.JoinContest{ContestID: contestID, UserID: userID, SessionID: sessionID})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func waitForParticipant(t *testing.T, hub *signaling.Hub, contestID, userID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, uid := range hub.Participants(contestID) {
			if uid == userID {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}

func TestJwtRoundTrip(t *testing.T) {
	token, err := GenerateJWT("u1", "participant", testJwtKey)
	require.NoError(t, err)

	claims, err := ValidateJWT(token, testJwtKey)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "participant", claims.Role)

	_, err = ValidateJWT(token, []byte("wrong-key"))
	require.Error(t, err)

	_, err = ValidateJWT("not-a-token", testJwtKey)
	require.Error(t, err)
}

func TestHealthzIsOpen(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpointServes(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestParticipantSocketRequiresParticipantRole(t *testing.T) {
	srv, _ := newTestServer(t)

	// no token at all
	resp, err := http.Get(srv.URL + "/ws/contests/c1/participant")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// a proctor token on the participant endpoint
	token, err := GenerateJWT("pr1", "proctor", testJwtKey)
	require.NoError(t, err)
	resp, err = http.Get(srv.URL + "/ws/contests/c1/participant?token=" + token)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListParticipantsProctorOnly(t *testing.T) {
	srv, hub := newTestServer(t)
	dialParticipant(t, srv, "c1", "u1", "s1")
	waitForParticipant(t, hub, "c1", "u1")

	token, err := GenerateJWT("pr1", "proctor", testJwtKey)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/contests/c1/participants", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var envelope struct {
		Status string `json:"status"`
		Data   struct {
			Participants []string `json:"participants"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.Equal(t, "success", envelope.Status)
	assert.Equal(t, []string{"u1"}, envelope.Data.Participants)

	// a participant token is refused on the readout
	userToken, err := GenerateJWT("u1", "participant", testJwtKey)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+userToken)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

type recordingHandler struct {
	offers chan string
}

func (h *recordingHandler) HandleRemoteOffer(sender string, sdp webrtc.SessionDescription) {
	h.offers <- sender
}

func (h *recordingHandler) HandleRemoteIceCandidate(sender string, candidate webrtc.ICECandidateInit) {
}

func TestSignalingFlowsEndToEnd(t *testing.T) {
	srv, hub := newTestServer(t)

	client := dialParticipant(t, srv, "c1", "u1", "s1")
	waitForParticipant(t, hub, "c1", "u1")

	handler := &recordingHandler{offers: make(chan string, 1)}
	listenCtx, cancelListen := context.WithCancel(context.Background())
	defer cancelListen()
	go client.Listen(listenCtx, handler)

	proctorToken, err := GenerateJWT("pr1", "proctor", testJwtKey)
	require.NoError(t, err)
	proctorWS, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/contests/c1/proctor?token="+proctorToken), nil)
	require.NoError(t, err)
	defer proctorWS.Close()

	// presence snapshot for the already-connected participant
	require.NoError(t, proctorWS.SetReadDeadline(time.Now().Add(3*time.Second)))
	var presence signaling.Message
	require.NoError(t, proctorWS.ReadJSON(&presence))
	require.Equal(t, signaling.MsgTypeParticipantJoin, presence.Type)

	offer, err := signaling.NewMessage(signaling.MsgTypeOffer, signaling.Offer{
		Target:  "u1",
		Payload: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
	})
	require.NoError(t, err)
	require.NoError(t, proctorWS.WriteJSON(offer))

	select {
	case sender := <-handler.offers:
		assert.Equal(t, "pr1", sender)
	case <-time.After(3 * time.Second):
		t.Fatal("offer never reached the participant handler")
	}

	// activity rides the same socket without disturbing negotiation
	require.NoError(t, client.SendActivity(activity.New(activity.TypeTabSwitch, nil)))
}
