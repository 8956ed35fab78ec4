package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"github.com/wfunc/coin-hopper/internal/engine"
)

type fakeSource struct {
	balance int64
}

func (f *fakeSource) Balance() int64 { return f.balance }

func (f *fakeSource) Status() engine.PayoutStatus {
	return engine.PayoutStatus{State: engine.StateIdle}
}

// HubTestSuite Hub测试套件
type HubTestSuite struct {
	suite.Suite
	hub    *Hub
	server *httptest.Server
	cancel context.CancelFunc
}

func (s *HubTestSuite) SetupTest() {
	s.hub = NewHub(DefaultConfig(), &fakeSource{balance: 40}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.hub.Run(ctx)
	s.server = httptest.NewServer(httpHandler(s.hub))
}

func (s *HubTestSuite) TearDownTest() {
	s.server.Close()
	s.cancel()
}

func (s *HubTestSuite) dial() *websocket.Conn {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	return conn
}

func (s *HubTestSuite) read(conn *websocket.Conn) Message {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	s.Require().NoError(conn.ReadJSON(&msg))
	return msg
}

func (s *HubTestSuite) TestConnectedSnapshot() {
	conn := s.dial()
	defer conn.Close()

	msg := s.read(conn)
	s.Equal(MessageTypeConnected, msg.Type)

	var snap Snapshot
	s.Require().NoError(json.Unmarshal(msg.Data, &snap))
	s.Equal(int64(40), snap.Balance)
	s.Equal(engine.StateIdle, snap.Payout.State)
	s.NotEmpty(snap.ClientID)

	s.Eventually(func() bool { return s.hub.GetOnlineCount() == 1 }, time.Second, 10*time.Millisecond)
}

func (s *HubTestSuite) TestBalanceUpdateBroadcast() {
	a := s.dial()
	defer a.Close()
	b := s.dial()
	defer b.Close()
	s.read(a)
	s.read(b)
	s.Eventually(func() bool { return s.hub.GetOnlineCount() == 2 }, time.Second, 10*time.Millisecond)

	s.hub.OnEvent(engine.Event{Seq: 7, Type: engine.EventCreditChanged, Balance: 60, Delta: 20, Pulses: 2})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := s.read(conn)
		s.Equal(MessageTypeBalanceUpdate, msg.Type)
		s.Equal(uint64(7), msg.Seq)
		var data map[string]interface{}
		s.Require().NoError(json.Unmarshal(msg.Data, &data))
		s.EqualValues(60, data["balance"])
		s.EqualValues(20, data["delta"])
	}
}

func (s *HubTestSuite) TestPayoutMessages() {
	conn := s.dial()
	defer conn.Close()
	s.read(conn)
	s.Eventually(func() bool { return s.hub.GetOnlineCount() == 1 }, time.Second, 10*time.Millisecond)

	s.hub.OnEvent(engine.Event{
		Type:    engine.EventPayoutStalled,
		Balance: 30,
		Delta:   -10,
		Result:  &engine.PayoutResult{ID: "p1", Dispensed: 1, Outcome: engine.OutcomeStalled},
	})

	msg := s.read(conn)
	s.Equal(MessageTypePayoutStalled, msg.Type)
	var res engine.PayoutResult
	s.Require().NoError(json.Unmarshal(msg.Data, &res))
	s.Equal("p1", res.ID)

	msg = s.read(conn)
	s.Equal(MessageTypeBalanceUpdate, msg.Type)

	s.hub.OnEvent(engine.Event{Type: engine.EventPayoutCompleted, Balance: 0, Result: &engine.PayoutResult{ID: "p2"}})
	s.Equal(MessageTypePayoutComplete, s.read(conn).Type)
}

func (s *HubTestSuite) TestPingPongAndSnapshotRequest() {
	conn := s.dial()
	defer conn.Close()
	s.read(conn)

	s.Require().NoError(conn.WriteJSON(Message{Type: MessageTypePing}))
	s.Equal(MessageTypePong, s.read(conn).Type)

	s.Require().NoError(conn.WriteJSON(Message{Type: MessageTypeSnapshot}))
	s.Equal(MessageTypeSnapshot, s.read(conn).Type)

	s.Require().NoError(conn.WriteJSON(Message{Type: "spin"}))
	s.Equal(MessageTypeError, s.read(conn).Type)
}

func (s *HubTestSuite) TestInvalidJSONDisconnects() {
	conn := s.dial()
	defer conn.Close()
	s.read(conn)

	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	s.Equal(MessageTypeError, s.read(conn).Type)

	// 错误消息之后是正常关闭帧
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	s.True(websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	s.Eventually(func() bool { return s.hub.GetOnlineCount() == 0 }, time.Second, 10*time.Millisecond)
}

func (s *HubTestSuite) TestShutdownClosesClients() {
	conn := s.dial()
	defer conn.Close()
	s.read(conn)

	s.cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	s.Error(err)
}

func TestHubSuite(t *testing.T) {
	suite.Run(t, new(HubTestSuite))
}

func httpHandler(h *Hub) http.Handler {
	return http.HandlerFunc(h.ServeWS)
}
