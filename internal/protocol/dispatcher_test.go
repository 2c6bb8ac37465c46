package protocol

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/zoravur/realtime-chat/internal/chat"
	"github.com/zoravur/realtime-chat/internal/registry"
)

type sent struct {
	event   string
	payload any
}

type conn struct{ out []sent }

func (c *conn) ID() string { return "c1" }
func (c *conn) Send(event string, payload any) error {
	c.out = append(c.out, sent{event, payload})
	return nil
}

type fakeService struct {
	calls   []string
	sendErr error
}

func (f *fakeService) Join(_ context.Context, _ registry.Conn, userID, channelID string) error {
	f.calls = append(f.calls, "join "+userID+" "+channelID)
	return nil
}

func (f *fakeService) Leave(connID, channelID string) bool {
	f.calls = append(f.calls, "leave "+connID+" "+channelID)
	return true
}

func (f *fakeService) Send(_ context.Context, channelID, senderID, content string) (chat.Message, error) {
	f.calls = append(f.calls, "send "+channelID+" "+senderID+" "+content)
	return chat.Message{}, f.sendErr
}

func (f *fakeService) MarkRead(_ context.Context, userID, channelID string) (int64, error) {
	f.calls = append(f.calls, "read "+userID+" "+channelID)
	return 0, nil
}

func TestDispatchRoutesEvents(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"join", `{"type":"joinChannel","data":{"userId":"u1","channelId":"general"}}`, "join u1 general"},
		{"send", `{"type":"sendMessage","data":{"channelId":"general","message":"hi","senderId":"u1"}}`, "send general u1 hi"},
		{"read", `{"type":"markAsRead","data":{"userId":"u2","channelId":"general"}}`, "read u2 general"},
		{"leave", `{"type":"leaveChannel","data":{"channelId":"general"}}`, "leave c1 general"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			c := &conn{}
			NewDispatcher(svc, zaptest.NewLogger(t)).HandleMessage(context.Background(), c, []byte(tt.raw))
			if len(svc.calls) != 1 || svc.calls[0] != tt.want {
				t.Fatalf("calls = %v, want %q", svc.calls, tt.want)
			}
			if len(c.out) != 0 {
				t.Fatalf("unexpected replies %+v", c.out)
			}
		})
	}
}

func TestDispatchReportsErrorsToCaller(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		sendErr error
		event   string
		code    int
	}{
		{"not json", `{nope`, nil, "", 400},
		{"unknown event", `{"type":"JoinChannel","data":{}}`, nil, "JoinChannel", 400},
		{"missing data", `{"type":"markAsRead"}`, nil, EventMarkAsRead, 400},
		{"validation", `{"type":"sendMessage","data":{"channelId":"g","senderId":"u"}}`, chat.Invalid("message", "is empty"), EventSendMessage, 400},
		{"store down", `{"type":"sendMessage","data":{"channelId":"g","message":"x","senderId":"u"}}`, chat.Persistence("createMessage", errors.New("timeout")), EventSendMessage, 503},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &conn{}
			NewDispatcher(&fakeService{sendErr: tt.sendErr}, zaptest.NewLogger(t)).
				HandleMessage(context.Background(), c, []byte(tt.raw))
			if len(c.out) != 1 || c.out[0].event != EventError {
				t.Fatalf("replies = %+v", c.out)
			}
			p := c.out[0].payload.(ErrorPayload)
			if p.Event != tt.event || p.Code != tt.code {
				t.Fatalf("payload = %+v, want event %q code %d", p, tt.event, tt.code)
			}
		})
	}
}
