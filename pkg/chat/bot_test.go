package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	action string
	auth   string
	params map[string]any
}

// gatewayStub fakes the OneBot HTTP action API.
type gatewayStub struct {
	mu      sync.Mutex
	calls   []recordedCall
	respond map[string]string // action -> data JSON
	retcode int
}

func (g *gatewayStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params map[string]any
		json.NewDecoder(r.Body).Decode(&params)

		action := r.URL.Path[1:]
		g.mu.Lock()
		g.calls = append(g.calls, recordedCall{
			action: action,
			auth:   r.Header.Get("Authorization"),
			params: params,
		})
		data, ok := g.respond[action]
		retcode := g.retcode
		g.mu.Unlock()

		if !ok {
			data = "null"
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","retcode":` + itoa(retcode) + `,"data":` + data + `}`))
	})
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func (g *gatewayStub) lastCall(t *testing.T) recordedCall {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.calls)
	return g.calls[len(g.calls)-1]
}

func newTestBot(t *testing.T, stub *gatewayStub) *Bot {
	t.Helper()
	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewBot(BotOptions{
		APIURL:      server.URL,
		AccessToken: "secret-token",
		SelfID:      "10001",
		Logger:      logger,
	})
}

func TestSendGroupMessage(t *testing.T) {
	stub := &gatewayStub{respond: map[string]string{}}
	bot := newTestBot(t, stub)

	require.NoError(t, bot.SendGroupMessage(context.Background(), "42", "hello"))

	call := stub.lastCall(t)
	assert.Equal(t, "send_group_msg", call.action)
	assert.Equal(t, "Bearer secret-token", call.auth)
	assert.Equal(t, "42", call.params["group_id"])
	assert.Equal(t, "hello", call.params["message"])
}

func TestKickMember(t *testing.T) {
	stub := &gatewayStub{respond: map[string]string{}}
	bot := newTestBot(t, stub)

	require.NoError(t, bot.KickMember(context.Background(), "42", "7"))

	call := stub.lastCall(t)
	assert.Equal(t, "set_group_kick", call.action)
	assert.Equal(t, "7", call.params["user_id"])
	assert.Equal(t, false, call.params["reject_add_request"])
}

func TestMemberDisplayNameFallbacks(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"card wins", `{"card":"Team Alice","nickname":"alice"}`, "Team Alice"},
		{"nickname next", `{"card":"","nickname":"alice"}`, "alice"},
		{"user id last", `{"card":"","nickname":""}`, "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &gatewayStub{respond: map[string]string{"get_group_member_info": tt.data}}
			bot := newTestBot(t, stub)

			name, err := bot.MemberDisplayName(context.Background(), "42", "7")
			require.NoError(t, err)
			assert.Equal(t, tt.want, name)
		})
	}
}

func TestSelfIsAdmin(t *testing.T) {
	for role, want := range map[string]bool{"owner": true, "admin": true, "member": false} {
		stub := &gatewayStub{respond: map[string]string{
			"get_group_member_info": `{"card":"","nickname":"bot","role":"` + role + `"}`,
		}}
		bot := newTestBot(t, stub)

		isAdmin, err := bot.SelfIsAdmin(context.Background(), "42")
		require.NoError(t, err)
		assert.Equal(t, want, isAdmin, "role %s", role)

		// The lookup must be for the bot's own ID.
		assert.Equal(t, "10001", stub.lastCall(t).params["user_id"])
	}
}

func TestNonZeroRetcodeIsError(t *testing.T) {
	stub := &gatewayStub{respond: map[string]string{}, retcode: 100}
	bot := newTestBot(t, stub)

	err := bot.SendGroupMessage(context.Background(), "42", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retcode=100")
}

func TestGatewayErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	bot := NewBot(BotOptions{APIURL: server.URL, SelfID: "10001"})
	err := bot.SendGroupMessage(context.Background(), "42", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestMention(t *testing.T) {
	bot := NewBot(BotOptions{SelfID: "10001"})
	assert.Equal(t, "[CQ:at,qq=7]", bot.Mention("7"))
}
