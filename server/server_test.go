package server

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hitme/clock"
	"hitme/db"
	"hitme/engine"
	"hitme/models"
	"hitme/protocol"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// setupTestServer creates a server on a fresh database with a fake clock.
func setupTestServer(t *testing.T) (*Server, *clock.Fake) {
	t.Helper()
	return setupTestServerAt(t, filepath.Join(t.TempDir(), "test.db"))
}

func setupTestServerAt(t *testing.T, path string) (*Server, *clock.Fake) {
	t.Helper()
	database, err := db.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	clk := clock.NewFake(t0)
	srv := New(database, &ServerConfig{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,
		Modes:        []string{"work", "family", "social"},
		Clock:        clk,
	})
	return srv, clk
}

// testClient simulates a client over net.Pipe.
type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func connect(t *testing.T, srv *Server) *testClient {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	go srv.handleConnection(serverConn)
	t.Cleanup(func() { clientConn.Close() })
	return &testClient{t: t, conn: clientConn, r: bufio.NewReader(clientConn)}
}

// login registers user directly in the database and authenticates.
func login(t *testing.T, srv *Server, user string) *testClient {
	t.Helper()
	require.NoError(t, srv.db.CreateUser(user, "pw"))
	c := connect(t, srv)
	c.expect("auth|"+user+"|pw", "ok|auth")
	return c
}

func (c *testClient) send(request string) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := c.conn.Write([]byte(request + "\n"))
	require.NoError(c.t, err)
}

func (c *testClient) read() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimRight(line, "\r\n")
}

func (c *testClient) call(request string) string {
	c.t.Helper()
	c.send(request)
	return c.read()
}

func (c *testClient) expect(request, want string) {
	c.t.Helper()
	assert.Equal(c.t, want, c.call(request), request)
}

// items parses a list reply with headLen head fields.
func items(t *testing.T, line string, headLen int) [][]string {
	t.Helper()
	_, _, got, err := protocol.ParseList(line, headLen)
	require.NoError(t, err)
	return got
}

func column(rows [][]string, i int) []string {
	var out []string
	for _, r := range rows {
		out = append(out, r[i])
	}
	return out
}

func hit(t *testing.T, c *testClient, request string) string {
	t.Helper()
	reply := c.call(request)
	require.True(t, strings.HasPrefix(reply, "ok|hit|"), reply)
	return strings.TrimPrefix(reply, "ok|hit|")
}

func TestPing(t *testing.T) {
	srv, _ := setupTestServer(t)
	c := connect(t, srv)
	c.expect("ping", "pong")
}

func TestRegisterAndAuth(t *testing.T) {
	srv, _ := setupTestServer(t)
	c := connect(t, srv)

	c.expect("reg|ann|secret", "ok|reg")
	c.expect("reg|ann|secret", "fail|reg|User already exists")
	c.expect("reg|ann", "fail|reg|Invalid data")
	c.expect("auth|ann|wrong", "fail|auth|Invalid credentials")
	c.expect("auth|ann|secret", "ok|auth")
	c.expect("auth|ann|secret", "ok|auth")

	assert.True(t, srv.isOnline("ann"))
}

func TestUnauthenticatedAccess(t *testing.T) {
	srv, _ := setupTestServer(t)
	c := connect(t, srv)

	for _, cmd := range []string{"list", "hit|bob", "views", "live|10", "tick"} {
		op := strings.SplitN(cmd, "|", 2)[0]
		c.expect(cmd, "fail|"+op+"|Not authenticated")
	}
	c.expect("nope", "fail|Unknown packet type")
	c.expect("|x", "fail|Invalid packet format")
}

func TestHelp(t *testing.T) {
	srv, _ := setupTestServer(t)
	c := connect(t, srv)

	reply := c.call("help")
	require.True(t, strings.HasPrefix(reply, "help|ping,reg,auth"), reply)
	assert.Contains(t, reply, ",rmov,")
	assert.Contains(t, reply, ",tick")
}

func TestBye(t *testing.T) {
	srv, _ := setupTestServer(t)
	c := login(t, srv, "ann")

	c.expect("bye", "bye")
	require.Eventually(t, func() bool { return !srv.isOnline("ann") }, 2*time.Second, 10*time.Millisecond)
}

func TestProfileAndPreference(t *testing.T) {
	srv, _ := setupTestServer(t)
	c := login(t, srv, "ann")

	c.expect("prof", "prof|ann|||")
	c.expect("prof|Ann A|555|", "prof|ann|Ann A|555|")
	c.expect("me", "me|ann|false|30|false|")
	c.expect("onb", "ok|onb")
	c.expect("pref", "pref|30")
	c.expect("pref|45", "ok|pref")
	c.expect("pref|-1", "fail|pref|Invalid duration")
	c.expect("pref", "pref|45")
	c.expect("me", "me|ann|true|45|false|")
}

func TestContactsAndRanking(t *testing.T) {
	srv, _ := setupTestServer(t)
	c := login(t, srv, "ann")

	c.expect("add|dan|Dan||work", "ok|add")
	c.expect("add|bob|bob||work family", "ok|add")
	c.expect("add|cat|Cat|555|work", "ok|add")
	c.expect("add|cat|Again", "fail|add|Contact already exists")
	c.expect("add|ann", "fail|add|Cannot add yourself")

	// no mode: alphabetical, case-insensitive
	rows := items(t, c.call("list"), 0)
	assert.Equal(t, []string{"bob", "cat", "dan"}, column(rows, 0))
	assert.Equal(t, []string{"555"}, column(rows[1:2], 2))
	assert.Equal(t, "work family", rows[0][3])

	c.expect("rank|work", "fail|rank|Unknown mode")
	c.expect("rinit", "ok|rinit")
	c.expect("rank|work", "rank|work|dan,bob,cat")
	c.expect("rank|family", "rank|family|bob")
	c.expect("rank|social", "rank|social|")
	c.expect("rank", "rank||work,family,social")

	c.expect("rmov|work|cat|dan|bob", "ok|rmov")
	c.expect("rmov|work|cat|dan", "fail|rmov|Invalid order")
	c.expect("rmov|work|cat|dan|zed", "fail|rmov|Invalid order")
	c.expect("rmov|nomode|cat", "fail|rmov|Invalid order")
	assert.Equal(t, []string{"cat", "dan", "bob"}, column(items(t, c.call("list|work"), 0), 0))

	c.expect("ren|cat|Catherine", "ok|ren")
	c.expect("ren|zed|Z", "fail|ren|Contact not found")
	c.expect("tag|dan|family", "ok|tag")
	// dan left work but is still ranked there; the ranking only orders members
	assert.Equal(t, []string{"cat", "bob"}, column(items(t, c.call("list|work"), 0), 0))

	c.expect("del|cat", "ok|del")
	c.expect("del|cat", "fail|del|Contact not found")
	c.expect("rank|work", "rank|work|dan,bob")
}

func TestHitDeliveredAndMirrored(t *testing.T) {
	srv, _ := setupTestServer(t)
	bob := login(t, srv, "bob")
	ann := login(t, srv, "ann")

	ann.expect("add|bob|Bob", "ok|add")
	ann.expect("hit|zed|hi", "fail|hit|Contact not found")
	ann.expect("hit|bob|hi|urgent", "fail|hit|Invalid urgency")
	ann.expect("hit|bob|hi|high|-5", "fail|hit|Invalid duration")

	id := hit(t, ann, "hit|bob|lunch|high|30")

	push := items(t, bob.read(), 0)
	require.Len(t, push, 1)
	assert.Equal(t, []string{
		id, "ann", "bob", "lunch", "high", "pending",
		protocol.FormatTime(t0), protocol.FormatTime(t0.Add(30 * time.Minute)),
	}, push[0])

	inbox := items(t, bob.call("inbox"), 0)
	require.Len(t, inbox, 1)
	assert.Equal(t, id, inbox[0][0])

	ann.expect("edit|"+id+"|dinner||fav", "ok|edit")
	upd := items(t, bob.read(), 0)
	require.Len(t, upd, 1)
	assert.Equal(t, "dinner", upd[0][3])
	assert.Equal(t, "", upd[0][7])

	ann.send("views")
	assert.Equal(t, []string{id}, column(items(t, ann.read(), 1), 0))
	assert.Equal(t, "view|active|", ann.read())
	assert.Equal(t, "view|expired|", ann.read())

	ann.expect("rst|"+id+"|completed", "ok|rst")
	upd = items(t, bob.read(), 0)
	assert.Equal(t, "completed", upd[0][5])
	bob.expect("inbox", "inbox|")

	ann.expect("rdel|"+id, "ok|rdel")
	assert.Equal(t, "rdel|"+id, bob.read())
	ann.expect("rdel|"+id, "fail|rdel|Request not found")

	st, err := srv.State("bob")
	require.NoError(t, err)
	assert.Empty(t, st.Inbound)
}

func TestDismissedCopyStaysDismissed(t *testing.T) {
	srv, _ := setupTestServer(t)
	bob := login(t, srv, "bob")
	ann := login(t, srv, "ann")
	ann.expect("add|bob", "ok|add")

	id := hit(t, ann, "hit|bob|call me")
	bob.read()

	bob.expect("dism|"+id, "ok|dism")
	bob.expect("dism|"+id+"x", "fail|dism|Request not found")
	bob.expect("inbox", "inbox|")

	ann.expect("edit|"+id+"|call me now", "ok|edit")
	upd := items(t, bob.read(), 0)
	assert.Equal(t, "dismissed", upd[0][5])
	bob.expect("inbox", "inbox|")

	// the sender's own request is untouched by the dismissal
	ann.send("views")
	assert.Equal(t, []string{id}, column(items(t, ann.read(), 1), 0))
	ann.read()
	ann.read()
}

func TestSweepExpiresAndExtend(t *testing.T) {
	srv, clk := setupTestServer(t)
	ann := login(t, srv, "ann")
	ann.expect("add|zed", "ok|add")

	id := hit(t, ann, "hit|zed|soon|low|30")
	fav := hit(t, ann, "hit|zed|whenever|medium|")

	clk.Advance(31 * time.Minute)
	assert.Equal(t, 1, srv.SweepAll())
	assert.Equal(t, "exp|"+id+"|out", ann.read())
	assert.Equal(t, 0, srv.SweepAll())

	ann.send("views")
	assert.Equal(t, []string{fav}, column(items(t, ann.read(), 1), 0))
	assert.Equal(t, "view|active|", ann.read())
	assert.Equal(t, []string{id}, column(items(t, ann.read(), 1), 0))

	ann.expect("ext|"+fav, "ok|ext")
	ann.expect("ext|"+id, "ok|ext|"+protocol.FormatTime(t0.Add(31*time.Minute+time.Hour)))

	ann.send("views")
	ann.read()
	assert.Equal(t, []string{id}, column(items(t, ann.read(), 1), 0))
	assert.Equal(t, "view|expired|", ann.read())

	// favorites survive any amount of time
	clk.Advance(72 * time.Hour)
	srv.SweepAll()
	assert.Equal(t, "exp|"+id+"|out", ann.read())
	ann.send("views")
	assert.Equal(t, []string{fav}, column(items(t, ann.read(), 1), 0))
	ann.read()
	ann.read()
}

func TestSweepMirrorsExpiryToReceiver(t *testing.T) {
	srv, clk := setupTestServer(t)
	ann := login(t, srv, "ann")
	ann.expect("add|bob", "ok|add")
	require.NoError(t, srv.db.CreateUser("bob", "pw"))

	id := hit(t, ann, "hit|bob|soon|low|5")

	clk.Advance(10 * time.Minute)
	srv.SweepAll()
	assert.Equal(t, "exp|"+id+"|out", ann.read())

	st, err := srv.State("bob")
	require.NoError(t, err)
	require.Len(t, st.Inbound, 1)
	assert.Equal(t, "expired", string(st.Inbound[0].Status))
}

func TestCompletedCopySurvivesSenderChanges(t *testing.T) {
	srv, clk := setupTestServer(t)
	bob := login(t, srv, "bob")
	ann := login(t, srv, "ann")
	ann.expect("add|bob", "ok|add")

	id := hit(t, ann, "hit|bob|soon|low|5")
	bob.read()
	bob.expect("rst|"+id+"|completed", "ok|rst")

	ann.expect("edit|"+id+"|new topic", "ok|edit")
	upd := items(t, bob.read(), 0)
	require.Len(t, upd, 1)
	assert.Equal(t, "new topic", upd[0][3])
	assert.Equal(t, "completed", upd[0][5])

	clk.Advance(10 * time.Minute)
	srv.SweepAll()
	assert.Equal(t, "exp|"+id+"|out", ann.read())
	upd = items(t, bob.read(), 0)
	assert.Equal(t, "completed", upd[0][5])

	ann.expect("ext|"+id, "ok|ext|"+protocol.FormatTime(t0.Add(10*time.Minute+time.Hour)))
	upd = items(t, bob.read(), 0)
	assert.Equal(t, "completed", upd[0][5])

	st, err := srv.State("bob")
	require.NoError(t, err)
	require.Len(t, st.Inbound, 1)
	assert.Equal(t, models.StatusCompleted, st.Inbound[0].Status)
}

func TestExtendRevivesReceiverCopy(t *testing.T) {
	srv, clk := setupTestServer(t)
	ann := login(t, srv, "ann")
	ann.expect("add|bob", "ok|add")
	require.NoError(t, srv.db.CreateUser("bob", "pw"))

	id := hit(t, ann, "hit|bob|soon|low|5")
	clk.Advance(10 * time.Minute)
	srv.SweepAll()
	assert.Equal(t, "exp|"+id+"|out", ann.read())

	// an edit alone does not bring the copy back
	ann.expect("edit|"+id+"|later", "ok|edit")
	st, err := srv.State("bob")
	require.NoError(t, err)
	require.Len(t, st.Inbound, 1)
	assert.Equal(t, models.StatusExpired, st.Inbound[0].Status)
	assert.Equal(t, "later", st.Inbound[0].Topic)

	ann.expect("ext|"+id, "ok|ext|"+protocol.FormatTime(t0.Add(10*time.Minute+time.Hour)))
	st, err = srv.State("bob")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, st.Inbound[0].Status)
	require.NotNil(t, st.Inbound[0].ExpiresAt)
	assert.True(t, st.Inbound[0].ExpiresAt.Equal(t0.Add(10*time.Minute+time.Hour)))
}

func TestDeleteContactWithdrawsReceiverCopies(t *testing.T) {
	srv, _ := setupTestServer(t)
	bob := login(t, srv, "bob")
	ann := login(t, srv, "ann")
	ann.expect("add|bob", "ok|add")
	bob.expect("add|ann", "ok|add")

	id := hit(t, ann, "hit|bob|fav|high|")
	bob.read()
	back := hit(t, bob, "hit|ann|hey")
	ann.read()

	ann.expect("del|bob", "ok|del")
	assert.Equal(t, "rdel|"+id, bob.read())
	bob.expect("inbox", "inbox|")

	st, err := srv.State("bob")
	require.NoError(t, err)
	assert.Empty(t, st.Inbound)
	require.Len(t, st.Outbound, 1)
	assert.Equal(t, back, st.Outbound[0].ID)

	st, err = srv.State("ann")
	require.NoError(t, err)
	assert.Empty(t, st.Outbound)
	assert.Empty(t, st.Inbound)
}

func TestLiveSession(t *testing.T) {
	srv, clk := setupTestServer(t)
	bob := login(t, srv, "bob")
	ann := login(t, srv, "ann")

	ann.expect("add|bob|Bob||work", "ok|add")
	bob.expect("add|ann|Ann||work", "ok|add")

	id := hit(t, bob, "hit|ann|catch up|high|120")
	push := items(t, ann.read(), 0)
	require.Equal(t, id, push[0][0])

	ann.expect("live|0", "fail|live|Invalid duration")
	end := protocol.FormatTime(t0.Add(30 * time.Minute))
	ann.expect("live|30|work", "ok|live|"+end)
	assert.Equal(t, "live|ann|"+end, bob.read())

	ann.expect("tick", "tick|1800000")
	ann.expect("me", "me|ann|false|30|true|"+end)

	clk.Advance(30*time.Minute - time.Millisecond)
	ann.expect("tick", "tick|1")

	clk.Advance(2 * time.Millisecond)
	srv.TickAll()
	assert.Equal(t, "unlive|ann", ann.read())
	assert.Equal(t, "unlive|ann", bob.read())

	ann.expect("tick", "tick|0")
	ann.expect("off", "ok|off")
	ann.expect("me", "me|ann|false|30|false|")
}

func TestLiveUsesPreferenceAndOffline(t *testing.T) {
	srv, _ := setupTestServer(t)
	ann := login(t, srv, "ann")

	ann.expect("pref|45", "ok|pref")
	ann.expect("live", "ok|live|"+protocol.FormatTime(t0.Add(45*time.Minute)))
	ann.expect("live|10", "ok|live|"+protocol.FormatTime(t0.Add(10*time.Minute)))

	ann.expect("off", "ok|off")
	assert.Equal(t, "unlive|ann", ann.read())
}

func TestStatus(t *testing.T) {
	srv, _ := setupTestServer(t)
	login(t, srv, "bob")
	ann := login(t, srv, "ann")

	ann.expect("add|bob", "ok|add")
	ann.expect("add|zed", "ok|add")

	reply := ann.call("stat|bob")
	assert.True(t, strings.HasPrefix(reply, "stat|bob|on|"), reply)
	ann.expect("stat|nobody", "fail|stat|User not found")

	rows := items(t, ann.call("stat"), 0)
	assert.Equal(t, []string{"bob"}, column(rows, 0))
}

func TestPresenceNotifiesContacts(t *testing.T) {
	srv, clk := setupTestServer(t)
	bob := login(t, srv, "bob")
	require.NoError(t, srv.db.CreateUser("ann", "pw"))

	err := srv.withAccount("ann", func(e *engine.Engine) { e.AddContact(models.Contact{ID: "bob"}) })
	require.NoError(t, err)
	bob.expect("add|ann", "ok|add")

	ann := connect(t, srv)
	ann.expect("auth|ann|pw", "ok|auth")
	assert.Equal(t, "on|ann|"+protocol.FormatTime(t0), bob.read())

	clk.Advance(time.Minute)
	ann.expect("bye", "bye")
	assert.Equal(t, "off|ann|"+protocol.FormatTime(t0.Add(time.Minute)), bob.read())

	st, err := srv.State("bob")
	require.NoError(t, err)
	require.NotNil(t, st.Contacts[0].LastOnline)
	assert.Equal(t, t0, *st.Contacts[0].LastOnline)
	assert.Equal(t, t0.Add(time.Minute), *st.Contacts[0].LastSeen)
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	srv, _ := setupTestServerAt(t, path)
	ann := login(t, srv, "ann")
	ann.expect("add|bob|Bob||work", "ok|add")
	id := hit(t, ann, "hit|bob|later|high|")

	restarted, _ := setupTestServerAt(t, path)
	st, err := restarted.State("ann")
	require.NoError(t, err)
	require.Len(t, st.Contacts, 1)
	assert.Equal(t, "Bob", st.Contacts[0].Name)
	require.Len(t, st.Outbound, 1)
	assert.Equal(t, id, st.Outbound[0].ID)
	assert.Nil(t, st.Outbound[0].ExpiresAt)
}

func controlCall(t *testing.T, srv *Server, command string, onShutdown func()) string {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	go srv.handleControlCommand(serverConn, onShutdown)

	clientConn.SetDeadline(time.Now().Add(5 * time.Second))
	_, err := clientConn.Write([]byte(command + "\n"))
	require.NoError(t, err)
	line, err := bufio.NewReader(clientConn).ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\n")
}

func TestControlCommands(t *testing.T) {
	srv, clk := setupTestServer(t)
	ann := login(t, srv, "ann")
	ann.expect("add|zed", "ok|add")
	hit(t, ann, "hit|zed|x|low|1")

	assert.Equal(t, "OK|connections=1,accounts=1,users=ann", controlCall(t, srv, "stats", nil))

	clk.Advance(2 * time.Minute)
	assert.Equal(t, "OK|1", controlCall(t, srv, "sweep", nil))
	ann.read()

	path := filepath.Join(t.TempDir(), "ann.yaml")
	assert.Equal(t, "OK|"+path, controlCall(t, srv, "export|ann|"+path, nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "status: expired")

	assert.Equal(t, "ERROR|User not found", controlCall(t, srv, "export|nobody|"+path, nil))
	assert.True(t, strings.HasPrefix(controlCall(t, srv, "export|ann|"+path+"|xml", nil), "ERROR|"))
	assert.Equal(t, "ERROR|Unknown command", controlCall(t, srv, "reboot", nil))
}

func TestControlShutdown(t *testing.T) {
	srv, _ := setupTestServer(t)
	ann := login(t, srv, "ann")

	done := make(chan struct{})
	assert.Equal(t, "OK|Shutting down", controlCall(t, srv, "shutdown|restart|2024-03-01T13:00:00Z", func() { close(done) }))

	assert.Equal(t, "bye|restart|2024-03-01T13:00:00Z", ann.read())
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown callback not called")
	}
	assert.False(t, srv.isOnline("ann"))
}
