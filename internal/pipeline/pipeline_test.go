package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/teadesk-bot/internal/blob"
	"github.com/xaenox/teadesk-bot/internal/classifier"
	"github.com/xaenox/teadesk-bot/internal/conversation"
	"github.com/xaenox/teadesk-bot/internal/dedup"
	"github.com/xaenox/teadesk-bot/internal/directory"
	"github.com/xaenox/teadesk-bot/internal/models"
	"github.com/xaenox/teadesk-bot/internal/queries"
	"github.com/xaenox/teadesk-bot/internal/ratelimit"
	"github.com/xaenox/teadesk-bot/internal/router"
	"github.com/xaenox/teadesk-bot/internal/storage"
	"github.com/xaenox/teadesk-bot/internal/telemetry"
)

type outMsg struct {
	to   models.Sender
	text string
	file string
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []outMsg
	fail bool
}

func (f *fakeTransport) SendText(ctx context.Context, to models.Sender, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("transport down")
	}
	f.sent = append(f.sent, outMsg{to: to, text: text})
	return nil
}

func (f *fakeTransport) SendFile(ctx context.Context, to models.Sender, name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, outMsg{to: to, file: name, text: string(data)})
	return nil
}

func (f *fakeTransport) to(s models.Sender) []outMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []outMsg
	for _, m := range f.sent {
		if m.to == s {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) last(s models.Sender) string {
	msgs := f.to(s)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].text
}

type fakeStaff struct{}

var staff = []models.StaffMember{
	{ID: "staff-1", Name: "Nimal", Department: "Accounts"},
}

func (fakeStaff) Members(ctx context.Context, department string) []models.StaffMember {
	if strings.EqualFold(department, "accounts") {
		return staff
	}
	return nil
}

func (fakeStaff) Departments() []string {
	return []string{"Accounts"}
}

type failingSource struct{}

func (failingSource) Query(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	return nil, errors.New("sheets unavailable")
}

type fakeSource struct{}

func (fakeSource) Query(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	return [][]string{
		{"Sale", "Code", "Name", "Elevation", "Quantity", "Average"},
		{"45", "MF0235", "Kenmare", "UH", "2000", "1200"},
	}, nil
}

type fakeBlobs struct{}

func (fakeBlobs) Search(ctx context.Context, query string) ([]blob.File, error) {
	return blob.Match([]blob.File{{Name: "reports/Market_Report_Sale_045.pdf"}}, query), nil
}

func (fakeBlobs) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("report-bytes")), nil
}

type panicQueries struct{ queries.Service }

func (*panicQueries) Factory(ctx context.Context, e models.EntitySet) (string, error) {
	panic("boom")
}

type harness struct {
	h         *Handler
	transport *fakeTransport
	now       time.Time
	ts        time.Time
}

func newHarness(t *testing.T, quota uint) *harness {
	t.Helper()
	hs := &harness{
		transport: &fakeTransport{},
		now:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	hs.ts = hs.now
	clock := func() time.Time { return hs.now }

	hs.h = New(Deps{
		Limiter:    ratelimit.New(time.Minute, quota).WithClock(clock),
		Dedup:      dedup.New(time.Hour).WithClock(clock),
		State:      conversation.New(24*time.Hour, 5*time.Minute).WithClock(clock),
		Classifier: classifier.New(),
		Router:     router.New(fakeStaff{}, hs.transport, 24*time.Hour, 50, nil).WithClock(clock),
		Directory:  fakeStaff{},
		Queries:    queries.NewService(fakeSource{}, fakeBlobs{}, "sheet", "Market!A:F", nil),
		Responder:  staticResponder("hi there!"),
		Telemetry:  telemetry.New(nil, nil, 0, 0, nil),
		Transport:  hs.transport,
	})
	return hs
}

type staticResponder string

func (s staticResponder) Reply(ctx context.Context, text string) (string, error) {
	return string(s), nil
}

// msg builds an event with a fresh transport timestamp.
func (hs *harness) msg(sender models.Sender, text string) models.InboundMessage {
	hs.ts = hs.ts.Add(time.Second)
	return models.InboundMessage{Sender: sender, DisplayName: "Saman", Text: text, SentAt: hs.ts}
}

func (hs *harness) send(sender models.Sender, text string) {
	hs.h.Handle(context.Background(), hs.msg(sender, text))
}

// greet stamps the welcome so later assertions only see the real answer.
func (hs *harness) greet(sender models.Sender) {
	hs.h.State.ShouldSendWelcome(sender)
}

func TestHandle_FactoryQuery(t *testing.T) {
	hs := newHarness(t, 15)

	hs.send("c1", "MF 0235 average")

	msgs := hs.transport.to("c1")
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].text, "Welcome")
	assert.Equal(t, "Sale 045\nMF0235 Kenmare (UH): avg 1200.00 on 2000 kg", msgs[1].text)

	st := hs.h.Telemetry.Stats()
	assert.Equal(t, uint64(1), st.SuccessCount)
	assert.Equal(t, models.IntentFactoryQuery, st.TopIntents[0].Intent)
}

func TestHandle_ValidationFailureIsCounted(t *testing.T) {
	hs := newHarness(t, 15)
	hs.greet("c1")

	hs.send("c1", "MF12 price")
	assert.Contains(t, hs.transport.last("c1"), "MF12 doesn't look like a factory code")

	hs.send("c1", "MF0235 and MF12 average")
	assert.Contains(t, hs.transport.last("c1"), "MF12 doesn't look like a factory code")

	hs.send("c1", "I need to talk to a department")
	assert.Equal(t, "Which department would you like to reach? Accounts.", hs.transport.last("c1"))

	st := hs.h.Telemetry.Stats()
	assert.Equal(t, uint64(3), st.FailCount)
}

func TestHandle_MuteIgnoresUntilUnmute(t *testing.T) {
	hs := newHarness(t, 15)
	hs.greet("c1")

	hs.send("c1", "mute bot")
	assert.Equal(t, mutedText, hs.transport.last("c1"))
	assert.False(t, hs.h.State.IsActive("c1"))

	before := len(hs.transport.to("c1"))
	hs.send("c1", "MF 0235 average")
	hs.send("c1", "hello")
	assert.Len(t, hs.transport.to("c1"), before, "muted sender gets no response")

	st, _ := hs.h.State.Get("c1")
	assert.Equal(t, uint64(2), st.IgnoredCount)

	hs.send("c1", "unmute bot")
	assert.True(t, hs.h.State.IsActive("c1"))
	assert.Equal(t, unmutedText, hs.transport.last("c1"))
}

func TestHandle_ReplayIsSuppressed(t *testing.T) {
	hs := newHarness(t, 15)
	hs.greet("c1")

	event := hs.msg("c1", "help")
	hs.h.Handle(context.Background(), event)
	hs.h.Handle(context.Background(), event)

	assert.Len(t, hs.transport.to("c1"), 1)
	assert.Equal(t, uint64(1), hs.h.Telemetry.Stats().TotalMessages)

	// Same text with a new transport timestamp is processed again.
	hs.send("c1", "help")
	assert.Len(t, hs.transport.to("c1"), 2)
}

func TestHandle_RateLimitWarnsOnce(t *testing.T) {
	hs := newHarness(t, 2)
	hs.greet("c1")

	hs.send("c1", "help")
	hs.send("c1", "help")
	hs.send("c1", "help")
	hs.send("c1", "help")

	msgs := hs.transport.to("c1")
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[2].text, "too quickly")

	hs.now = hs.now.Add(61 * time.Second)
	hs.send("c1", "help")
	assert.Equal(t, helpText, hs.transport.last("c1"))
}

func TestHandle_StaffReplyCorrelation(t *testing.T) {
	hs := newHarness(t, 15)
	hs.greet("c1")
	hs.greet("staff-1")

	hs.send("c1", "Need invoice for May")
	assert.Contains(t, hs.transport.last("c1"), "forwarded to Accounts")
	assert.Equal(t, router.FormatForward("Accounts", "Saman", "Need invoice for May"), hs.transport.last("staff-1"))

	reply := hs.msg("staff-1", "Invoice sent to your email")
	reply.HasQuote = true
	reply.QuotedText = "Need invoice for May..."
	hs.h.Handle(context.Background(), reply)

	assert.Equal(t, "💬 Nimal (Accounts):\nInvoice sent to your email", hs.transport.last("c1"))
	assert.Empty(t, hs.h.Router.Tickets())

	// A second reply against the consumed ticket falls through to classification.
	again := hs.msg("staff-1", "Invoice sent to your email")
	again.HasQuote = true
	again.QuotedText = "Need invoice for May..."
	clientMsgs := len(hs.transport.to("c1"))
	hs.h.Handle(context.Background(), again)
	assert.Len(t, hs.transport.to("c1"), clientMsgs)

	st := hs.h.Telemetry.Stats()
	assert.Equal(t, uint64(3), st.TotalMessages)
}

func TestHandle_AskDepartmentFallsBackToKnownNames(t *testing.T) {
	hs := newHarness(t, 15)
	hs.greet("c1")
	hs.h.Directory = directory.New(failingSource{}, "sheet", "Staff!A:C", time.Minute, nil)

	hs.send("c1", "I need to talk to a department")
	assert.Equal(t, "Which department would you like to reach? Valuation, Accounts, IT, Marketing.", hs.transport.last("c1"))
}

func TestHandle_RestoredTicketWithoutDirectory(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()

	before := newHarness(t, 15)
	before.greet("c1")
	before.send("c1", "Need invoice for May")
	require.Len(t, before.h.Router.Tickets(), 1)
	require.NoError(t, before.h.Router.Save(ctx, store))

	// After a restart the staff sheet cannot be read.
	hs := newHarness(t, 15)
	dir := directory.New(failingSource{}, "sheet", "Staff!A:C", time.Minute, nil)
	hs.h.Router = router.New(dir, hs.transport, 24*time.Hour, 50, nil).WithClock(func() time.Time { return hs.now })
	hs.h.Directory = dir
	require.NoError(t, hs.h.Router.Load(ctx, store))

	reply := hs.msg("staff-1", "Invoice sent to your email")
	reply.HasQuote = true
	reply.QuotedText = router.FormatForward("Accounts", "Saman", "Need invoice for May")
	hs.h.Handle(ctx, reply)

	assert.Empty(t, hs.h.Router.Tickets())
	assert.Equal(t, "💬 Nimal (Accounts):\nInvoice sent to your email", hs.transport.last("c1"))
	assert.Equal(t, "✅ Reply delivered to Saman.", hs.transport.last("staff-1"))
}

func TestHandle_ClientQuoteIsNotCorrelated(t *testing.T) {
	hs := newHarness(t, 15)
	hs.greet("c1")
	hs.greet("c2")

	hs.send("c1", "Need invoice for May")
	m := hs.msg("c2", "Need invoice for May")
	m.HasQuote = true
	m.QuotedText = "Need invoice for May"
	hs.h.Handle(context.Background(), m)

	assert.Len(t, hs.h.Router.Tickets(), 2, "c2 opened its own ticket instead of consuming c1's")
}

func TestHandle_GeneralIsThrottled(t *testing.T) {
	hs := newHarness(t, 15)

	hs.send("c1", "qwerty")
	require.Len(t, hs.transport.to("c1"), 1, "welcome replaces the hint")

	hs.send("c1", "asdf")
	assert.Len(t, hs.transport.to("c1"), 1)

	hs.now = hs.now.Add(5 * time.Minute)
	hs.send("c1", "zxcv")
	assert.Equal(t, generalHint, hs.transport.last("c1"))
}

func TestHandle_CasualAndContact(t *testing.T) {
	hs := newHarness(t, 15)
	hs.greet("c1")

	hs.send("c1", "hello there")
	assert.Equal(t, "hi there!", hs.transport.last("c1"))

	hs.send("c1", "what is your phone number")
	assert.Equal(t, defaultContactInfo, hs.transport.last("c1"))
}

func TestHandle_MarketReportSendsFile(t *testing.T) {
	hs := newHarness(t, 15)
	hs.greet("c1")

	hs.send("c1", "market report sale 45")
	msgs := hs.transport.to("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "Market_Report_Sale_045.pdf", msgs[0].file)
	assert.Equal(t, "report-bytes", msgs[0].text)
}

func TestHandle_PanicIsRecovered(t *testing.T) {
	hs := newHarness(t, 15)
	hs.greet("c1")
	hs.h.Queries = &panicQueries{}

	require.NotPanics(t, func() { hs.send("c1", "MF 0235 average") })
	assert.Equal(t, apologyText, hs.transport.last("c1"))
	assert.Equal(t, uint64(1), hs.h.Telemetry.Stats().FailCount)

	hs.send("c1", "help")
	assert.Equal(t, helpText, hs.transport.last("c1"), "pipeline stays live")
}

func TestHandle_TransportFailureKeepsState(t *testing.T) {
	hs := newHarness(t, 15)
	hs.greet("c1")
	hs.transport.fail = true

	hs.send("c1", "Need invoice for May")
	assert.Empty(t, hs.h.Router.Tickets())
	assert.Equal(t, uint64(1), hs.h.Telemetry.Stats().FailCount)
	assert.True(t, hs.h.State.ShouldRespondToGeneral("c1"), "failed sends do not stamp a response")
}

func TestHandle_Commands(t *testing.T) {
	hs := newHarness(t, 15)

	hs.send("c1", "/start")
	assert.Contains(t, hs.transport.last("c1"), "Welcome")

	hs.send("c1", "/help@TeaDeskBot")
	assert.Equal(t, helpText, hs.transport.last("c1"))

	hs.send("c1", "/mute")
	n := len(hs.transport.to("c1"))
	hs.send("c1", "/status")
	assert.Len(t, hs.transport.to("c1"), n, "commands other than unmute are ignored while muted")

	hs.send("c1", "/unmute")
	assert.Equal(t, unmutedText, hs.transport.last("c1"))

	hs.send("c1", "/status")
	assert.Contains(t, hs.transport.last("c1"), "Online")

	hs.send("c1", "/bogus")
	assert.True(t, strings.HasPrefix(hs.transport.last("c1"), unknownCommandText))
}

func TestHandle_GroupAndSelfAreFiltered(t *testing.T) {
	hs := newHarness(t, 15)

	g := hs.msg("c1", "help")
	g.IsGroup = true
	hs.h.Handle(context.Background(), g)

	s := hs.msg("c1", "help")
	s.IsSelf = true
	hs.h.Handle(context.Background(), s)

	assert.Empty(t, hs.transport.to("c1"))
	_, seen := hs.h.State.Get("c1")
	assert.False(t, seen)
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "help", commandName("/help"))
	assert.Equal(t, "start", commandName(" /Start@TeaDeskBot now"))
	assert.Equal(t, "", commandName(""))
}
