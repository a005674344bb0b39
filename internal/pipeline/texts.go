package pipeline

import (
	"fmt"
	"strings"

	"github.com/xaenox/teadesk-bot/internal/models"
)

const (
	welcomeText = `Welcome to the tea desk! 🍃
I can answer market questions and put you in touch with our team.`

	helpText = `Here's what you can ask me:
- Factory averages: "MF0235 average sale 45"
- Elevation prices: "UH elevation average sale 45"
- Market report: "market report sale 45"
- Talk to a department: "Need invoice for May" (Valuation, Accounts, IT, Marketing)
- "mute bot" / "unmute bot" to pause or resume me

Commands: /help /status /mute /unmute`

	generalHint = `I'm not sure what you need. Type "help" to see what I can do.`

	controlHint = `Send "mute bot" to pause me or "unmute bot" to turn me back on.`

	mutedText   = `🔕 Bot muted. Send "unmute bot" whenever you want me back.`
	unmutedText = `🔔 Welcome back! I'm listening again.`

	apologyText   = `⚠️ Sorry, something went wrong while handling your message. Please try again.`
	fetchFailText = `⚠️ Sorry, I couldn't fetch that data right now. Please try again later.`

	unknownCommandText = `Unknown command.`

	defaultContactInfo = `You can reach our office during business hours, or ask me to forward your message to a department.`
)

func rateLimitText(wait int) string {
	return fmt.Sprintf("⏳ You're sending messages too quickly. Please wait %d seconds.", wait)
}

func forwardedText(department string) string {
	return fmt.Sprintf("✅ Your message was forwarded to %s. They'll reply to you here.", department)
}

func routeFailedText(department string) string {
	return fmt.Sprintf("⚠️ Sorry, I couldn't reach the %s team right now. Please try again later.", department)
}

func askDepartmentText(departments []string) string {
	return fmt.Sprintf("Which department would you like to reach? %s.", strings.Join(departments, ", "))
}

func statusText(st models.Stats) string {
	var b strings.Builder
	b.WriteString("🟢 Online\n")
	fmt.Fprintf(&b, "Messages handled: %d from %d people\n", st.TotalMessages, st.UniqueSenders)
	fmt.Fprintf(&b, "Average response: %.0f ms, error rate %.1f%%", st.AverageDurationMs, st.ErrorRate*100)
	return b.String()
}
