package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/poapbot/internal/mint"
	"github.com/zulandar/poapbot/internal/models"
)

// ColorMint is the accent color of mint cards.
const ColorMint = "#0099ff"

const (
	cardFooter = "POAP Bot"
	galleryURL = "https://poap.gallery/event/%d"
	scanURL    = "https://app.poap.xyz/scan/%s"
)

// MintCard renders a minted token.
func MintCard(n mint.Notice, now time.Time) Card {
	ev := n.Token.Event
	title := ev.Name
	if title == "" {
		title = fmt.Sprintf("POAP #%s", n.Token.TokenID)
	}

	owner := n.Account.DisplayName()
	if owner == "" {
		owner = n.Token.Owner
	}
	body := fmt.Sprintf("[%s](%s) just minted this POAP.", owner, fmt.Sprintf(scanURL, n.Token.Owner))

	c := Card{
		Title:    title,
		Body:     body,
		ImageURL: ev.ImageURL,
		Color:    ColorMint,
		Footer:   cardFooter,
		Time:     now,
		Fields: []Field{
			{Name: "Token", Value: "#" + n.Token.TokenID, Inline: true},
		},
	}
	if ev.ID != 0 {
		c.URL = fmt.Sprintf(galleryURL, ev.ID)
	}
	if n.Token.Supply > 0 {
		c.Fields = append(c.Fields, Field{Name: "Supply", Value: fmt.Sprintf("%d", n.Token.Supply), Inline: true})
	}
	if loc := location(ev.City, ev.Country); loc != "" {
		c.Fields = append(c.Fields, Field{Name: "Where", Value: loc, Inline: true})
	}
	return c
}

func location(city, country string) string {
	switch {
	case city != "" && country != "":
		return city + ", " + country
	case city != "":
		return city
	default:
		return country
	}
}

// EventStatus is the claim progress of one stored event.
type EventStatus struct {
	Event   models.Event
	Total   int
	Claimed int
}

// formatStatus renders the guild event listing of the status command. The
// pass is never shown since the listing is posted in a public channel.
func formatStatus(guildName string, evs []EventStatus, now time.Time, layout string) string {
	if len(evs) == 0 {
		return fmt.Sprintf("No events are configured for %s yet. Run the setup command to create one.", guildName)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Events in %s**\n", guildName)
	for _, st := range evs {
		ev := st.Event
		fmt.Fprintf(&b, "%s #%d in <#%s>: %s → %s UTC, %d/%d codes claimed",
			phaseLabel(ev, now), ev.ID, ev.ChannelID,
			ev.StartDate.UTC().Format(layout), ev.EndDate.UTC().Format(layout),
			st.Claimed, st.Total)
		if ev.CreatedByName != "" {
			fmt.Fprintf(&b, " (by %s)", ev.CreatedByName)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func phaseLabel(ev models.Event, now time.Time) string {
	switch {
	case now.Before(ev.StartDate):
		return "⏳ upcoming"
	case now.Before(ev.EndDate):
		return "🟢 live"
	default:
		return "⚪ ended"
	}
}

// truncate returns s truncated to maxLen runes with "..." appended if needed.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
