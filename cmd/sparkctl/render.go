package main

import (
	"fmt"

	"github.com/DoyleJ11/spark-client/internal/controller"
	"github.com/DoyleJ11/spark-client/internal/engine"
)

// render prints what changed between snapshots.
func render(snaps <-chan controller.Snapshot) {
	var prev engine.State
	for snap := range snaps {
		for _, line := range diff(prev, snap.State) {
			fmt.Println(line)
		}
		prev = snap.State
	}
}

func diff(prev, cur engine.State) []string {
	var out []string

	if cur.Phase != prev.Phase {
		switch cur.Phase {
		case engine.PhaseIdle:
			out = append(out, "* idle")
		case engine.PhaseSearching:
			out = append(out, "* searching for a match...")
		case engine.PhaseMatched:
			out = append(out, fmt.Sprintf("* waiting for someone to join (you are %s)", cur.Role))
		case engine.PhaseInSession:
			out = append(out, fmt.Sprintf("* chatting with %s", cur.Session.PartnerName()))
		}
	} else if cur.Phase == engine.PhaseInSession && prev.Session.PartnerName() != cur.Session.PartnerName() {
		out = append(out, fmt.Sprintf("* chatting with %s", cur.Session.PartnerName()))
	}

	if cur.Phase == engine.PhaseSearching && cur.TimeRemaining != prev.TimeRemaining {
		out = append(out, fmt.Sprintf("  %ds elapsed, %ds left", cur.TimeElapsed, cur.TimeRemaining))
	}

	// Messages only ever grow within a session.
	if len(cur.Messages) > len(prev.Messages) {
		start := len(prev.Messages)
		if prev.Session == nil || cur.Session == nil || prev.Session.ID != cur.Session.ID {
			start = 0
		}
		for _, m := range cur.Messages[start:] {
			if m.IsSystem {
				out = append(out, "  -- "+m.Content)
				continue
			}
			out = append(out, fmt.Sprintf("  <%s> %s", m.AuthorUID, m.Content))
		}
	}

	if cur.Interaction.PartnerLiked && !prev.Interaction.PartnerLiked {
		out = append(out, "  your match liked you")
	}
	if cur.PendingChatID != "" && prev.PendingChatID == "" {
		out = append(out, "  it's a match! type 'continue' to open the chat or 'keep' to keep matching")
	}
	if cur.Error != "" && cur.Error != prev.Error {
		out = append(out, "! "+cur.Error)
	}
	if cur.Navigate != "" && cur.Navigate != prev.Navigate {
		out = append(out, "-> "+cur.Navigate)
	}
	return out
}
