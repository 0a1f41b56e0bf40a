package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/domuslabs/smart-home/assistant-core/internal/agent"
	"github.com/domuslabs/smart-home/assistant-core/internal/events"
)

// chatKeywords maps a domain agent name to the keyword fragments that mark
// a chat turn as likely about that domain. The match is advisory: it only
// drives an "agent activating" status hint in the UI, the domain logic runs
// in the agent regardless.
var chatKeywords = map[string][]string{
	"fridge": {
		"fridge", "food", "inventory", "expir", "spoil",
		"grocery", "shopping", "staple",
		"meal", "recipe", "dinner", "lunch", "breakfast", "cook", "eat",
	},
}

// DetectAgent returns the domain agent a chat message is most likely about,
// or "" when no keyword set matches.
func DetectAgent(text string) string {
	lower := strings.ToLower(text)
	names := make([]string, 0, len(chatKeywords))
	for name := range chatKeywords {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, kw := range chatKeywords[name] {
			if strings.Contains(lower, kw) {
				return name
			}
		}
	}
	return ""
}

// HandleChat processes one user chat turn. The orchestrator owns every
// assistant-authored message; agents only contribute state it reads.
func (o *Orchestrator) HandleChat(ctx context.Context, sessionID, householdID, text string) {
	if name := DetectAgent(text); name != "" {
		hint := events.NewAgentStatus(name, events.AgentActivating, "looking into it", nil)
		if _, err := o.bus.Publish(ctx, sessionID, hint); err != nil {
			log.Printf(`{"level":"warn","component":"orchestrator","msg":"status hint publish failed","session_id":"%s","error":"%s"}`, sessionID, err)
		}
	}

	reply := o.composeReply(text, o.fridge.Inventory(householdID))
	if _, err := o.bus.Publish(ctx, sessionID, events.NewChatMessage(reply, "assistant", nil)); err != nil {
		log.Printf(`{"level":"warn","component":"orchestrator","msg":"chat reply publish failed","session_id":"%s","error":"%s"}`, sessionID, err)
	}
}

func (o *Orchestrator) composeReply(text string, inventory []agent.InventoryItem) string {
	lower := strings.ToLower(text)

	if containsAny(lower, "hello", "hi ", "hey") && len(strings.Fields(text)) < 4 {
		return "Hello! I can help you track your fridge inventory, watch expiration dates, and plan shopping. What would you like to know?"
	}
	if len(inventory) == 0 {
		return "Your fridge hasn't been scanned yet. Capture a photo and I'll take inventory."
	}
	switch {
	case containsAny(lower, "expir", "spoil", "bad", "old"):
		return expiryReply(inventory, o.clock())
	case containsAny(lower, "buy", "shopping", "staple", "missing"):
		return shoppingReply(inventory)
	default:
		return inventoryReply(inventory)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func expiryReply(inventory []agent.InventoryItem, now time.Time) string {
	var expired, soon []string
	for _, item := range inventory {
		switch {
		case item.ExpiresAt.Before(now):
			expired = append(expired, item.Name)
		case item.ExpiresAt.Before(now.AddDate(0, 0, 3)):
			soon = append(soon, item.Name)
		}
	}
	if len(expired) == 0 && len(soon) == 0 {
		return "Nothing in your fridge is expired or expiring soon."
	}
	var sb strings.Builder
	if len(expired) > 0 {
		fmt.Fprintf(&sb, "Expired, please discard: %s.\n", strings.Join(expired, ", "))
	}
	if len(soon) > 0 {
		fmt.Fprintf(&sb, "Expiring within 3 days, use these first: %s.\n", strings.Join(soon, ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func shoppingReply(inventory []agent.InventoryItem) string {
	missing := agent.MissingStaples(inventory)
	if len(missing) == 0 {
		return "You seem well stocked on the basics."
	}
	return fmt.Sprintf("Suggested shopping list: %s.", strings.Join(missing, ", "))
}

func inventoryReply(inventory []agent.InventoryItem) string {
	byCategory := make(map[agent.Category][]string)
	for _, item := range inventory {
		label := item.Name
		if item.Quantity > 1 {
			label = fmt.Sprintf("%s (x%d)", item.Name, item.Quantity)
		}
		byCategory[item.Category] = append(byCategory[item.Category], label)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Your fridge has %d items.\n", len(inventory))
	for _, c := range categories {
		fmt.Fprintf(&sb, "%s: %s\n", c, strings.Join(byCategory[agent.Category(c)], ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}
