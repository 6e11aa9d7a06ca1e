package usecase

import (
	"fmt"
	"strings"

	"shopassist/internal/domain/entity"
)

// BuildInstructions renders the system instruction for a shop's assistant.
func BuildInstructions(settings entity.AssistantSettings) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the shopping assistant of the online store %q.\n", settings.Shop)
	if settings.Personality != "" {
		fmt.Fprintf(&b, "Personality: %s.\n", settings.Personality)
	}
	if settings.ResponseStyle != "" {
		fmt.Fprintf(&b, "Response style: %s.\n", settings.ResponseStyle)
	}
	if settings.Language != "" && settings.Language != "auto" {
		fmt.Fprintf(&b, "Always answer in %s.\n", settings.Language)
	} else {
		b.WriteString("Answer in the language the shopper writes in.\n")
	}
	b.WriteString("Only state facts found in the store knowledge. When you suggest products, " +
		"call recommend_products with their ids. If you cannot help, offer to connect the shopper with the store team.")
	return b.String()
}
