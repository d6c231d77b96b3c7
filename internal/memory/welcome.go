package memory

import (
	"context"
	"fmt"

	"github.com/youlab/tutord/internal/blockstore"
)

// welcomeBlock is one seeded onboarding template.
type welcomeBlock struct {
	Label string
	Title string
	Body  string
}

// welcomeBlocks are written for every new user on first contact. Order
// matters: it is the order the onboarding flow walks them.
var welcomeBlocks = []welcomeBlock{
	{
		Label: "origin_story",
		Title: "Origin Story",
		Body: `Where this student comes from and what brought them here.

- Background: (not yet recorded)
- What led them to seek tutoring: (not yet recorded)
- Early experiences with learning: (not yet recorded)

Fill this in as the student shares their story.`,
	},
	{
		Label: "tech_relationship",
		Title: "Tech Relationship",
		Body: `How the student relates to technology and digital tools.

- Comfort level with technology: (not yet recorded)
- Tools they use daily: (not yet recorded)
- Frustrations or anxieties: (not yet recorded)

Update as the student reveals how they work with technology.`,
	},
	{
		Label: "ai_partnership",
		Title: "Ai Partnership",
		Body: `How the student wants to work with an AI tutor.

- Preferred interaction style: (not yet recorded)
- Boundaries they have set: (not yet recorded)
- What they hope AI can help with: (not yet recorded)

Record preferences the student expresses about working together.`,
	},
	{
		Label: "onboarding_progress",
		Title: "Onboarding Progress",
		Body: `Tracks how far the student has come through onboarding.

- [ ] Introduced themselves
- [ ] Shared their origin story
- [ ] Discussed their relationship with technology
- [ ] Agreed on how to work with the AI tutor

Check items off as each conversation covers them.`,
	},
}

// EnsureWelcomeBlocks seeds the onboarding blocks for a new user.
// Idempotent: if the user already has any block, nothing is written.
// Returns whether seeding occurred.
func (b *Builder) EnsureWelcomeBlocks(ctx context.Context, userID string) (bool, error) {
	if b.blocks.UserExists(userID) {
		existing, err := b.blocks.ListBlocks(ctx, userID)
		if err != nil {
			return false, err
		}
		if len(existing) > 0 {
			return false, nil
		}
	}
	for _, wb := range welcomeBlocks {
		_, err := b.blocks.WriteBlock(ctx, userID, wb.Label, wb.Body, blockstore.WriteOptions{
			Title:   wb.Title,
			Author:  blockstore.AuthorSystem,
			Message: fmt.Sprintf("Seed welcome block %s", wb.Label),
		})
		if err != nil {
			return false, fmt.Errorf("seed block %s: %w", wb.Label, err)
		}
	}
	return true, nil
}

// WelcomeLabels returns the seeded labels in onboarding order.
func WelcomeLabels() []string {
	labels := make([]string, len(welcomeBlocks))
	for i, wb := range welcomeBlocks {
		labels[i] = wb.Label
	}
	return labels
}
