// Package memory renders student memory blocks into the prompt section
// consumed by agents, and seeds the onboarding blocks for new users.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/youlab/tutord/internal/apperr"
	"github.com/youlab/tutord/internal/blockstore"
)

// Builder reads blocks and produces prompt context.
type Builder struct {
	blocks *blockstore.Store
}

// NewBuilder creates a Builder over the given block store.
func NewBuilder(blocks *blockstore.Store) *Builder {
	return &Builder{blocks: blocks}
}

// BuildContext renders the student memory section. The format is a
// stable contract; downstream prompts depend on it byte for byte. When
// labels is non-empty only those blocks are included, in the given
// order. Returns the empty string when no blocks match.
func (b *Builder) BuildContext(ctx context.Context, userID string, labels []string) (string, error) {
	var selected []string
	if len(labels) > 0 {
		selected = labels
	} else {
		all, err := b.blocks.ListBlocks(ctx, userID)
		if err != nil {
			if apperr.Is(err, apperr.CodeUserNotFound) {
				return "", nil
			}
			return "", err
		}
		selected = all
	}

	var sb strings.Builder
	count := 0
	for _, label := range selected {
		block, err := b.blocks.ReadBlock(ctx, userID, label)
		if err != nil {
			if apperr.Is(err, apperr.CodeBlockNotFound) || apperr.Is(err, apperr.CodeUserNotFound) {
				continue
			}
			return "", err
		}
		if count == 0 {
			sb.WriteString("## Student Memory\n")
		}
		fmt.Fprintf(&sb, "\n### %s (label: `%s`)\n\n%s\n", block.Title, block.Label, strings.TrimRight(block.Body, "\n"))
		count++
	}
	if count == 0 {
		return "", nil
	}
	return sb.String(), nil
}
