package rag

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/leanworks/sigmachat/models"
)

const systemPrompt = `You are an expert Lean Six Sigma consultant providing accurate and helpful advice.
Answer the user's question based on your knowledge of Lean Six Sigma methodologies, tools, and concepts.
If you don't know the answer, be honest about it.`

const contextInstruction = `Use the context passages below when they are relevant. If they do not cover the question, answer from general Lean Six Sigma knowledge.`

// Answer is a composed response with the passages that informed it.
type Answer struct {
	Text        string
	Used        []models.Passage
	ContextFree bool
}

// Composer assembles the prompt from retrieved passages and calls the
// completion provider, falling back to a context-free completion when no
// passage fits.
type Composer struct {
	Completer   Completer
	TokenBudget int
	Logger      *log.Logger
}

func NewComposer(completer Completer, tokenBudget int) *Composer {
	if tokenBudget <= 0 {
		tokenBudget = 4000
	}
	return &Composer{
		Completer:   completer,
		TokenBudget: tokenBudget,
		Logger:      log.New(log.Writer(), "[COMPOSE] ", log.LstdFlags),
	}
}

// Compose answers the query. With passages present it builds a context
// prompt, trimming the weakest matches to fit the token budget; without
// passages (or when none fit) it falls back to a direct completion and
// marks the answer context-free.
func (c *Composer) Compose(ctx context.Context, query string, passages []models.Passage) (Answer, error) {
	used := c.fitToBudget(query, passages)

	if len(used) == 0 {
		text, err := c.Completer.Complete(ctx, systemPrompt, query)
		if err != nil {
			c.Logger.Printf("context-free completion failed for query %s: %v", queryHash(query), err)
			return Answer{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
		return Answer{Text: text, ContextFree: true}, nil
	}

	var b strings.Builder
	b.WriteString(contextInstruction)
	b.WriteString("\n\nContext:\n")
	for i, p := range used {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, p.Text)
	}
	b.WriteString("\nUser Query: ")
	b.WriteString(query)
	b.WriteString("\nAnswer:")

	text, err := c.Completer.Complete(ctx, systemPrompt, b.String())
	if err != nil {
		c.Logger.Printf("completion failed for query %s with %d passages: %v", queryHash(query), len(used), err)
		return Answer{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return Answer{Text: text, Used: used}, nil
}

// fitToBudget drops the weakest-scored passages until the assembled context
// plus query fits the token budget. Token counts are the len/4 estimate.
func (c *Composer) fitToBudget(query string, passages []models.Passage) []models.Passage {
	if len(passages) == 0 {
		return nil
	}
	kept := make([]models.Passage, len(passages))
	copy(kept, passages)
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })

	overhead := estimateTokens(systemPrompt) + estimateTokens(contextInstruction) + estimateTokens(query) + 32
	for len(kept) > 0 {
		total := overhead
		for _, p := range kept {
			total += estimateTokens(p.Text)
		}
		if total <= c.TokenBudget {
			return kept
		}
		kept = kept[:len(kept)-1]
	}
	return nil
}

// estimateTokens approximates the provider's tokenizer at four characters
// per token.
func estimateTokens(text string) int {
	return len(text) / 4
}
