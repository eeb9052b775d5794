package decision

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/brandloom-ai/brandloom/internal/brand"
	"github.com/brandloom-ai/brandloom/internal/tools"
)

// Intent taxonomy for completed user utterances. Classification happens
// before any tool decision; several intents deterministically constrain the
// allowed tool calls regardless of what the model proposed.
const (
	IntentNewAction    = "new-action"
	IntentConfirmation = "confirmation"
	IntentSelection    = "selection"
	IntentRejection    = "rejection"
	IntentQuestion     = "question"
	IntentRefinement   = "refinement"
)

// maxHistory bounds the rolling conversation context. Oldest turns are
// evicted first, keeping decision latency flat for long sessions.
const maxHistory = 24

// Generator produces one JSON completion for a system/user prompt pair.
// The production implementation calls Gemini; tests substitute a fake.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Turn is one entry of the agent's rolling history.
type Turn struct {
	Role string // "user" or "model"
	Text string
}

// Decision is the outcome of one reasoning pass.
type Decision struct {
	Intent    string
	Reasoning string
	Calls     []tools.Call
}

// Agent re-analyzes each completed user utterance against explicit state
// context. The live channel's own tool calling is unreliable for precise,
// stateful decisions; this second pass is the authoritative producer.
//
// Record and Decide are safe to call concurrently: the coordinator keeps
// recording turns on its loop while a Decide pass runs on a worker goroutine.
type Agent struct {
	gen    Generator
	logger *log.Logger

	mu      sync.Mutex
	history []Turn
}

// New creates an agent backed by the given generator.
func New(gen Generator) *Agent {
	return &Agent{gen: gen, logger: log.Default()}
}

// Record appends a turn to the rolling history, evicting the oldest entry
// once the cap is exceeded.
func (a *Agent) Record(role, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, Turn{Role: role, Text: text})
	if len(a.history) > maxHistory {
		a.history = a.history[len(a.history)-maxHistory:]
	}
}

// HistoryLen reports the current history size.
func (a *Agent) HistoryLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history)
}

// rawDecision is the JSON shape the generator is instructed to produce.
type rawDecision struct {
	Intent            string    `json:"intent"`
	Reasoning         string    `json:"reasoning"`
	WantsAlternatives bool      `json:"wantsAlternatives"`
	Calls             []rawCall `json:"calls"`
}

type rawCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Decide runs one reasoning pass over a completed utterance. It never fails
// past its boundary: any generator or parse error yields an empty decision so
// the live conversation is never interrupted.
func (a *Agent) Decide(ctx context.Context, utterance string, dna brand.DNA, canvas brand.CanvasState) Decision {
	a.mu.Lock()
	history := make([]Turn, len(a.history))
	copy(history, a.history)
	a.mu.Unlock()

	prompt := buildPrompt(utterance, dna, canvas, history)

	out, err := a.gen.Generate(ctx, systemPrompt, prompt)
	if err != nil {
		a.logger.Printf("[Decision] reasoning pass failed: %v", err)
		return Decision{}
	}

	var raw rawDecision
	if err := json.Unmarshal([]byte(extractJSON(out)), &raw); err != nil {
		a.logger.Printf("[Decision] unparseable decision %q: %v", out, err)
		return Decision{}
	}

	decision := Decision{
		Intent:    normalizeIntent(raw.Intent),
		Reasoning: raw.Reasoning,
		Calls:     constrainCalls(raw),
	}
	return decision
}

// constrainCalls enforces the taxonomy rules on whatever the model proposed:
// confirmations and questions never act, selections only update state, and
// rejections re-display only when the user explicitly asked for alternatives.
func constrainCalls(raw rawDecision) []tools.Call {
	intent := normalizeIntent(raw.Intent)
	if intent == IntentConfirmation || intent == IntentQuestion {
		return nil
	}

	calls := make([]tools.Call, 0, len(raw.Calls))
	for _, rc := range raw.Calls {
		if !tools.Known(rc.Tool) {
			continue
		}
		isDisplay := rc.Tool == tools.DisplayFonts || rc.Tool == tools.DisplayColors
		if intent == IntentSelection && isDisplay {
			continue // selections map to state updates, never a re-display
		}
		if intent == IntentRejection && isDisplay && !raw.WantsAlternatives {
			continue
		}
		args := rc.Args
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, tools.Call{Name: rc.Tool, Args: args})
	}
	if len(calls) == 0 {
		return nil
	}
	return calls
}

func normalizeIntent(intent string) string {
	switch strings.ToLower(strings.TrimSpace(intent)) {
	case IntentNewAction, "new_action":
		return IntentNewAction
	case IntentConfirmation:
		return IntentConfirmation
	case IntentSelection, "selection-from-shown-options":
		return IntentSelection
	case IntentRejection:
		return IntentRejection
	case IntentQuestion:
		return IntentQuestion
	case IntentRefinement:
		return IntentRefinement
	}
	return ""
}

// extractJSON tolerates models that wrap their JSON in a markdown fence.
func extractJSON(out string) string {
	out = strings.TrimSpace(out)
	if strings.HasPrefix(out, "```") {
		out = strings.TrimPrefix(out, "```json")
		out = strings.TrimPrefix(out, "```")
		if idx := strings.LastIndex(out, "```"); idx >= 0 {
			out = out[:idx]
		}
	}
	return strings.TrimSpace(out)
}
