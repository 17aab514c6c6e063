package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"vtuber-backend/internal/model"
	"vtuber-backend/internal/storage"
	"vtuber-backend/pkg/logger"
)

// ResponseBackend turns a batch of viewer chat into reply events.
type ResponseBackend interface {
	Chat(ctx context.Context, prompt string) (*schema.StreamReader[model.ReplyEvent], error)
}

// AgentOptions configure an Agent.
type AgentOptions struct {
	Persona string
	// Expressions are the emotion names the character's model can show.
	Expressions []string
	// HistoryKey scopes conversation memory, normally the conf_uid.
	HistoryKey string
	History    storage.HistoryStore
	MaxHistory int
	Pool       *WorkerPool
	LogDetail  bool
}

// Agent answers viewer chat with an eino graph: the viewer input and
// recent history are rendered through the persona template and sent to the
// chat model.
type Agent struct {
	runnable compose.Runnable[*viewerInput, *schema.Message]
	cbHandler callbacks.Handler
	opts      AgentOptions
}

type viewerInput struct {
	Query   string
	History []*schema.Message
}

func NewAgent(ctx context.Context, cm einoModel.ChatModel, opts AgentOptions) (*Agent, error) {
	if cm == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if opts.MaxHistory < 0 {
		opts.MaxHistory = 0
	}

	runnable, err := composeGraph(ctx, cm, systemPrompt(opts.Persona, opts.Expressions))
	if err != nil {
		return nil, fmt.Errorf("compose reply graph: %w", err)
	}

	return &Agent{
		runnable:  runnable,
		cbHandler: LogCallback(&LogCallbackConfig{Session: opts.HistoryKey, Detail: opts.LogDetail}),
		opts:      opts,
	}, nil
}

// Chat generates a reply to prompt. The stream yields a single event, or
// the generation error.
func (a *Agent) Chat(ctx context.Context, prompt string) (*schema.StreamReader[model.ReplyEvent], error) {
	sr, sw := schema.Pipe[model.ReplyEvent](1)

	go func() {
		defer sw.Close()

		reply, err := a.reply(ctx, prompt)
		if err != nil {
			sw.Send(model.ReplyEvent{}, err)
			return
		}
		sw.Send(reply, nil)
	}()

	return sr, nil
}

func (a *Agent) reply(ctx context.Context, prompt string) (model.ReplyEvent, error) {
	query := formatViewerInput(prompt)

	var out *schema.Message
	err := a.opts.Pool.Do(ctx, func(ctx context.Context) error {
		history, err := a.loadHistory(ctx)
		if err != nil {
			logger.Warnf("Failed to load history for %s: %v", a.opts.HistoryKey, err)
		}

		msg, err := a.runnable.Invoke(ctx, &viewerInput{Query: query, History: history},
			compose.WithCallbacks(a.cbHandler))
		if err != nil {
			return err
		}
		out = msg
		return nil
	})
	if err != nil {
		return model.ReplyEvent{}, err
	}
	if out == nil {
		return model.ReplyEvent{}, fmt.Errorf("model returned no message")
	}

	reply := model.ParseReply(out.Content)
	a.remember(ctx, query, reply.Text)
	return reply, nil
}

func (a *Agent) loadHistory(ctx context.Context) ([]*schema.Message, error) {
	if a.opts.History == nil || a.opts.MaxHistory == 0 {
		return nil, nil
	}

	msgs, err := a.opts.History.Recent(ctx, a.opts.HistoryKey, a.opts.MaxHistory)
	if err != nil {
		return nil, err
	}

	history := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleUser:
			history = append(history, schema.UserMessage(m.Content))
		case model.RoleAssistant:
			history = append(history, schema.AssistantMessage(m.Content, nil))
		}
	}
	return history, nil
}

func (a *Agent) remember(ctx context.Context, query, reply string) {
	if a.opts.History == nil || reply == "" {
		return
	}

	now := time.Now()
	err := a.opts.History.Append(ctx, a.opts.HistoryKey,
		model.Message{Role: model.RoleUser, Content: query, Timestamp: now},
		model.Message{Role: model.RoleAssistant, Content: reply, Timestamp: now},
	)
	if err != nil {
		logger.Warnf("Failed to save history for %s: %v", a.opts.HistoryKey, err)
	}
}

// formatViewerInput rewrites "author: text" lines as attributed speech so
// the model can tell viewers apart.
func formatViewerInput(prompt string) string {
	lines := strings.Split(prompt, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		author, text, ok := strings.Cut(line, ": ")
		if !ok || author == "" {
			out = append(out, line)
			continue
		}
		out = append(out, fmt.Sprintf("Viewer '%s' says: %s", author, text))
	}
	return strings.Join(out, "\n")
}

var templateEscaper = strings.NewReplacer("{", "{{", "}", "}}")

func systemPrompt(persona string, expressions []string) string {
	var b strings.Builder
	b.WriteString(persona)

	if len(expressions) > 0 {
		sorted := append([]string(nil), expressions...)
		sort.Strings(sorted)
		b.WriteString("\n\nYou are streaming live and answering your chat. ")
		b.WriteString(`Reply with a JSON object {"text": "...", "actions": {"expression": "..."}}. `)
		b.WriteString("The expression must be one of: ")
		b.WriteString(strings.Join(sorted, ", "))
		b.WriteString(".")
	}

	return templateEscaper.Replace(b.String())
}

func newPersonaTemplate(system string) prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(system),
		schema.MessagesPlaceholder("message_histories", true),
		schema.UserMessage("{viewer_input}"),
	)
}

func composeGraph(ctx context.Context, cm einoModel.ChatModel, system string) (compose.Runnable[*viewerInput, *schema.Message], error) {
	g := compose.NewGraph[*viewerInput, *schema.Message]()

	transform := compose.InvokableLambda(func(ctx context.Context, input *viewerInput) (map[string]any, error) {
		return map[string]any{
			"viewer_input":      input.Query,
			"message_histories": input.History,
		}, nil
	})

	if err := g.AddLambdaNode("ViewerInputToMap", transform); err != nil {
		return nil, err
	}
	if err := g.AddChatTemplateNode("PersonaTemplate", newPersonaTemplate(system)); err != nil {
		return nil, err
	}
	if err := g.AddChatModelNode("ReplyModel", cm); err != nil {
		return nil, err
	}

	if err := g.AddEdge(compose.START, "ViewerInputToMap"); err != nil {
		return nil, err
	}
	if err := g.AddEdge("ViewerInputToMap", "PersonaTemplate"); err != nil {
		return nil, err
	}
	if err := g.AddEdge("PersonaTemplate", "ReplyModel"); err != nil {
		return nil, err
	}
	if err := g.AddEdge("ReplyModel", compose.END); err != nil {
		return nil, err
	}

	return g.Compile(ctx, compose.WithGraphName("vtuber_reply"))
}
