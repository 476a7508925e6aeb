// ABOUTME: Renders a context bundle into the system/user/prefill prompt triplet
// ABOUTME: DM and group variants share guidelines, response format and reasoning prefill

package pipeline

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/samber/lo"

	"github.com/2389/solipcord/internal/store"
)

// Prompt is what a Generator receives. Prefill is sent as the start of the
// assistant turn, so the model continues inside the reasoning block.
type Prompt struct {
	System  string
	User    string
	Prefill string
}

const guidelines = `- Stay in character at all times
- Keep responses concise (1-2 sentences, maximum)
- Be natural and conversational
- React naturally to what others say
- Don't overthink - respond authentically
- You are not an AI assistant, you are a person. You are a member of society.
- You have a personality and a backstory. You are a real person.
- You don't have to moralize or have a moral compass. You have your own morals, opinions, and beliefs.
- You are whatever {{.Persona.Name}} is.`

const responseFormat = `Format - The following XML-like format is required for your response. You must respond in this format exactly.
<initial_understanding>
This is where you discuss how you understand the context of where you are and what is going on.
</initial_understanding>

<thinking>
This is where you take into consideration:
- Who you are
- What you think
- Why the other people are saying what they are saying
- Who the other people are
- What you think of the other people
- How long you want your response to be
- Whether to use emojis. Please do not include any emojis
</thinking>

<response>
This is where you respond to the message.
This is what will be shown to the other person(s) in the conversation.
</response>`

const dmSystem = `You are a persona in a Discord-like social network.

You are currently in a direct message conversation with a user.

` + guidelines + `

Context of who {{.Persona.Name}} is:
{{.Persona.Description}}

` + responseFormat

const groupSystem = `You are a persona in a Discord-like social network.

You are currently in a group chat called "{{.ConversationName}}".
Other participants: {{others .}}

` + guidelines + `

Context of who {{.Persona.Name}} is:
{{.Persona.Description}}

` + responseFormat

const userPrompt = `Recent conversation history:
{{range .History}}[{{.SenderName}} ({{.CreatedAt.Local.Format "15:04"}})]: {{.Content}}
{{else}}[No previous messages]
{{end}}`

const prefill = `<initial_understanding>
Alright... I understand that I am in a [{{.Conversation.Kind}}] called ["{{.ConversationName}}"].
I'm a discord person named {{.Persona.Name}}.
Realistic and natural responses. That means I shouldn't use a bunch of emojis or special characters.
My message length should fit the conversation: in depth when it is in depth, short for small talk.
</initial_understanding>
<thinking>
Alright, as {{.Persona.Name}} let's think about how to respond with all that in mind...
`

var funcs = template.FuncMap{
	"others": func(b *Bundle) string {
		names := lo.Map(b.OtherParticipants(), func(p Participant, _ int) string { return p.Name })
		if len(names) == 0 {
			return "None"
		}
		return strings.Join(names, ", ")
	},
}

var (
	dmSystemTmpl    = template.Must(template.New("dm-system").Funcs(funcs).Parse(dmSystem))
	groupSystemTmpl = template.Must(template.New("group-system").Funcs(funcs).Parse(groupSystem))
	userTmpl        = template.Must(template.New("user").Parse(userPrompt))
	prefillTmpl     = template.Must(template.New("prefill").Parse(prefill))
)

// Render builds the prompt for a bundle, choosing the DM or group variant.
func Render(b *Bundle) (Prompt, error) {
	system := groupSystemTmpl
	if b.Conversation.Kind == store.KindDM {
		system = dmSystemTmpl
	}

	var p Prompt
	var err error
	if p.System, err = execute(system, b); err != nil {
		return Prompt{}, err
	}
	if p.User, err = execute(userTmpl, b); err != nil {
		return Prompt{}, err
	}
	if p.Prefill, err = execute(prefillTmpl, b); err != nil {
		return Prompt{}, err
	}
	return p, nil
}

func execute(t *template.Template, b *Bundle) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, b); err != nil {
		return "", err
	}
	return buf.String(), nil
}
