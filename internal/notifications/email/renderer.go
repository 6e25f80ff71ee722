package email

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	texttemplate "text/template"

	"pollkeeper/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// RenderedEmail holds the pre-rendered email content ready for transmission.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// templateData is the struct passed into Go templates for rendering. Both
// email kinds share it; fields a template does not use stay empty.
type templateData struct {
	Lang     string
	Subject  string
	Preview  string
	SiteName string

	Title           string
	Deadline        string
	TimeRemaining   string
	ParticipantList string
	PollURL         string
}

// Templates is the set of email kinds the renderer knows how to produce.
var Templates = []types.EmailTemplate{
	types.TemplateDeadlineReminder,
	types.TemplateDeadlineClosed,
}

// Renderer performs client-side email template rendering using Go's
// html/template with embedded template files.
type Renderer struct {
	htmlTemplates map[types.EmailTemplate]*template.Template
	textTemplates map[types.EmailTemplate]*texttemplate.Template
	sender        types.SenderIdentity
	siteName      string
	logger        *slog.Logger
}

// RendererConfig holds the parameters needed to construct a Renderer.
type RendererConfig struct {
	DefaultFromAddr string
	DefaultFromName string
	// SiteName appears in the footer. Defaults to DefaultFromName.
	SiteName string
	Logger   *slog.Logger
}

// NewRenderer parses the embedded templates and returns a Renderer.
// Returns an error if any template fails to parse.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	siteName := cfg.SiteName
	if siteName == "" {
		siteName = cfg.DefaultFromName
	}

	r := &Renderer{
		htmlTemplates: make(map[types.EmailTemplate]*template.Template),
		textTemplates: make(map[types.EmailTemplate]*texttemplate.Template),
		sender:        types.SenderIdentity{Name: cfg.DefaultFromName, Address: cfg.DefaultFromAddr},
		siteName:      siteName,
		logger:        logger,
	}

	baseHTML, err := templateFS.ReadFile("templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read base.html: %w", err)
	}

	for _, tmpl := range Templates {
		name := string(tmpl)

		// Parse HTML: base + template-specific content block.
		htmlContent, err := templateFS.ReadFile(fmt.Sprintf("templates/%s.html", name))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to read %s.html: %w", name, err)
		}
		htmlTmpl, err := template.New("base").Parse(string(baseHTML))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to parse base.html: %w", err)
		}
		if _, err := htmlTmpl.Parse(string(htmlContent)); err != nil {
			return nil, fmt.Errorf("renderer: failed to parse %s.html: %w", name, err)
		}
		r.htmlTemplates[tmpl] = htmlTmpl

		txtContent, err := templateFS.ReadFile(fmt.Sprintf("templates/%s.txt", name))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to read %s.txt: %w", name, err)
		}
		txtTmpl, err := texttemplate.New(name).Parse(string(txtContent))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to parse %s.txt: %w", name, err)
		}
		r.textTemplates[tmpl] = txtTmpl
	}

	return r, nil
}

// Render produces the subject and both bodies for one queued email and
// returns the sender identity to send it from.
//
// An unknown template or props that do not decode into the template's shape
// yield AppError(ErrCodeValidationUnknownTemplate); redelivery cannot fix
// either.
func (r *Renderer) Render(tmpl types.EmailTemplate, locale string, props json.RawMessage) (*RenderedEmail, types.SenderIdentity, error) {
	htmlTmpl, ok := r.htmlTemplates[tmpl]
	if !ok {
		return nil, types.SenderIdentity{}, types.NewAppError(types.ErrCodeValidationUnknownTemplate,
			fmt.Sprintf("no HTML template for %q", tmpl), ErrUnknownTemplate)
	}
	txtTmpl, ok := r.textTemplates[tmpl]
	if !ok {
		return nil, types.SenderIdentity{}, types.NewAppError(types.ErrCodeValidationUnknownTemplate,
			fmt.Sprintf("no text template for %q", tmpl), ErrUnknownTemplate)
	}

	data, err := r.buildTemplateData(tmpl, props)
	if err != nil {
		return nil, types.SenderIdentity{}, types.NewAppError(types.ErrCodeValidationUnknownTemplate,
			fmt.Sprintf("invalid props for %q", tmpl), err)
	}
	data.Lang = langTag(locale)

	var htmlBuf bytes.Buffer
	if err := htmlTmpl.Execute(&htmlBuf, data); err != nil {
		return nil, types.SenderIdentity{}, fmt.Errorf("renderer: failed to render HTML for %q: %w", tmpl, err)
	}

	var txtBuf bytes.Buffer
	if err := txtTmpl.Execute(&txtBuf, data); err != nil {
		return nil, types.SenderIdentity{}, fmt.Errorf("renderer: failed to render text for %q: %w", tmpl, err)
	}

	return &RenderedEmail{
		Subject:  data.Subject,
		BodyHTML: htmlBuf.String(),
		BodyText: txtBuf.String(),
	}, r.sender, nil
}

func (r *Renderer) buildTemplateData(tmpl types.EmailTemplate, props json.RawMessage) (templateData, error) {
	data := templateData{SiteName: r.siteName}

	switch tmpl {
	case types.TemplateDeadlineReminder:
		var p types.DeadlineReminderProps
		if err := json.Unmarshal(props, &p); err != nil {
			return data, err
		}
		data.Title = p.Title
		data.Deadline = p.Deadline
		data.TimeRemaining = p.TimeRemaining
		data.ParticipantList = participantList(p.ParticipantNames)
		data.PollURL = p.PollURL
		data.Subject = fmt.Sprintf("Reminder: Respond to %s", p.Title)
		data.Preview = fmt.Sprintf("Don't forget to respond to %s. The deadline is approaching.", p.Title)

	case types.TemplateDeadlineClosed:
		var p types.DeadlineClosedProps
		if err := json.Unmarshal(props, &p); err != nil {
			return data, err
		}
		data.Title = p.Title
		data.Deadline = p.Deadline
		data.PollURL = p.PollURL
		data.Subject = fmt.Sprintf("Poll Closed: %s", p.Title)
		data.Preview = "Your poll has been automatically closed at the deadline."

	default:
		return data, ErrUnknownTemplate
	}

	return data, nil
}

// participantList joins names for the reminder body; an empty list reads as
// the generic "participant".
func participantList(names []string) string {
	if len(names) == 0 {
		return "participant"
	}
	return strings.Join(names, ", ")
}

func langTag(locale string) string {
	if locale == "" {
		return "en"
	}
	return locale
}
