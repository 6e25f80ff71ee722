package external

import (
	"strings"

	"pollkeeper/internal/types"
)

// Tag names attached to every outgoing message. SES exposes them as message
// tags in event publishing, SendGrid as custom_args in its event webhook.
const (
	tagTemplate  = "template"
	tagMessageID = "message_id"
	tagRequestID = "request_id"
)

// maxTagValue is the SES limit; SendGrid allows more.
const maxTagValue = 256

type deliveryTag struct {
	name  string
	value string
}

// deliveryTags returns the correlation tags for input in a stable order,
// dropping any that are empty after sanitizing.
func deliveryTags(input types.SendInput) []deliveryTag {
	var tags []deliveryTag
	for _, t := range []deliveryTag{
		{tagTemplate, string(input.Template)},
		{tagMessageID, input.MessageID},
		{tagRequestID, input.RequestID},
	} {
		if v := sanitizeTagValue(t.value); v != "" {
			tags = append(tags, deliveryTag{t.name, v})
		}
	}
	return tags
}

// sanitizeTagValue maps anything outside [A-Za-z0-9_-] to '_'. Request ids
// come from an inbound header and are not trusted to be clean.
func sanitizeTagValue(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > maxTagValue {
		v = v[:maxTagValue]
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, v)
}

// templateCategory is the short, lowercase label used to group a template's
// traffic in provider dashboards.
func templateCategory(t types.EmailTemplate) string {
	switch t {
	case types.TemplateDeadlineReminder:
		return "deadline-reminder"
	case types.TemplateDeadlineClosed:
		return "deadline-closed"
	default:
		return ""
	}
}
