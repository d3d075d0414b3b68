package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/mbd888/sovereign/internal/operation"
)

// SovereignEvent is the content of a sovereign notification.
type SovereignEvent struct {
	Domain        string
	OperationType operation.Type
	Actor         operation.Actor
	Timestamp     time.Time
	Data          map[string]any
	Approved      bool
	FailSafe      bool
	RiskLevel     operation.RiskLevel
	AuditLogID    string
	Reason        string
}

// Status is the approval status line shown in the message.
func (e *SovereignEvent) Status() string {
	switch {
	case e.Approved && e.FailSafe:
		return "APPROVED (fail-safe)"
	case e.Approved:
		return "APPROVED"
	case e.FailSafe:
		return "DENIED (fail-safe)"
	default:
		return "DENIED"
	}
}

// Payload pretty-prints the redacted operation data.
func (e *SovereignEvent) Payload() string {
	b, err := json.MarshalIndent(operation.Redact(e.Data), "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", operation.Redact(e.Data))
	}
	return string(b)
}

// ActorLabel renders the actor as "id <email>".
func (e *SovereignEvent) ActorLabel() string {
	switch {
	case e.Actor.ID == "" && e.Actor.Email == "":
		return "unknown"
	case e.Actor.Email == "":
		return e.Actor.ID
	case e.Actor.ID == "":
		return e.Actor.Email
	default:
		return e.Actor.ID + " <" + e.Actor.Email + ">"
	}
}

// AuditRef is the audit log id or a placeholder.
func (e *SovereignEvent) AuditRef() string {
	if e.AuditLogID == "" {
		return "n/a"
	}
	return e.AuditLogID
}

// When formats the event timestamp.
func (e *SovereignEvent) When() string {
	return e.Timestamp.UTC().Format(time.RFC3339)
}

var sovereignText = texttemplate.Must(texttemplate.New("sovereign.txt").Parse(`Sovereign operation alert

Domain:         {{.Domain}}
Operation:      {{.OperationType}}
Actor:          {{.ActorLabel}}
Timestamp:      {{.When}}
Approval:       {{.Status}}
Risk level:     {{.RiskLevel}}
Audit log id:   {{.AuditRef}}
{{- if .Reason}}
Reason:         {{.Reason}}
{{- end}}

Operation data:
{{.Payload}}
`))

var sovereignHTML = htmltemplate.Must(htmltemplate.New("sovereign.html").Parse(`<!DOCTYPE html>
<html><body style="font-family: sans-serif">
<h2>Sovereign operation alert</h2>
<table cellpadding="4">
<tr><th align="left">Domain</th><td>{{.Domain}}</td></tr>
<tr><th align="left">Operation</th><td>{{.OperationType}}</td></tr>
<tr><th align="left">Actor</th><td>{{.ActorLabel}}</td></tr>
<tr><th align="left">Timestamp</th><td>{{.When}}</td></tr>
<tr><th align="left">Approval</th><td><strong>{{.Status}}</strong></td></tr>
<tr><th align="left">Risk level</th><td>{{.RiskLevel}}</td></tr>
<tr><th align="left">Audit log id</th><td><code>{{.AuditRef}}</code></td></tr>
{{- if .Reason}}
<tr><th align="left">Reason</th><td>{{.Reason}}</td></tr>
{{- end}}
</table>
<h3>Operation data</h3>
<pre>{{.Payload}}</pre>
</body></html>
`))

// RenderSovereign builds the fixed-template sovereign message.
func RenderSovereign(e *SovereignEvent) (*Message, error) {
	var text, html bytes.Buffer
	if err := sovereignText.Execute(&text, e); err != nil {
		return nil, fmt.Errorf("render sovereign text: %w", err)
	}
	if err := sovereignHTML.Execute(&html, e); err != nil {
		return nil, fmt.Errorf("render sovereign html: %w", err)
	}

	priority := PriorityHigh
	if e.RiskLevel == operation.RiskCritical || !e.Approved {
		priority = PriorityCritical
	}
	subject := fmt.Sprintf("[SOVEREIGN] %s %s on %s", e.OperationType,
		strings.SplitN(e.Status(), " ", 2)[0], e.Domain)

	return &Message{
		Subject:  subject,
		Body:     text.String(),
		HTML:     html.String(),
		Priority: priority,
		Data: map[string]any{
			"domain":        e.Domain,
			"operationType": string(e.OperationType),
			"actorId":       e.Actor.ID,
			"approved":      e.Approved,
			"failSafe":      e.FailSafe,
			"riskLevel":     string(e.RiskLevel),
			"auditLogId":    e.AuditLogID,
			"amount":        operation.AmountOf(e.Data).String(),
		},
	}, nil
}

// NotifySovereign renders and dispatches a sovereign notification to the
// configured recipient.
func (d *Dispatcher) NotifySovereign(ctx context.Context, e *SovereignEvent) *Delivery {
	msg, err := RenderSovereign(e)
	if err != nil {
		d.logger.Error("sovereign notification render failed", "error", err)
		msg = &Message{
			Subject:  fmt.Sprintf("[SOVEREIGN] %s on %s", e.OperationType, e.Domain),
			Body:     fmt.Sprintf("%s %s risk=%s audit=%s", e.OperationType, e.Status(), e.RiskLevel, e.AuditRef()),
			Priority: PriorityCritical,
		}
	}
	msg.To = d.recipient
	return d.Send(ctx, KindSovereign, msg)
}
