package compose

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

// Builder renders the confirmation and follow-up emails
type Builder struct {
	confirm   *template.Template
	published *template.Template
}

// New creates a new builder
func New() (*Builder, error) {
	confirm, err := template.New("confirm").Parse(baseTemplate + confirmTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse confirm template: %w", err)
	}
	published, err := template.New("published").Parse(baseTemplate + publishedTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse published template: %w", err)
	}
	return &Builder{confirm: confirm, published: published}, nil
}

// Message is a rendered email ready for sending
type Message struct {
	Subject   string
	HTMLBody  string
	PlainBody string
}

// MessageData is the template data structure
type MessageData struct {
	Title   string
	Topic   string
	Text    string
	Link    string
	Expires string
	PostURL string
}

// Confirmation renders the email asking the user to approve a draft. link
// carries the single-use token.
func (b *Builder) Confirmation(d types.Draft, link string) (*Message, error) {
	data := MessageData{
		Title:   "Your post draft is ready",
		Topic:   d.Topic,
		Text:    d.Text,
		Link:    link,
		Expires: d.ExpiresAt.UTC().Format(time.RFC1123),
	}

	var htmlBuf bytes.Buffer
	if err := b.confirm.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	var plain bytes.Buffer
	plain.WriteString(fmt.Sprintf("%s\n\nTopic: %s\n\n%s\n\n", data.Title, data.Topic, data.Text))
	plain.WriteString(fmt.Sprintf("Publish it: %s\n", data.Link))
	plain.WriteString(fmt.Sprintf("This link works once and expires %s.\n", data.Expires))

	return &Message{
		Subject:   fmt.Sprintf("Confirm your post on %s", d.Topic),
		HTMLBody:  htmlBuf.String(),
		PlainBody: plain.String(),
	}, nil
}

// Published renders the "your post is live" follow-up.
func (b *Builder) Published(d types.Draft, postURL string) (*Message, error) {
	data := MessageData{
		Title:   "Your post is live",
		Topic:   d.Topic,
		Text:    d.Text,
		PostURL: postURL,
	}

	var htmlBuf bytes.Buffer
	if err := b.published.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	plain := fmt.Sprintf("%s\n\n%s\n\n%s\n", data.Title, data.Text, data.PostURL)
	return &Message{
		Subject:   fmt.Sprintf("Published: your post on %s", d.Topic),
		HTMLBody:  htmlBuf.String(),
		PlainBody: plain,
	}, nil
}

const baseTemplate = `{{define "head"}}<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { color: #1da1f2; margin-bottom: 5px; }
        .topic { background: #e8f5fd; color: #1da1f2; padding: 2px 8px; border-radius: 12px; font-size: 12px; }
        .content { margin: 16px 0; line-height: 1.4; white-space: pre-wrap; border-left: 3px solid #1da1f2; padding-left: 12px; }
        .button { display: inline-block; background: #1da1f2; color: white; padding: 10px 18px; border-radius: 20px; text-decoration: none; }
        .footer { margin-top: 20px; padding-top: 15px; border-top: 1px solid #eee; color: #999; font-size: 12px; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <span class="topic">{{.Topic}}</span>
{{end}}
{{define "foot"}}
        <div class="footer">Sent by twitter-autobot</div>
    </div>
</body>
</html>{{end}}`

const confirmTemplate = `{{template "head" .}}
        <div class="content">{{.Text}}</div>
        <a href="{{.Link}}" class="button">Confirm and publish</a>
        <p>This link works once and expires {{.Expires}}. Ignore this email to discard the draft.</p>
{{template "foot" .}}`

const publishedTemplate = `{{template "head" .}}
        <div class="content">{{.Text}}</div>
        {{if .PostURL}}<a href="{{.PostURL}}" class="button">View on X →</a>{{end}}
{{template "foot" .}}`
