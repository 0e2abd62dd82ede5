package agents

import (
	"context"
	"crypto/md5"
	"fmt"
	"net/mail"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JaimeStill/triage/internal/intake"
	"github.com/JaimeStill/triage/internal/sessions"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	urlPattern   = regexp.MustCompile(`https?://[^\s<>"]+`)
	phonePattern = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)

	signaturePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?im)best regards,\s*\n([^\n]+)`),
		regexp.MustCompile(`(?im)sincerely,\s*\n([^\n]+)`),
		regexp.MustCompile(`(?im)thanks,\s*\n([^\n]+)`),
		regexp.MustCompile(`(?im)regards,\s*\n([^\n]+)`),
	}
)

var urgencyKeywords = map[string][]string{
	"critical": {"critical", "emergency", "escalation"},
	"high":     {"urgent", "asap", "immediately", "right away"},
	"low":      {"no rush", "whenever", "low priority"},
}

// EmailAgent parses email payloads: headers, sender identity, urgency, and a
// CRM-style interaction record. Its conversation id derivation keys every
// session from the same sender and subject to the same conversation.
type EmailAgent struct{}

func NewEmailAgent() *EmailAgent {
	return &EmailAgent{}
}

func (a *EmailAgent) Name() string { return "email_parser" }

func (a *EmailAgent) Extract(ctx context.Context, req Request) (sessions.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return sessions.ExtractionResult{}, err
	}

	in := req.Input
	headers, body := parseEmail(in.Text())

	subject := in.Subject
	if subject == "" {
		subject = headers["subject"]
	}

	sender := extractSender(headers["from"], body)

	var anomalies []string
	if sender.Email == "" {
		anomalies = append(anomalies, "missing:sender_email")
	}
	if subject == "" {
		anomalies = append(anomalies, "missing:subject")
	}

	fields := map[string]any{
		"sender_name":     sender.Name,
		"sender_email":    sender.Email,
		"sender_company":  sender.Company,
		"subject":         subject,
		"urgency":         detectUrgency(subject + " " + body),
		"body_length":     len(body),
		"emails_found":    matchSet(emailPattern, body),
		"urls_found":      matchSet(urlPattern, body),
		"phone_numbers":   matchSet(phonePattern, body),
		"conversation_id": ConversationID(sender.Email, subject),
		"crm_record": map[string]any{
			"contact": map[string]any{
				"name":    sender.Name,
				"email":   sender.Email,
				"company": sender.Company,
			},
			"interaction": map[string]any{
				"type":            "email",
				"subject":         subject,
				"content_preview": preview(body, 200),
				"status":          "new",
			},
		},
	}

	status := sessions.ExtractionCompleted
	if len(anomalies) > 0 {
		status = sessions.ExtractionWithAnomalies
	}

	return sessions.ExtractionResult{
		Agent:     a.Name(),
		Fields:    fields,
		Anomalies: anomalies,
		Status:    status,
	}, nil
}

// DeriveConversationID inspects an email input's headers for the sender and
// subject and returns its conversation key. Empty for non-email inputs and
// for emails with neither sender nor subject.
func DeriveConversationID(in *intake.Input) string {
	if in.Format != intake.FormatEmail {
		return ""
	}

	headers, body := parseEmail(in.Text())

	subject := in.Subject
	if subject == "" {
		subject = headers["subject"]
	}

	sender := extractSender(headers["from"], body)
	if sender.Email == "" && subject == "" {
		return ""
	}

	return ConversationID(sender.Email, subject)
}

// ConversationID derives the stable conversation key for a sender and
// subject pair.
func ConversationID(senderEmail, subject string) string {
	if senderEmail == "" {
		senderEmail = "unknown"
	}
	if subject == "" {
		subject = "no_subject"
	}
	sum := md5.Sum([]byte(senderEmail + "_" + subject))
	return fmt.Sprintf("conv_%x", sum)[:17]
}

type senderInfo struct {
	Name    string
	Email   string
	Company string
}

// parseEmail splits a message into lowercase-keyed headers and a body. It
// tolerates plain text that only resembles an email.
func parseEmail(raw string) (map[string]string, string) {
	headers := make(map[string]string)

	lines := strings.Split(raw, "\n")
	bodyStart := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			bodyStart = i + 1
			break
		}

		key, value, found := strings.Cut(trimmed, ":")
		if !found {
			break
		}

		key = strings.ToLower(strings.TrimSpace(key))
		switch key {
		case "from", "to", "cc", "bcc", "subject", "date", "reply-to":
			headers[key] = strings.TrimSpace(value)
			bodyStart = i + 1
		}
	}

	return headers, strings.TrimSpace(strings.Join(lines[bodyStart:], "\n"))
}

func extractSender(from, body string) senderInfo {
	info := senderInfo{}

	if addr, err := mail.ParseAddress(from); err == nil {
		info.Name = addr.Name
		info.Email = addr.Address
	} else if match := emailPattern.FindString(from); match != "" {
		info.Email = match
	}

	if info.Name == "" && info.Email != "" {
		local, _, _ := strings.Cut(info.Email, "@")
		info.Name = titleCase(strings.NewReplacer(".", " ", "_", " ").Replace(local))
	}
	if info.Name == "" {
		info.Name = signatureName(body)
	}

	if info.Email != "" {
		_, domain, _ := strings.Cut(info.Email, "@")
		company, _, _ := strings.Cut(domain, ".")
		info.Company = titleCase(company)
	}

	return info
}

func signatureName(body string) string {
	for _, pattern := range signaturePatterns {
		if match := pattern.FindStringSubmatch(body); match != nil {
			return strings.Trim(strings.TrimSpace(match[1]), `"`)
		}
	}
	return "Unknown Sender"
}

func detectUrgency(text string) string {
	lowered := strings.ToLower(text)
	for _, level := range []string{"critical", "high", "low"} {
		for _, keyword := range urgencyKeywords[level] {
			if strings.Contains(lowered, keyword) {
				return level
			}
		}
	}
	return "medium"
}

func matchSet(pattern *regexp.Regexp, text string) []string {
	matches := pattern.FindAllString(text, -1)
	slices.Sort(matches)
	return slices.Compact(matches)
}

// preview truncates on rune boundaries so multi-byte text never splits
// mid-character.
func preview(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		r, size := utf8.DecodeRuneInString(word)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(word[size:])
	}
	return strings.Join(words, " ")
}
