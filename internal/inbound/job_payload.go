package inbound

import "strings"

// IngestJobPayload is the JSON body of a queued ingest job. Structured
// fields take precedence; gaps are filled from RawRFC822 when present.
type IngestJobPayload struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	TextBody  string `json:"text_body"`
	HTMLBody  string `json:"html_body"`
	RawRFC822 string `json:"raw_rfc822"`
}

func (p *IngestJobPayload) Normalize() {
	p.Sender = strings.TrimSpace(p.Sender)
	p.Recipient = strings.TrimSpace(p.Recipient)
	p.Subject = strings.TrimSpace(p.Subject)
	p.TextBody = strings.TrimSpace(p.TextBody)
	p.HTMLBody = strings.TrimSpace(p.HTMLBody)
	p.RawRFC822 = strings.TrimSpace(p.RawRFC822)
}

func (p IngestJobPayload) IsUsable() bool {
	if p.RawRFC822 != "" {
		return true
	}
	return p.Sender != "" && p.Recipient != ""
}

func (p IngestJobPayload) ToDelivery() Delivery {
	return Delivery{
		Sender:    p.Sender,
		Recipient: p.Recipient,
		Subject:   p.Subject,
		TextBody:  p.TextBody,
		HTMLBody:  p.HTMLBody,
		RawRFC822: p.RawRFC822,
	}
}
