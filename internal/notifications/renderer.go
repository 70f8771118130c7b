package notifications

import (
	"bytes"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const (
	defaultLocale    = "pt-BR"
	defaultStoreName = "Top Manuais"
	templateName     = "order_confirmation"
)

var currencySymbols = map[string]string{
	"BRL": "R$",
	"USD": "US$",
	"EUR": "€",
}

// RendererOptions customise the rendered email.
type RendererOptions struct {
	Locale    string
	StoreName string
}

// RenderedEmail is a ready to send message.
type RenderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer turns an OrderConfirmation into subject, HTML and plain text bodies.
type Renderer struct {
	html      *htmltemplate.Template
	text      *texttemplate.Template
	policy    *bluemonday.Policy
	printer   *message.Printer
	storeName string
}

// NewRenderer parses the confirmation templates for the requested locale.
func NewRenderer(opts RendererOptions) (*Renderer, error) {
	locale := strings.TrimSpace(opts.Locale)
	if locale == "" {
		locale = defaultLocale
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("notifications: parse locale %q: %w", locale, err)
	}
	storeName := strings.TrimSpace(opts.StoreName)
	if storeName == "" {
		storeName = defaultStoreName
	}

	r := &Renderer{
		policy:    bluemonday.StrictPolicy(),
		printer:   message.NewPrinter(tag),
		storeName: storeName,
	}
	funcs := map[string]any{"money": r.formatMoney, "date": formatDate}

	r.html, err = htmltemplate.New(templateName).Funcs(funcs).Parse(htmlBody)
	if err != nil {
		return nil, fmt.Errorf("notifications: parse html template: %w", err)
	}
	r.text, err = texttemplate.New(templateName).Funcs(funcs).Parse(textBody)
	if err != nil {
		return nil, fmt.Errorf("notifications: parse text template: %w", err)
	}
	return r, nil
}

type templateData struct {
	StoreName     string
	CustomerName  string
	OrderNumber   string
	Items         []templateItem
	Total         decimal.Decimal
	Currency      string
	PaymentMethod string
	ExpiresAt     time.Time
	MaxDownloads  int
}

type templateItem struct {
	Title       string
	Quantity    int
	Subtotal    decimal.Decimal
	DownloadURL string
}

// Render produces the email for msg. Customer supplied strings are stripped of markup.
func (r *Renderer) Render(msg OrderConfirmation) (RenderedEmail, error) {
	if r == nil {
		return RenderedEmail{}, errors.New("notifications: renderer is nil")
	}
	if strings.TrimSpace(msg.CustomerEmail) == "" {
		return RenderedEmail{}, ErrRecipientRequired
	}

	data := templateData{
		StoreName:     r.storeName,
		CustomerName:  r.clean(msg.CustomerName),
		OrderNumber:   r.clean(msg.OrderNumber),
		Total:         msg.Total,
		Currency:      msg.Currency,
		PaymentMethod: msg.PaymentMethod,
		ExpiresAt:     msg.ExpiresAt,
		MaxDownloads:  msg.MaxDownloads,
	}
	for _, item := range msg.LineItems {
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		data.Items = append(data.Items, templateItem{
			Title:       r.clean(item.Title),
			Quantity:    qty,
			Subtotal:    item.UnitPrice.Mul(decimal.NewFromInt(int64(qty))),
			DownloadURL: item.DownloadURL,
		})
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := r.html.Execute(&htmlBuf, data); err != nil {
		return RenderedEmail{}, fmt.Errorf("notifications: render html: %w", err)
	}
	if err := r.text.Execute(&textBuf, data); err != nil {
		return RenderedEmail{}, fmt.Errorf("notifications: render text: %w", err)
	}

	return RenderedEmail{
		Subject: fmt.Sprintf("%s: pedido %s confirmado", r.storeName, data.OrderNumber),
		HTML:    htmlBuf.String(),
		Text:    textBuf.String(),
	}, nil
}

func (r *Renderer) clean(value string) string {
	return strings.TrimSpace(r.policy.Sanitize(value))
}

func (r *Renderer) formatMoney(amount decimal.Decimal, code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	symbol := code
	if unit, err := currency.ParseISO(code); err == nil {
		if known, ok := currencySymbols[unit.String()]; ok {
			symbol = known
		}
	}
	value, _ := amount.Round(2).Float64()
	return symbol + " " + r.printer.Sprint(number.Decimal(value, number.Scale(2)))
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("02/01/2006")
}

const htmlBody = `<!DOCTYPE html>
<html>
<body>
<p>Olá {{.CustomerName}},</p>
<p>Recebemos o pagamento do pedido <strong>{{.OrderNumber}}</strong>. Seus manuais já estão disponíveis para download.</p>
<table>
{{- range .Items}}
<tr>
<td>{{.Title}}{{if gt .Quantity 1}} (x{{.Quantity}}){{end}}</td>
<td>{{money .Subtotal $.Currency}}</td>
<td>{{if .DownloadURL}}<a href="{{.DownloadURL}}">Baixar</a>{{end}}</td>
</tr>
{{- end}}
</table>
<p>Total: <strong>{{money .Total .Currency}}</strong></p>
{{- if .MaxDownloads}}
<p>Cada link permite {{.MaxDownloads}} downloads{{with date .ExpiresAt}} até {{.}}{{end}}.</p>
{{- end}}
<p>{{.StoreName}}</p>
</body>
</html>
`

const textBody = `Olá {{.CustomerName}},

Recebemos o pagamento do pedido {{.OrderNumber}}.
{{range .Items}}
- {{.Title}}{{if gt .Quantity 1}} (x{{.Quantity}}){{end}}: {{money .Subtotal $.Currency}}{{if .DownloadURL}}
  {{.DownloadURL}}{{end}}
{{- end}}

Total: {{money .Total .Currency}}
{{- if .MaxDownloads}}
Cada link permite {{.MaxDownloads}} downloads{{with date .ExpiresAt}} até {{.}}{{end}}.
{{- end}}

{{.StoreName}}
`
