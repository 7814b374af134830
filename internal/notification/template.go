package notification

import (
	"bytes"
	"html/template"
)

// emailTmpl is the HTML wrapper applied to every outgoing email.
// {{.Subject}} is auto-escaped; {{.Body}} is already safe HTML.
var emailTmpl = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html lang="ru">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width,initial-scale=1.0">
  <title>{{.Subject}}</title>
</head>
<body style="margin:0;padding:0;background-color:#f4f4f5;
     font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Arial,sans-serif;">
  <table width="100%" cellpadding="0" cellspacing="0" role="presentation"
         style="background-color:#f4f4f5;padding:40px 16px;">
    <tr>
      <td align="center">
        <table width="600" cellpadding="0" cellspacing="0" role="presentation"
               style="max-width:600px;width:100%;">

          <!-- Subject bar -->
          {{- if .Subject}}
          <tr>
            <td style="background-color:#1f2937;padding:20px 40px;border-radius:12px 12px 0 0;">
              <p style="margin:0;font-size:16px;font-weight:600;color:#f9fafb;">{{.Subject}}</p>
            </td>
          </tr>
          {{- end}}

          <!-- Body -->
          <tr>
            <td style="background-color:#ffffff;padding:36px 40px;">
              <div style="font-size:14px;line-height:1.7;color:#374151;
                          white-space:pre-wrap;word-break:break-word;">{{.Body}}</div>
            </td>
          </tr>

          <!-- Footer -->
          <tr>
            <td style="background-color:#f9fafb;padding:20px 40px;
                       border-top:1px solid #e5e7eb;border-radius:0 0 12px 12px;">
              <p style="margin:0;font-size:12px;color:#9ca3af;">
                Это автоматическое сообщение, отвечать на него не нужно.
                Изменить настройки уведомлений можно в личном кабинете.
              </p>
            </td>
          </tr>

        </table>
      </td>
    </tr>
  </table>
</body>
</html>
`))

// buildEmailHTML wraps an HTML body in the email layout.
func buildEmailHTML(subject string, body template.HTML) (string, error) {
	var buf bytes.Buffer
	err := emailTmpl.Execute(&buf, struct {
		Subject string
		Body    template.HTML
	}{subject, body})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// plainToHTML escapes a plain-text body for the layout. Line breaks are kept
// by the pre-wrap style.
func plainToHTML(text string) template.HTML {
	return template.HTML(template.HTMLEscapeString(text)) //nolint:gosec // escaped above
}
