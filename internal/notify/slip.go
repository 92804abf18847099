package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

var slipTemplate = template.Must(template.New("confirmation_slip").Option("missingkey=error").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Appointment {{.appointmentCode}}</title></head>
<body>
<h1>Appointment confirmation</h1>
<table>
<tr><th>Appointment</th><td>{{.appointmentCode}}</td></tr>
<tr><th>Patient</th><td>{{.recipientName}}</td></tr>
<tr><th>Dentist</th><td>{{.dentistCode}}</td></tr>
<tr><th>Date</th><td>{{.date}}</td></tr>
<tr><th>Time</th><td>{{.time}}</td></tr>
<tr><th>Reason</th><td>{{.reason}}</td></tr>
</table>
<p>Please arrive ten minutes early and bring this slip.</p>
</body>
</html>
`))

// RenderSlip renders the HTML confirmation slip attached to confirmation
// emails.
func RenderSlip(data map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := slipTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render confirmation slip: %w", err)
	}
	return buf.Bytes(), nil
}
